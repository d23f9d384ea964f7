package tree

import (
	"fmt"
	"math"
)

// CoordBBox is an axis-aligned box of coordinates with inclusive bounds.
type CoordBBox struct {
	Min, Max Coord
}

// NewBBox returns the box with the given inclusive corners.
func NewBBox(min, max Coord) CoordBBox {
	return CoordBBox{min, max}
}

// EmptyBBox returns a box with Min at the largest and Max at the smallest
// representable coordinate, so that expanding it by any coordinate yields that
// single coordinate.
func EmptyBBox() CoordBBox {
	return CoordBBox{MaxCoordValue, MinCoordValue}
}

// InfBBox returns the largest representable box.
func InfBBox() CoordBBox {
	return CoordBBox{MinCoordValue, MaxCoordValue}
}

// CreateCube returns the cube with the given minimum corner and side length.
func CreateCube(min Coord, dim int32) CoordBBox {
	return CoordBBox{min, min.OffsetBy(dim - 1)}
}

func (b CoordBBox) String() string {
	return fmt.Sprintf("%s -> %s", b.Min, b.Max)
}

// Empty returns true if any minimum component exceeds its maximum.
func (b CoordBBox) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// HasVolume returns true if the box contains at least one coordinate.
func (b CoordBBox) HasVolume() bool {
	return !b.Empty()
}

// Reset makes the box empty.
func (b *CoordBBox) Reset() {
	*b = EmptyBBox()
}

// Dim returns the number of coordinates along each axis.  Extents wider than
// int32 are clamped.
func (b CoordBBox) Dim() Coord {
	if b.Empty() {
		return Coord{}
	}
	d := func(lo, hi int32) int32 {
		v := int64(hi) - int64(lo) + 1
		if v > math.MaxInt32 {
			return math.MaxInt32
		}
		return int32(v)
	}
	return Coord{d(b.Min.X, b.Max.X), d(b.Min.Y, b.Max.Y), d(b.Min.Z, b.Max.Z)}
}

// extent returns the number of coordinates along each axis without overflow.
func (b CoordBBox) extent() [3]uint64 {
	return [3]uint64{
		uint64(int64(b.Max.X) - int64(b.Min.X) + 1),
		uint64(int64(b.Max.Y) - int64(b.Min.Y) + 1),
		uint64(int64(b.Max.Z) - int64(b.Min.Z) + 1),
	}
}

// Volume returns the number of coordinates in the box.  Empty boxes have
// zero volume.  Products exceeding 64 bits are not representable.
func (b CoordBBox) Volume() uint64 {
	if b.Empty() {
		return 0
	}
	e := b.extent()
	return e[0] * e[1] * e[2]
}

// MinExtent returns the axis with the smallest extent.
func (b CoordBBox) MinExtent() int {
	e := b.extent()
	i := 0
	if e[1] < e[i] {
		i = 1
	}
	if e[2] < e[i] {
		i = 2
	}
	return i
}

// MaxExtent returns the axis with the largest extent, preferring lower axes on ties.
func (b CoordBBox) MaxExtent() int {
	e := b.extent()
	i := 0
	if e[1] > e[i] {
		i = 1
	}
	if e[2] > e[i] {
		i = 2
	}
	return i
}

// Center returns the componentwise midpoint rounded toward Min.
func (b CoordBBox) Center() Coord {
	mid := func(lo, hi int32) int32 { return int32((int64(lo) + int64(hi)) >> 1) }
	return Coord{mid(b.Min.X, b.Max.X), mid(b.Min.Y, b.Max.Y), mid(b.Min.Z, b.Max.Z)}
}

// IsInside returns true if c lies within the box.
func (b CoordBBox) IsInside(c Coord) bool {
	return c.X >= b.Min.X && c.Y >= b.Min.Y && c.Z >= b.Min.Z &&
		c.X <= b.Max.X && c.Y <= b.Max.Y && c.Z <= b.Max.Z
}

// ContainsBBox returns true if o lies entirely within b.
func (b CoordBBox) ContainsBBox(o CoordBBox) bool {
	return b.IsInside(o.Min) && b.IsInside(o.Max)
}

// HasOverlap returns true if the boxes share at least one coordinate.
func (b CoordBBox) HasOverlap(o CoordBBox) bool {
	return b.Max.X >= o.Min.X && b.Min.X <= o.Max.X &&
		b.Max.Y >= o.Min.Y && b.Min.Y <= o.Max.Y &&
		b.Max.Z >= o.Min.Z && b.Min.Z <= o.Max.Z
}

// Intersect returns the overlap of two boxes, which may be empty.
func (b CoordBBox) Intersect(o CoordBBox) CoordBBox {
	return CoordBBox{MaxCoord(b.Min, o.Min), MinCoord(b.Max, o.Max)}
}

// Expand grows the box to include c.
func (b *CoordBBox) Expand(c Coord) {
	b.Min = MinCoord(b.Min, c)
	b.Max = MaxCoord(b.Max, c)
}

// ExpandBBox grows the box to include o.
func (b *CoordBBox) ExpandBBox(o CoordBBox) {
	if o.Empty() {
		return
	}
	b.Min = MinCoord(b.Min, o.Min)
	b.Max = MaxCoord(b.Max, o.Max)
}

// ExpandCube grows the box to include the cube at min with side dim.
func (b *CoordBBox) ExpandCube(min Coord, dim int32) {
	b.ExpandBBox(CreateCube(min, dim))
}

// ExpandBy pads the box by n on every side.
func (b *CoordBBox) ExpandBy(n int32) {
	b.Min = b.Min.OffsetBy(-n)
	b.Max = b.Max.OffsetBy(n)
}

// Translate shifts the box by t.
func (b *CoordBBox) Translate(t Coord) {
	b.Min = b.Min.Add(t)
	b.Max = b.Max.Add(t)
}

// MoveMin translates the box so that its minimum is at c.
func (b *CoordBBox) MoveMin(c Coord) {
	b.Translate(c.Sub(b.Min))
}

// MoveMax translates the box so that its maximum is at c.
func (b *CoordBBox) MoveMax(c Coord) {
	b.Translate(c.Sub(b.Max))
}

// Sort swaps components so that Min is componentwise not greater than Max.
func (b *CoordBBox) Sort() {
	lo, hi := MinCoord(b.Min, b.Max), MaxCoord(b.Min, b.Max)
	b.Min, b.Max = lo, hi
}

// Sorted returns a copy with Min and Max componentwise ordered.
func (b CoordBBox) Sorted() CoordBBox {
	b.Sort()
	return b
}

// IsDivisible returns true if the box spans more than one coordinate on some axis.
func (b CoordBBox) IsDivisible() bool {
	return !b.Empty() && (b.Min.X < b.Max.X || b.Min.Y < b.Max.Y || b.Min.Z < b.Max.Z)
}

// Split halves the box along its longest axis.  b keeps the lower half and the
// upper half is returned.  The second return is false when b cannot be divided.
func (b *CoordBBox) Split() (CoordBBox, bool) {
	if !b.IsDivisible() {
		return CoordBBox{}, false
	}
	axis := b.MaxExtent()
	mid := int32((int64(b.Min.Get(axis)) + int64(b.Max.Get(axis))) >> 1)
	upper := *b
	upper.Min.Set(axis, mid+1)
	b.Max.Set(axis, mid)
	return upper, true
}

// ForEach calls fn for every coordinate in the box in x-major order, stopping
// early if fn returns false.
func (b CoordBBox) ForEach(fn func(Coord) bool) {
	if b.Empty() {
		return
	}
	for x := int64(b.Min.X); x <= int64(b.Max.X); x++ {
		for y := int64(b.Min.Y); y <= int64(b.Max.Y); y++ {
			for z := int64(b.Min.Z); z <= int64(b.Max.Z); z++ {
				if !fn(Coord{int32(x), int32(y), int32(z)}) {
					return
				}
			}
		}
	}
}

// Corners returns the eight corner coordinates of the box.
func (b CoordBBox) Corners() [8]Coord {
	var out [8]Coord
	for i := 0; i < 8; i++ {
		c := b.Min
		if i&4 != 0 {
			c.X = b.Max.X
		}
		if i&2 != 0 {
			c.Y = b.Max.Y
		}
		if i&1 != 0 {
			c.Z = b.Max.Z
		}
		out[i] = c
	}
	return out
}
