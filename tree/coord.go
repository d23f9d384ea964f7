package tree

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Coord is a signed 3D integer index-space coordinate.
type Coord struct {
	X, Y, Z int32
}

// NewCoord returns the coordinate (x, y, z).
func NewCoord(x, y, z int32) Coord {
	return Coord{x, y, z}
}

// Splat returns a coordinate with all three components set to v.
func Splat(v int32) Coord {
	return Coord{v, v, v}
}

func (c Coord) String() string {
	return fmt.Sprintf("[%d, %d, %d]", c.X, c.Y, c.Z)
}

func (c Coord) Add(o Coord) Coord {
	return Coord{c.X + o.X, c.Y + o.Y, c.Z + o.Z}
}

func (c Coord) Sub(o Coord) Coord {
	return Coord{c.X - o.X, c.Y - o.Y, c.Z - o.Z}
}

// Offset returns the coordinate translated by (dx, dy, dz).
func (c Coord) Offset(dx, dy, dz int32) Coord {
	return Coord{c.X + dx, c.Y + dy, c.Z + dz}
}

// OffsetBy returns the coordinate translated by n along every axis.
func (c Coord) OffsetBy(n int32) Coord {
	return Coord{c.X + n, c.Y + n, c.Z + n}
}

// Scale multiplies each component by s.
func (c Coord) Scale(s int32) Coord {
	return Coord{c.X * s, c.Y * s, c.Z * s}
}

// And masks each component with m.
func (c Coord) And(m int32) Coord {
	return Coord{c.X & m, c.Y & m, c.Z & m}
}

// AlignDown returns the origin of the cube of side 1<<log2 that contains c.
func (c Coord) AlignDown(log2 uint) Coord {
	return c.And(^int32(0) << log2)
}

// Get returns component i (0=x, 1=y, 2=z).
func (c Coord) Get(i int) int32 {
	switch i {
	case 0:
		return c.X
	case 1:
		return c.Y
	default:
		return c.Z
	}
}

// Set sets component i (0=x, 1=y, 2=z).
func (c *Coord) Set(i int, v int32) {
	switch i {
	case 0:
		c.X = v
	case 1:
		c.Y = v
	default:
		c.Z = v
	}
}

// Less is lexicographic ordering on (x, y, z).
func (c Coord) Less(o Coord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.Z < o.Z
}

// LessEq returns true if c is lexicographically less than or equal to o.
func (c Coord) LessEq(o Coord) bool {
	return c == o || c.Less(o)
}

// Compare returns -1, 0 or +1 following lexicographic ordering.
func (c Coord) Compare(o Coord) int {
	switch {
	case c == o:
		return 0
	case c.Less(o):
		return -1
	default:
		return 1
	}
}

// MinCoord returns the componentwise minimum.
func MinCoord(a, b Coord) Coord {
	return Coord{min(a.X, b.X), min(a.Y, b.Y), min(a.Z, b.Z)}
}

// MaxCoord returns the componentwise maximum.
func MaxCoord(a, b Coord) Coord {
	return Coord{max(a.X, b.X), max(a.Y, b.Y), max(a.Z, b.Z)}
}

// MinComponent returns the smallest of the three components.
func (c Coord) MinComponent() int32 {
	return min(c.X, c.Y, c.Z)
}

// MaxComponent returns the largest of the three components.
func (c Coord) MaxComponent() int32 {
	return max(c.X, c.Y, c.Z)
}

// MaxIndex returns the axis of the largest component, preferring lower axes on ties.
func (c Coord) MaxIndex() int {
	i := 0
	if c.Y > c.Get(i) {
		i = 1
	}
	if c.Z > c.Get(i) {
		i = 2
	}
	return i
}

// WriteTo writes the coordinate as three little-endian int32.
func (c Coord) WriteTo(w io.Writer) (int64, error) {
	var buf [12]byte
	c.PutBytes(buf[:])
	n, err := w.Write(buf[:])
	return int64(n), err
}

// ReadFrom reads a coordinate written by WriteTo.
func (c *Coord) ReadFrom(r io.Reader) (int64, error) {
	var buf [12]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return int64(n), err
	}
	*c = CoordFromBytes(buf[:])
	return int64(n), nil
}

// PutBytes encodes the coordinate into the first 12 bytes of b.
func (c Coord) PutBytes(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(c.X))
	binary.LittleEndian.PutUint32(b[4:8], uint32(c.Y))
	binary.LittleEndian.PutUint32(b[8:12], uint32(c.Z))
}

// Bytes returns the 12 byte little-endian encoding of the coordinate.
func (c Coord) Bytes() []byte {
	b := make([]byte, 12)
	c.PutBytes(b)
	return b
}

// CoordFromBytes decodes a coordinate encoded by PutBytes.
func CoordFromBytes(b []byte) Coord {
	return Coord{
		int32(binary.LittleEndian.Uint32(b[0:4])),
		int32(binary.LittleEndian.Uint32(b[4:8])),
		int32(binary.LittleEndian.Uint32(b[8:12])),
	}
}

var (
	MinCoordValue = Splat(math.MinInt32)
	MaxCoordValue = Splat(math.MaxInt32)
)
