package tree

import (
	"unsafe"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

const (
	LeafLog2Dim = 3
	LeafDim     = 1 << LeafLog2Dim            // 8
	LeafSize    = LeafDim * LeafDim * LeafDim // 512
)

// LeafNode is a dense 8^3 block of voxels with a per-voxel active bit.
type LeafNode[V Value] struct {
	origin Coord
	mask   Mask512
	buf    leafBuffer[V]
	topo   bool // value mirrors the active bit (mask trees)
}

func newLeaf[V Value](origin Coord, v V, active, topo bool) *LeafNode[V] {
	if topo {
		v = fromBool[V](active)
	}
	leaf := &LeafNode[V]{origin: origin.AlignDown(LeafLog2Dim), topo: topo}
	leaf.buf.init(v)
	if active {
		leaf.mask.Fill(true)
	}
	return leaf
}

// LeafOffset returns the linear offset of c within its leaf: x-major,
// (x&7)<<6 | (y&7)<<3 | z&7.
func LeafOffset(c Coord) int {
	return int(c.X&(LeafDim-1))<<(2*LeafLog2Dim) | int(c.Y&(LeafDim-1))<<LeafLog2Dim | int(c.Z&(LeafDim-1))
}

// OffsetToCoord returns the global coordinate of the voxel at offset i.
func (l *LeafNode[V]) OffsetToCoord(i int) Coord {
	return l.origin.Offset(int32(i>>(2*LeafLog2Dim)), int32((i>>LeafLog2Dim)&(LeafDim-1)), int32(i&(LeafDim-1)))
}

func (l *LeafNode[V]) Origin() Coord { return l.origin }

func (l *LeafNode[V]) Level() int { return 0 }

func (l *LeafNode[V]) BBox() CoordBBox { return CreateCube(l.origin, LeafDim) }

func (l *LeafNode[V]) contains(c Coord) bool {
	return c.AlignDown(LeafLog2Dim) == l.origin
}

// ValueMask returns a copy of the active-state mask.
func (l *LeafNode[V]) ValueMask() Mask512 { return l.mask }

// SetValueMask replaces the active-state mask.
func (l *LeafNode[V]) SetValueMask(m Mask512) {
	l.mask = m
	if l.topo {
		l.syncTopology()
	}
}

// syncTopology rewrites the values of a mask leaf from its active bits.
func (l *LeafNode[V]) syncTopology() {
	vals := l.buf.values()
	on, off := fromBool[V](true), fromBool[V](false)
	for i := range vals {
		if l.mask.IsOn(i) {
			vals[i] = on
		} else {
			vals[i] = off
		}
	}
}

// IsOutOfCore returns true if the values have not been loaded yet.
func (l *LeafNode[V]) IsOutOfCore() bool { return l.buf.outOfCore() }

// Load materializes the values of an out-of-core leaf.
func (l *LeafNode[V]) Load() error { return l.buf.load() }

// Values returns the leaf's value array, loading it if necessary.  The slice
// aliases the leaf storage.
func (l *LeafNode[V]) Values() []V { return l.buf.values() }

// GetValue returns the value of the voxel at c, which must lie in this leaf.
func (l *LeafNode[V]) GetValue(c Coord) V { return l.buf.values()[LeafOffset(c)] }

// GetValueAt returns the value at linear offset i.
func (l *LeafNode[V]) GetValueAt(i int) V { return l.buf.values()[i] }

// IsValueOn returns the active state of the voxel at c.
func (l *LeafNode[V]) IsValueOn(c Coord) bool { return l.mask.IsOn(LeafOffset(c)) }

// IsValueOnAt returns the active state at linear offset i.
func (l *LeafNode[V]) IsValueOnAt(i int) bool { return l.mask.IsOn(i) }

// ProbeValue returns both value and active state at c.
func (l *LeafNode[V]) ProbeValue(c Coord) (V, bool) {
	i := LeafOffset(c)
	return l.buf.values()[i], l.mask.IsOn(i)
}

func (l *LeafNode[V]) apply(i int, op voxelOp[V]) {
	vals := l.buf.values()
	v, on := op(vals[i], l.mask.IsOn(i))
	if l.topo {
		v = fromBool[V](on)
	}
	vals[i] = v
	l.mask.Set(i, on)
}

// SetValueOn sets the value at c and marks it active.
func (l *LeafNode[V]) SetValueOn(c Coord, v V) {
	l.apply(LeafOffset(c), func(V, bool) (V, bool) { return v, true })
}

// SetValueOff marks the voxel at c inactive, keeping its value.
func (l *LeafNode[V]) SetValueOff(c Coord) {
	l.apply(LeafOffset(c), func(old V, _ bool) (V, bool) { return old, false })
}

// SetValueOnly changes the value at c without touching its active state.
// For mask leaves the value is the state, so both change.
func (l *LeafNode[V]) SetValueOnly(c Coord, v V) {
	i := LeafOffset(c)
	if l.topo {
		l.apply(i, func(V, bool) (V, bool) { return v, any(v).(bool) })
		return
	}
	l.buf.values()[i] = v
}

// SetActiveState sets the active state at c.
func (l *LeafNode[V]) SetActiveState(c Coord, on bool) {
	l.apply(LeafOffset(c), func(old V, _ bool) (V, bool) { return old, on })
}

// ModifyValue applies fn to the value at c and marks it active.
func (l *LeafNode[V]) ModifyValue(c Coord, fn func(*V)) {
	l.apply(LeafOffset(c), func(old V, _ bool) (V, bool) {
		fn(&old)
		return old, true
	})
}

// ModifyValueAndActiveState applies fn to the value and state at c.
func (l *LeafNode[V]) ModifyValueAndActiveState(c Coord, fn func(*V, *bool)) {
	l.apply(LeafOffset(c), func(old V, on bool) (V, bool) {
		fn(&old, &on)
		return old, on
	})
}

// SetValuesOn marks every voxel active.
func (l *LeafNode[V]) SetValuesOn() {
	l.SetValueMask(fullMask512)
}

// SetValuesOff marks every voxel inactive.
func (l *LeafNode[V]) SetValuesOff() {
	l.SetValueMask(Mask512{})
}

// Fill sets the value and state of every voxel of box within this leaf.
func (l *LeafNode[V]) Fill(box CoordBBox, v V, active bool) {
	l.fill(box, v, active, true)
}

func (l *LeafNode[V]) OnVoxelCount() int { return l.mask.CountOn() }

func (l *LeafNode[V]) OffVoxelCount() int { return l.mask.CountOff() }

// IsDense returns true if every voxel is active.
func (l *LeafNode[V]) IsDense() bool { return l.mask.IsFull() }

// IsEmpty returns true if no voxel is active.
func (l *LeafNode[V]) IsEmpty() bool { return l.mask.IsEmpty() }

// IsConstant returns the first value and the common active state if all
// voxels share an active state and lie within tol of the first value.
func (l *LeafNode[V]) IsConstant(tol V) (value V, active bool, ok bool) {
	return l.constant(tol)
}

// EvalActiveBoundingBox returns the exact bounds of the active voxels.
func (l *LeafNode[V]) EvalActiveBoundingBox() CoordBBox {
	b := EmptyBBox()
	l.evalActiveBBox(&b, true)
	return b
}

func (l *LeafNode[V]) MemUsage() uint64 { return l.memUsage(false) }

func (l *LeafNode[V]) MemUsageIfLoaded() uint64 { return l.memUsage(true) }

// ForEachOn calls fn for each active voxel in offset order until fn returns false.
func (l *LeafNode[V]) ForEachOn(fn func(c Coord, v V) bool) bool {
	vals := l.buf.values()
	for i := l.mask.FindFirstOn(); i < LeafSize; i = l.mask.FindNextOn(i + 1) {
		if !fn(l.OffsetToCoord(i), vals[i]) {
			return false
		}
	}
	return true
}

var fullMask512 = Mask512{^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0)}

// ---- node implementation ----

func (l *LeafNode[V]) getValue(c Coord, _ *Accessor[V]) V { return l.GetValue(c) }

func (l *LeafNode[V]) isValueOn(c Coord, _ *Accessor[V]) bool { return l.IsValueOn(c) }

func (l *LeafNode[V]) probeValue(c Coord, _ *Accessor[V]) (V, bool) { return l.ProbeValue(c) }

func (l *LeafNode[V]) valueLevel(Coord, *Accessor[V]) int { return 0 }

func (l *LeafNode[V]) modify(c Coord, op voxelOp[V], _ *Accessor[V]) {
	l.apply(LeafOffset(c), op)
}

func (l *LeafNode[V]) touchLeaf(Coord, *Accessor[V]) *LeafNode[V] { return l }

func (l *LeafNode[V]) probeLeaf(Coord, *Accessor[V]) *LeafNode[V] { return l }

func (l *LeafNode[V]) addTile(_ int, c Coord, v V, active bool, _ *Accessor[V]) bool {
	l.apply(LeafOffset(c), func(V, bool) (V, bool) { return v, active })
	return false
}

func (l *LeafNode[V]) insertLeaf(*LeafNode[V]) bool {
	vdb.Panicf("leaf %s cannot hold another leaf", l.origin)
	return false
}

func (l *LeafNode[V]) fill(box CoordBBox, v V, active, _ bool) bool {
	box = box.Intersect(l.BBox())
	if box.Empty() {
		return false
	}
	if l.topo {
		v = fromBool[V](active)
	}
	vals := l.buf.values()
	box.ForEach(func(c Coord) bool {
		i := LeafOffset(c)
		vals[i] = v
		l.mask.Set(i, active)
		return true
	})
	return false
}

func (l *LeafNode[V]) stats(s *Stats) {
	on := uint64(l.mask.CountOn())
	s.ActiveVoxels += on
	s.ActiveLeafVoxels += on
	s.InactiveVoxels += LeafSize - on
	s.InactiveLeafVoxels += LeafSize - on
	s.NodesPerLevel[0]++
}

func (l *LeafNode[V]) evalActiveBBox(b *CoordBBox, exact bool) {
	if l.mask.IsEmpty() {
		return
	}
	if !exact {
		b.ExpandCube(l.origin, LeafDim)
		return
	}
	for i := l.mask.FindFirstOn(); i < LeafSize; i = l.mask.FindNextOn(i + 1) {
		b.Expand(l.OffsetToCoord(i))
	}
}

func (l *LeafNode[V]) constant(tol V) (V, bool, bool) {
	var zero V
	active := l.mask.IsFull()
	if !active && !l.mask.IsEmpty() {
		return zero, false, false
	}
	vals := l.buf.values()
	first := vals[0]
	if l.topo {
		return first, active, true
	}
	for _, v := range vals[1:] {
		if !approxEqual(v, first, tol) {
			return zero, false, false
		}
	}
	return first, active, true
}

func (l *LeafNode[V]) inactive() bool { return l.mask.IsEmpty() }

func (l *LeafNode[V]) prune(V) bool { return false }

func (l *LeafNode[V]) pruneInactive(V) bool { return false }

func (l *LeafNode[V]) voxelizeActiveTiles() {}

func (l *LeafNode[V]) resetBackground(old, bg V) {
	vals := l.buf.values()
	for i := range vals {
		if !l.mask.IsOn(i) && vals[i] == old {
			vals[i] = bg
		}
	}
}

func (l *LeafNode[V]) memUsage(ifLoaded bool) uint64 {
	return uint64(unsafe.Sizeof(*l)) + l.buf.memUsage(ifLoaded)
}

func (l *LeafNode[V]) clone() node[V] {
	c := &LeafNode[V]{origin: l.origin, mask: l.mask, topo: l.topo}
	l.buf.copyTo(&c.buf)
	return c
}

func (l *LeafNode[V]) sameTopology(o node[V]) bool {
	ol, ok := o.(*LeafNode[V])
	return ok && ol.origin == l.origin && ol.mask == l.mask
}

func (l *LeafNode[V]) forEachLeaf(fn func(*LeafNode[V]) bool) bool { return fn(l) }

func (l *LeafNode[V]) forEachTile(bool, func(Tile[V]) bool) bool { return true }
