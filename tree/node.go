package tree

// voxelOp maps a voxel's value and active state to new ones.
type voxelOp[V Value] func(v V, on bool) (V, bool)

// Tile is a single value standing in for every voxel of a region of
// 8^3, 128^3 or 4096^3 voxels (for the default configuration) at the given
// level: 1 for tiles held by the lowest internal node, up to the root level.
type Tile[V Value] struct {
	BBox   CoordBBox
	Level  int
	Value  V
	Active bool
}

// Stats accumulates the aggregates of a subtree.
type Stats struct {
	ActiveVoxels       uint64
	InactiveVoxels     uint64
	ActiveLeafVoxels   uint64
	InactiveLeafVoxels uint64
	ActiveTiles        uint64
	InactiveTiles      uint64

	// NodesPerLevel counts nodes below the root indexed by level, leaves at 0.
	NodesPerLevel []uint64
}

// Leaves returns the number of leaf nodes.
func (s Stats) Leaves() uint64 {
	if len(s.NodesPerLevel) == 0 {
		return 0
	}
	return s.NodesPerLevel[0]
}

// node is implemented by leaf and internal nodes.  Methods taking an
// accessor record every node visited below the receiver so later lookups can
// start there; acc may be nil.
type node[V Value] interface {
	Origin() Coord
	Level() int
	BBox() CoordBBox
	contains(c Coord) bool

	getValue(c Coord, acc *Accessor[V]) V
	isValueOn(c Coord, acc *Accessor[V]) bool
	probeValue(c Coord, acc *Accessor[V]) (V, bool)
	valueLevel(c Coord, acc *Accessor[V]) int
	modify(c Coord, op voxelOp[V], acc *Accessor[V])
	touchLeaf(c Coord, acc *Accessor[V]) *LeafNode[V]
	probeLeaf(c Coord, acc *Accessor[V]) *LeafNode[V]

	// addTile and fill return true if any node was deleted.
	addTile(level int, c Coord, v V, active bool, acc *Accessor[V]) bool
	fill(box CoordBBox, v V, active, dense bool) bool
	insertLeaf(leaf *LeafNode[V]) bool

	stats(s *Stats)
	evalActiveBBox(b *CoordBBox, exact bool)
	constant(tol V) (value V, active bool, ok bool)
	inactive() bool

	// prune and pruneInactive return true if any node was deleted.
	prune(tol V) bool
	pruneInactive(bg V) bool
	voxelizeActiveTiles()
	resetBackground(old, bg V)

	memUsage(ifLoaded bool) uint64
	clone() node[V]
	sameTopology(o node[V]) bool
	forEachLeaf(fn func(*LeafNode[V]) bool) bool
	forEachTile(activeOnly bool, fn func(Tile[V]) bool) bool
}
