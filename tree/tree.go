// Package tree implements a sparse, hierarchical voxel tree: a root table of
// internal nodes that subdivide space down to dense 8^3 leaves, with constant
// regions stored as single tile values at any level.
package tree

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

// MaxTotalLog2 bounds the log2 extent of the root's children so that the
// voxel count of a single root tile, 2^(3*total), fits in a uint64.
const MaxTotalLog2 = 21

// Config describes the node hierarchy by the log2 side length of each node
// type from the highest internal node down to the leaf.
type Config struct {
	Log2Dims []uint `toml:"log2_dims"`
}

// DefaultConfig is the standard 5-4-3 hierarchy: 32^3 upper nodes, 16^3
// lower nodes and 8^3 leaves, so the root's children span 4096^3 voxels.
func DefaultConfig() Config {
	return Config{Log2Dims: []uint{5, 4, 3}}
}

// Validate checks the configuration before any tree is built.
func (c Config) Validate() error {
	n := len(c.Log2Dims)
	if n == 0 {
		return vdb.NewError(vdb.ValueError, "tree configuration needs at least a leaf level")
	}
	if c.Log2Dims[n-1] != LeafLog2Dim {
		return vdb.NewError(vdb.ValueError, "leaf log2 dimension must be %d, got %d", LeafLog2Dim, c.Log2Dims[n-1])
	}
	var total uint
	for i, d := range c.Log2Dims {
		if d == 0 || d > 10 {
			return vdb.NewError(vdb.ValueError, "log2 dimension %d at position %d out of range [1,10]", d, i)
		}
		total += d
	}
	if total > MaxTotalLog2 {
		return vdb.NewError(vdb.ValueError, "total log2 extent %d exceeds %d", total, MaxTotalLog2)
	}
	return nil
}

// Equal returns true if both configurations describe the same hierarchy.
func (c Config) Equal(o Config) bool {
	if len(c.Log2Dims) != len(o.Log2Dims) {
		return false
	}
	for i := range c.Log2Dims {
		if c.Log2Dims[i] != o.Log2Dims[i] {
			return false
		}
	}
	return true
}

func (c Config) String() string {
	return fmt.Sprintf("%v", c.Log2Dims)
}

// Tree is a sparse voxel tree of V values.  A Tree is not safe for
// concurrent mutation; concurrent reads of an unmutated tree are safe.
type Tree[V Value] struct {
	cfg  Config
	lay  *layout
	root rootNode[V]
	topo bool

	// generation changes whenever nodes are deleted so accessors can drop
	// cached node pointers.
	generation atomic.Uint64
}

// New returns an empty tree with the default configuration.
func New[V Value](background V) *Tree[V] {
	t, _ := NewWithConfig(background, DefaultConfig())
	return t
}

// NewWithConfig returns an empty tree with the given node hierarchy.
func NewWithConfig[V Value](background V, cfg Config) (*Tree[V], error) {
	return newTree(background, cfg, false)
}

// NewMaskTree returns a topology-only tree whose values mirror the active states.
func NewMaskTree() *Tree[bool] {
	t, _ := newTree(false, DefaultConfig(), true)
	return t
}

// NewMaskTreeWithConfig returns a topology-only tree with the given hierarchy.
func NewMaskTreeWithConfig(cfg Config) (*Tree[bool], error) {
	return newTree(false, cfg, true)
}

func newTree[V Value](background V, cfg Config, topo bool) (*Tree[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dims := make([]uint, len(cfg.Log2Dims))
	copy(dims, cfg.Log2Dims)
	cfg.Log2Dims = dims
	t := &Tree[V]{cfg: cfg, lay: newLayout(dims), topo: topo}
	t.root.init(t.lay, background, topo)
	return t, nil
}

// Config returns the node hierarchy.
func (t *Tree[V]) Config() Config { return t.cfg }

// IsMask returns true for topology-only trees.
func (t *Tree[V]) IsMask() bool { return t.topo }

// ValueType returns the serialized value type of the tree.
func (t *Tree[V]) ValueType() ValueType {
	if t.topo {
		return MaskType
	}
	return ValueTypeOf[V]()
}

// RootLevel returns the level of the root node, which is also the depth of
// leaf voxels as reported by GetValueDepth.  3 for the default configuration.
func (t *Tree[V]) RootLevel() int { return t.root.level() }

// TreeDepth returns the number of node levels including root and leaves.
func (t *Tree[V]) TreeDepth() int { return t.root.level() + 1 }

// LevelDim returns the side length in voxels of a tile or node at level.
func (t *Tree[V]) LevelDim(level int) int32 {
	if level == 0 {
		return 1
	}
	return int32(1) << t.lay.total[level-1]
}

// Generation returns a counter that changes whenever nodes are deleted.
func (t *Tree[V]) Generation() uint64 { return t.generation.Load() }

func (t *Tree[V]) bump(deleted bool) {
	if deleted {
		t.generation.Add(1)
	}
}

func (t *Tree[V]) Background() V { return t.root.background }

// SetBackground changes the background value.  If updateTiles is true, every
// inactive tile and voxel holding the old background takes the new one.
func (t *Tree[V]) SetBackground(bg V, updateTiles bool) {
	if t.topo {
		return
	}
	if updateTiles {
		t.root.resetBackground(bg)
	}
	t.root.background = bg
}

// Clear removes every node and tile.
func (t *Tree[V]) Clear() {
	t.root.table = make(map[Coord]*rootEntry[V])
	t.bump(true)
}

// Empty returns true if the tree has no nodes or tiles.
func (t *Tree[V]) Empty() bool { return len(t.root.table) == 0 }

func (t *Tree[V]) GetValue(c Coord) V { return t.root.getValue(c, nil) }

func (t *Tree[V]) IsValueOn(c Coord) bool { return t.root.isValueOn(c, nil) }

// ProbeValue returns the value and active state at c.
func (t *Tree[V]) ProbeValue(c Coord) (V, bool) { return t.root.probeValue(c, nil) }

// GetValueDepth returns -1 if c lies outside every root entry, 0 if it is
// resolved by a root tile, and otherwise the depth of the node resolving it,
// RootLevel() for leaf voxels.
func (t *Tree[V]) GetValueDepth(c Coord) int { return t.root.valueDepth(c, nil) }

func (t *Tree[V]) modify(c Coord, op voxelOp[V], acc *Accessor[V]) {
	t.root.modify(c, op, acc)
}

// SetValue sets the value at c and marks it active.
func (t *Tree[V]) SetValue(c Coord, v V) { t.SetValueOn(c, v) }

// SetValueOn sets the value at c and marks it active.
func (t *Tree[V]) SetValueOn(c Coord, v V) { t.modify(c, setOnOp(v), nil) }

// SetValueOff marks c inactive, keeping its value.
func (t *Tree[V]) SetValueOff(c Coord) { t.modify(c, setOffOp[V], nil) }

// SetValueOnly changes the value at c without changing its active state.
func (t *Tree[V]) SetValueOnly(c Coord, v V) { t.modify(c, t.setOnlyOp(v), nil) }

// SetActiveState sets the active state at c.
func (t *Tree[V]) SetActiveState(c Coord, on bool) { t.modify(c, stateOp[V](on), nil) }

// ModifyValue applies fn to the value at c and marks it active.
func (t *Tree[V]) ModifyValue(c Coord, fn func(*V)) { t.modify(c, modifyOp(fn), nil) }

// ModifyValueAndActiveState applies fn to the value and state at c.
func (t *Tree[V]) ModifyValueAndActiveState(c Coord, fn func(*V, *bool)) {
	t.modify(c, modifyStateOp(fn), nil)
}

func setOnOp[V Value](v V) voxelOp[V] {
	return func(V, bool) (V, bool) { return v, true }
}

func setOffOp[V Value](v V, _ bool) (V, bool) { return v, false }

func (t *Tree[V]) setOnlyOp(v V) voxelOp[V] {
	if t.topo {
		return func(V, bool) (V, bool) { return v, any(v).(bool) }
	}
	return func(_ V, on bool) (V, bool) { return v, on }
}

func stateOp[V Value](state bool) voxelOp[V] {
	return func(v V, _ bool) (V, bool) { return v, state }
}

func modifyOp[V Value](fn func(*V)) voxelOp[V] {
	return func(v V, _ bool) (V, bool) {
		fn(&v)
		return v, true
	}
}

func modifyStateOp[V Value](fn func(*V, *bool)) voxelOp[V] {
	return func(v V, on bool) (V, bool) {
		fn(&v, &on)
		return v, on
	}
}

// AddTile sets the tile at the given level containing c, replacing any
// subtree there.  Level 0 sets a single voxel; RootLevel() sets a root tile.
func (t *Tree[V]) AddTile(level int, c Coord, v V, active bool) error {
	if level < 0 || level > t.RootLevel() {
		return vdb.NewError(vdb.ValueError, "tile level %d out of range [0,%d]", level, t.RootLevel())
	}
	t.bump(t.root.addTile(level, c, v, active, nil))
	return nil
}

// TouchLeaf returns the leaf containing c, creating it and any missing
// ancestors from the tile values that covered it.
func (t *Tree[V]) TouchLeaf(c Coord) *LeafNode[V] { return t.root.touchLeaf(c, nil) }

// ProbeLeaf returns the leaf containing c or nil.
func (t *Tree[V]) ProbeLeaf(c Coord) *LeafNode[V] { return t.root.probeLeaf(c, nil) }

// InsertLeaf installs a leaf at origin with the given values and active
// mask, replacing any leaf or tile there.
func (t *Tree[V]) InsertLeaf(origin Coord, values []V, mask Mask512) error {
	if len(values) != LeafSize {
		return vdb.NewError(vdb.ValueError, "leaf needs %d values, got %d", LeafSize, len(values))
	}
	var zero V
	leaf := newLeaf(origin, zero, false, t.topo)
	copy(leaf.buf.data, values)
	leaf.SetValueMask(mask)
	t.bump(t.root.insertLeaf(leaf))
	return nil
}

// InsertDeferredLeaf installs a leaf whose values are read from src on first access.
func (t *Tree[V]) InsertDeferredLeaf(origin Coord, mask Mask512, src BufferSource, key []byte) {
	var zero V
	leaf := newLeaf(origin, zero, false, t.topo)
	leaf.mask = mask
	leaf.buf.setDeferred(src, key)
	t.bump(t.root.insertLeaf(leaf))
}

// Fill sets every voxel in box to v with the given state, using tiles where
// the box covers whole nodes.
func (t *Tree[V]) Fill(box CoordBBox, v V, active bool) {
	t.bump(t.root.fill(box, v, active, false))
}

// DenseFill is like Fill but always writes leaf voxels.
func (t *Tree[V]) DenseFill(box CoordBBox, v V, active bool) {
	t.bump(t.root.fill(box, v, active, true))
}

// Prune collapses every node whose values all lie within tol of each other
// and share an active state into a tile, and erases inactive background
// tiles from the root.
func (t *Tree[V]) Prune(tol V) {
	t.bump(t.root.prune(tol))
}

// PruneInactive replaces nodes without active values by inactive background tiles.
func (t *Tree[V]) PruneInactive() {
	t.bump(t.root.pruneInactive())
}

// VoxelizeActiveTiles replaces every active tile by leaves of active voxels.
func (t *Tree[V]) VoxelizeActiveTiles() {
	t.root.voxelizeActiveTiles()
}

// Copy returns a deep copy.  Out-of-core leaves stay out of core in the copy.
func (t *Tree[V]) Copy() *Tree[V] {
	c := &Tree[V]{cfg: t.cfg, lay: t.lay, topo: t.topo}
	c.root.copyFrom(&t.root)
	return c
}

// HasSameTopology returns true if both trees have identical node structure
// and active states.
func (t *Tree[V]) HasSameTopology(o *Tree[V]) bool {
	return t.cfg.Equal(o.cfg) && t.root.sameTopology(&o.root)
}

// Stats computes every aggregate in one traversal.
func (t *Tree[V]) Stats() Stats {
	s := Stats{NodesPerLevel: make([]uint64, t.RootLevel())}
	t.root.stats(&s)
	return s
}

func (t *Tree[V]) ActiveVoxelCount() uint64 { return t.Stats().ActiveVoxels }

func (t *Tree[V]) InactiveVoxelCount() uint64 { return t.Stats().InactiveVoxels }

func (t *Tree[V]) ActiveLeafVoxelCount() uint64 { return t.Stats().ActiveLeafVoxels }

func (t *Tree[V]) InactiveLeafVoxelCount() uint64 { return t.Stats().InactiveLeafVoxels }

func (t *Tree[V]) ActiveTileCount() uint64 { return t.Stats().ActiveTiles }

func (t *Tree[V]) LeafCount() uint64 { return t.Stats().Leaves() }

// NonLeafCount returns the number of root and internal nodes.
func (t *Tree[V]) NonLeafCount() uint64 {
	s := t.Stats()
	n := uint64(1)
	for _, c := range s.NodesPerLevel[1:] {
		n += c
	}
	return n
}

// NodeCount returns the number of nodes per level, leaves at 0 and the root last.
func (t *Tree[V]) NodeCount() []uint64 {
	return append(t.Stats().NodesPerLevel, 1)
}

// EvalActiveVoxelBoundingBox returns the exact bounds of all active voxels
// and tiles, or an empty box.
func (t *Tree[V]) EvalActiveVoxelBoundingBox() CoordBBox {
	b := EmptyBBox()
	t.root.evalActiveBBox(&b, true)
	return b
}

// EvalLeafBoundingBox returns the bounds of all active leaves and tiles,
// aligned to leaf boundaries, or an empty box.
func (t *Tree[V]) EvalLeafBoundingBox() CoordBBox {
	b := EmptyBBox()
	t.root.evalActiveBBox(&b, false)
	return b
}

// MemUsage estimates the bytes held by the tree.  Out-of-core leaves count
// only their placeholder.
func (t *Tree[V]) MemUsage() uint64 {
	return uint64(unsafe.Sizeof(*t)) + t.root.memUsage(false)
}

// MemUsageIfLoaded estimates the bytes the tree would hold with every leaf resident.
func (t *Tree[V]) MemUsageIfLoaded() uint64 {
	return uint64(unsafe.Sizeof(*t)) + t.root.memUsage(true)
}

// Leaves returns the leaves in deterministic order.
func (t *Tree[V]) Leaves() []*LeafNode[V] {
	var leaves []*LeafNode[V]
	t.root.forEachLeaf(func(l *LeafNode[V]) bool {
		leaves = append(leaves, l)
		return true
	})
	return leaves
}

// ForEachLeaf calls fn for each leaf in deterministic order until fn returns false.
func (t *Tree[V]) ForEachLeaf(fn func(*LeafNode[V]) bool) {
	t.root.forEachLeaf(fn)
}

// ForEachTile calls fn for each tile, or only active ones, until fn returns false.
func (t *Tree[V]) ForEachTile(activeOnly bool, fn func(Tile[V]) bool) {
	t.root.forEachTile(activeOnly, fn)
}

// ActiveTiles returns every active tile.
func (t *Tree[V]) ActiveTiles() []Tile[V] {
	var tiles []Tile[V]
	t.ForEachTile(true, func(tile Tile[V]) bool {
		tiles = append(tiles, tile)
		return true
	})
	return tiles
}

// ForEachActiveVoxel calls fn for every active leaf voxel until fn returns
// false.  Active tiles are not expanded.
func (t *Tree[V]) ForEachActiveVoxel(fn func(c Coord, v V) bool) {
	t.root.forEachLeaf(func(l *LeafNode[V]) bool {
		return l.ForEachOn(fn)
	})
}

// OutOfCoreLeafCount returns the number of leaves whose values are not resident.
func (t *Tree[V]) OutOfCoreLeafCount() int {
	n := 0
	t.root.forEachLeaf(func(l *LeafNode[V]) bool {
		if l.IsOutOfCore() {
			n++
		}
		return true
	})
	return n
}

// LoadAll reads every out-of-core leaf buffer in parallel, returning the
// first failure.
func (t *Tree[V]) LoadAll(ctx context.Context) error {
	timedLog := vdb.NewTimeLog()
	var pending []*LeafNode[V]
	t.root.forEachLeaf(func(l *LeafNode[V]) bool {
		if l.IsOutOfCore() {
			pending = append(pending, l)
		}
		return true
	})
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, l := range pending {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return l.Load()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	timedLog.Debugf("loaded %d leaf buffers, tree now %s", len(pending), humanize.Bytes(t.MemUsage()))
	return nil
}

func (t *Tree[V]) String() string {
	s := t.Stats()
	return fmt.Sprintf("Tree<%s>%s: %d leaves, %d active voxels, %d active tiles, %s",
		t.ValueType(), t.cfg, s.Leaves(), s.ActiveVoxels, s.ActiveTiles, humanize.Bytes(t.MemUsage()))
}
