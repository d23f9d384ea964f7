package tree

import "sync"

// Accessor caches the most recently visited node at each level below the
// root so that lookups near the previous one skip the upper levels.  An
// Accessor returned by NewAccessor must not be shared between goroutines;
// independent accessors may read an unmutated tree concurrently.
type Accessor[V Value] struct {
	tree  *Tree[V]
	gen   uint64
	cache []node[V] // indexed by level
	mu    *sync.Mutex
}

// NewAccessor returns an accessor for single-goroutine use.
func NewAccessor[V Value](t *Tree[V]) *Accessor[V] {
	return &Accessor[V]{
		tree:  t,
		gen:   t.Generation(),
		cache: make([]node[V], t.RootLevel()),
	}
}

// NewAccessorRW returns an accessor whose calls are serialized by a mutex so
// it can be shared between goroutines.
func NewAccessorRW[V Value](t *Tree[V]) *Accessor[V] {
	a := NewAccessor(t)
	a.mu = new(sync.Mutex)
	return a
}

// Tree returns the tree this accessor reads.
func (a *Accessor[V]) Tree() *Tree[V] { return a.tree }

// IsSafe returns true if the accessor serializes concurrent calls.
func (a *Accessor[V]) IsSafe() bool { return a.mu != nil }

func (a *Accessor[V]) lock() {
	if a.mu != nil {
		a.mu.Lock()
	}
}

func (a *Accessor[V]) unlock() {
	if a.mu != nil {
		a.mu.Unlock()
	}
}

func (a *Accessor[V]) insert(n node[V]) {
	if a == nil {
		return
	}
	a.cache[n.Level()] = n
}

func (a *Accessor[V]) clearCache() {
	for i := range a.cache {
		a.cache[i] = nil
	}
}

// validate drops the cache if nodes were deleted since it was filled.
func (a *Accessor[V]) validate() {
	if g := a.tree.Generation(); g != a.gen {
		a.clearCache()
		a.gen = g
	}
}

// lookup returns the deepest cached node containing c.
func (a *Accessor[V]) lookup(c Coord) node[V] {
	return a.lookupFrom(c, 0)
}

// lookupFrom returns the deepest cached node at or above minLevel containing c.
func (a *Accessor[V]) lookupFrom(c Coord, minLevel int) node[V] {
	a.validate()
	for _, n := range a.cache[minLevel:] {
		if n != nil && n.contains(c) {
			return n
		}
	}
	return nil
}

// Clear empties the cache.
func (a *Accessor[V]) Clear() {
	a.lock()
	defer a.unlock()
	a.clearCache()
}

// IsCached returns true if c lies within a cached node.
func (a *Accessor[V]) IsCached(c Coord) bool {
	a.lock()
	defer a.unlock()
	return a.lookup(c) != nil
}

// CachedLeaf returns the cached leaf or nil.
func (a *Accessor[V]) CachedLeaf() *LeafNode[V] {
	a.lock()
	defer a.unlock()
	a.validate()
	if l, ok := a.cache[0].(*LeafNode[V]); ok {
		return l
	}
	return nil
}

func (a *Accessor[V]) GetValue(c Coord) V {
	a.lock()
	defer a.unlock()
	if n := a.lookup(c); n != nil {
		return n.getValue(c, a)
	}
	return a.tree.root.getValue(c, a)
}

func (a *Accessor[V]) IsValueOn(c Coord) bool {
	a.lock()
	defer a.unlock()
	if n := a.lookup(c); n != nil {
		return n.isValueOn(c, a)
	}
	return a.tree.root.isValueOn(c, a)
}

func (a *Accessor[V]) ProbeValue(c Coord) (V, bool) {
	a.lock()
	defer a.unlock()
	if n := a.lookup(c); n != nil {
		return n.probeValue(c, a)
	}
	return a.tree.root.probeValue(c, a)
}

// GetValueDepth follows the Tree.GetValueDepth conventions.
func (a *Accessor[V]) GetValueDepth(c Coord) int {
	a.lock()
	defer a.unlock()
	if n := a.lookup(c); n != nil {
		return a.tree.RootLevel() - n.valueLevel(c, a)
	}
	return a.tree.root.valueDepth(c, a)
}

// IsVoxel returns true if c is resolved by a leaf voxel.
func (a *Accessor[V]) IsVoxel(c Coord) bool {
	return a.GetValueDepth(c) == a.tree.RootLevel()
}

func (a *Accessor[V]) modify(c Coord, op voxelOp[V]) {
	a.lock()
	defer a.unlock()
	if n := a.lookup(c); n != nil {
		n.modify(c, op, a)
		return
	}
	a.tree.root.modify(c, op, a)
}

func (a *Accessor[V]) SetValue(c Coord, v V) { a.modify(c, setOnOp(v)) }

func (a *Accessor[V]) SetValueOn(c Coord, v V) { a.modify(c, setOnOp(v)) }

func (a *Accessor[V]) SetValueOff(c Coord) { a.modify(c, setOffOp[V]) }

func (a *Accessor[V]) SetValueOnly(c Coord, v V) { a.modify(c, a.tree.setOnlyOp(v)) }

func (a *Accessor[V]) SetActiveState(c Coord, on bool) { a.modify(c, stateOp[V](on)) }

func (a *Accessor[V]) ModifyValue(c Coord, fn func(*V)) { a.modify(c, modifyOp(fn)) }

func (a *Accessor[V]) ModifyValueAndActiveState(c Coord, fn func(*V, *bool)) {
	a.modify(c, modifyStateOp(fn))
}

// TouchLeaf returns the leaf containing c, creating it if needed.
func (a *Accessor[V]) TouchLeaf(c Coord) *LeafNode[V] {
	a.lock()
	defer a.unlock()
	if n := a.lookup(c); n != nil {
		return n.touchLeaf(c, a)
	}
	return a.tree.root.touchLeaf(c, a)
}

// ProbeLeaf returns the leaf containing c or nil.
func (a *Accessor[V]) ProbeLeaf(c Coord) *LeafNode[V] {
	a.lock()
	defer a.unlock()
	if n := a.lookup(c); n != nil {
		return n.probeLeaf(c, a)
	}
	return a.tree.root.probeLeaf(c, a)
}

// AddTile is Tree.AddTile through the accessor's cache.
func (a *Accessor[V]) AddTile(level int, c Coord, v V, active bool) error {
	a.lock()
	defer a.unlock()
	if level < 0 || level > a.tree.RootLevel() {
		return a.tree.AddTile(level, c, v, active)
	}
	var deleted bool
	if level == a.tree.RootLevel() {
		deleted = a.tree.root.addTile(level, c, v, active, a)
	} else if n := a.lookupFrom(c, level); n != nil {
		deleted = n.addTile(level, c, v, active, a)
	} else {
		deleted = a.tree.root.addTile(level, c, v, active, a)
	}
	a.tree.bump(deleted)
	return nil
}

// EraseLeaf replaces the leaf containing c by an inactive background tile
// and returns true if there was a leaf.
func (a *Accessor[V]) EraseLeaf(c Coord) bool {
	a.lock()
	defer a.unlock()
	var leaf *LeafNode[V]
	if n := a.lookup(c); n != nil {
		leaf = n.probeLeaf(c, a)
	} else {
		leaf = a.tree.root.probeLeaf(c, a)
	}
	if leaf == nil {
		return false
	}
	a.tree.bump(a.tree.root.addTile(1, c, a.tree.root.background, false, nil))
	return true
}
