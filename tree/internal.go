package tree

import (
	"unsafe"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

// layout describes the node hierarchy below the root.  Index is the node
// level: 0 for leaves up to the root's children.
type layout struct {
	log2  []uint // log2 of the node's side length in child slots
	total []uint // log2 of the node's side length in voxels
}

func newLayout(log2Dims []uint) *layout {
	n := len(log2Dims)
	lay := &layout{log2: make([]uint, n), total: make([]uint, n)}
	var sum uint
	for level := 0; level < n; level++ {
		d := log2Dims[n-1-level]
		sum += d
		lay.log2[level] = d
		lay.total[level] = sum
	}
	return lay
}

// topLevel returns the level of the root's children.
func (lay *layout) topLevel() int {
	return len(lay.log2) - 1
}

func newNodeAt[V Value](lay *layout, level int, origin Coord, v V, active, topo bool) node[V] {
	if level == 0 {
		return newLeaf(origin, v, active, topo)
	}
	return newInternal(lay, level, origin, v, active, topo)
}

// internalNode is a dense grid of slots, each holding either a child node or
// a tile value.  The child mask is the discriminant: children[i] is non-nil
// exactly when childMask bit i is on, and valueMask bit i is then off.
type internalNode[V Value] struct {
	org        Coord
	lvl        int
	log2Dim    uint
	childTotal uint
	lay        *layout
	topo       bool

	childMask Mask
	valueMask Mask
	tiles     []V
	children  []node[V] // allocated on first child
}

func newInternal[V Value](lay *layout, level int, origin Coord, v V, active, topo bool) *internalNode[V] {
	if topo {
		v = fromBool[V](active)
	}
	log2Dim := lay.log2[level]
	size := 1 << (3 * log2Dim)
	n := &internalNode[V]{
		org:        origin.AlignDown(lay.total[level]),
		lvl:        level,
		log2Dim:    log2Dim,
		childTotal: lay.total[level-1],
		lay:        lay,
		topo:       topo,
		childMask:  NewMask(size),
		valueMask:  NewMask(size),
		tiles:      make([]V, size),
	}
	for i := range n.tiles {
		n.tiles[i] = v
	}
	if active {
		n.valueMask.Fill(true)
	}
	return n
}

func (n *internalNode[V]) Origin() Coord { return n.org }

func (n *internalNode[V]) Level() int { return n.lvl }

func (n *internalNode[V]) dim() int32 { return int32(1) << (n.log2Dim + n.childTotal) }

func (n *internalNode[V]) BBox() CoordBBox { return CreateCube(n.org, n.dim()) }

func (n *internalNode[V]) contains(c Coord) bool {
	return c.AlignDown(n.log2Dim+n.childTotal) == n.org
}

func (n *internalNode[V]) numSlots() int { return len(n.tiles) }

// offset returns the slot holding c, x-major.
func (n *internalNode[V]) offset(c Coord) int {
	m := n.dim() - 1
	x := int((c.X & m) >> n.childTotal)
	y := int((c.Y & m) >> n.childTotal)
	z := int((c.Z & m) >> n.childTotal)
	return x<<(2*n.log2Dim) | y<<n.log2Dim | z
}

func (n *internalNode[V]) slotOrigin(i int) Coord {
	m := 1<<n.log2Dim - 1
	x := int32(i >> (2 * n.log2Dim))
	y := int32((i >> n.log2Dim) & m)
	z := int32(i & m)
	return n.org.Offset(x<<n.childTotal, y<<n.childTotal, z<<n.childTotal)
}

func (n *internalNode[V]) slotBBox(i int) CoordBBox {
	return CreateCube(n.slotOrigin(i), int32(1)<<n.childTotal)
}

func (n *internalNode[V]) isChild(i int) bool { return n.childMask.IsOn(i) }

func (n *internalNode[V]) child(i int) node[V] { return n.children[i] }

func (n *internalNode[V]) newChild(i int) node[V] {
	return newNodeAt(n.lay, n.lvl-1, n.slotOrigin(i), n.tiles[i], n.valueMask.IsOn(i), n.topo)
}

func (n *internalNode[V]) setChild(i int, ch node[V]) {
	if n.childMask.IsOn(i) {
		vdb.Panicf("slot %d of level %d node %s already holds a child", i, n.lvl, n.org)
	}
	if ch.Level() != n.lvl-1 || ch.Origin() != n.slotOrigin(i) {
		vdb.Panicf("level %d node at %s cannot fill slot %d of level %d node %s",
			ch.Level(), ch.Origin(), i, n.lvl, n.org)
	}
	if n.children == nil {
		n.children = make([]node[V], n.numSlots())
	}
	n.children[i] = ch
	n.childMask.SetOn(i)
	n.valueMask.SetOff(i)
}

// setTile turns slot i into a tile, returning true if a child was deleted.
func (n *internalNode[V]) setTile(i int, v V, active bool) bool {
	deleted := n.childMask.IsOn(i)
	if deleted {
		n.children[i] = nil
		n.childMask.SetOff(i)
	}
	if n.topo {
		v = fromBool[V](active)
	}
	n.tiles[i] = v
	n.valueMask.Set(i, active)
	return deleted
}

// childFor returns the child holding c, creating it from the tile if needed.
func (n *internalNode[V]) childFor(c Coord, acc *Accessor[V]) node[V] {
	i := n.offset(c)
	if !n.childMask.IsOn(i) {
		n.setChild(i, n.newChild(i))
	}
	ch := n.children[i]
	acc.insert(ch)
	return ch
}

func (n *internalNode[V]) nextChild(i int) int { return n.childMask.FindNextOn(i) }

// nextOccupied returns the next slot at or after i holding a child or an active tile.
func (n *internalNode[V]) nextOccupied(i int) int {
	return min(n.childMask.FindNextOn(i), n.valueMask.FindNextOn(i))
}

func (n *internalNode[V]) getValue(c Coord, acc *Accessor[V]) V {
	i := n.offset(c)
	if n.childMask.IsOn(i) {
		ch := n.children[i]
		acc.insert(ch)
		return ch.getValue(c, acc)
	}
	return n.tiles[i]
}

func (n *internalNode[V]) isValueOn(c Coord, acc *Accessor[V]) bool {
	i := n.offset(c)
	if n.childMask.IsOn(i) {
		ch := n.children[i]
		acc.insert(ch)
		return ch.isValueOn(c, acc)
	}
	return n.valueMask.IsOn(i)
}

func (n *internalNode[V]) probeValue(c Coord, acc *Accessor[V]) (V, bool) {
	i := n.offset(c)
	if n.childMask.IsOn(i) {
		ch := n.children[i]
		acc.insert(ch)
		return ch.probeValue(c, acc)
	}
	return n.tiles[i], n.valueMask.IsOn(i)
}

func (n *internalNode[V]) valueLevel(c Coord, acc *Accessor[V]) int {
	i := n.offset(c)
	if n.childMask.IsOn(i) {
		ch := n.children[i]
		acc.insert(ch)
		return ch.valueLevel(c, acc)
	}
	return n.lvl
}

func (n *internalNode[V]) modify(c Coord, op voxelOp[V], acc *Accessor[V]) {
	i := n.offset(c)
	if !n.childMask.IsOn(i) {
		v, on := n.tiles[i], n.valueMask.IsOn(i)
		nv, non := op(v, on)
		if n.topo {
			nv = fromBool[V](non)
		}
		if nv == v && non == on {
			return
		}
		n.setChild(i, n.newChild(i))
	}
	ch := n.children[i]
	acc.insert(ch)
	ch.modify(c, op, acc)
}

func (n *internalNode[V]) touchLeaf(c Coord, acc *Accessor[V]) *LeafNode[V] {
	return n.childFor(c, acc).touchLeaf(c, acc)
}

func (n *internalNode[V]) probeLeaf(c Coord, acc *Accessor[V]) *LeafNode[V] {
	i := n.offset(c)
	if !n.childMask.IsOn(i) {
		return nil
	}
	ch := n.children[i]
	acc.insert(ch)
	return ch.probeLeaf(c, acc)
}

func (n *internalNode[V]) addTile(level int, c Coord, v V, active bool, acc *Accessor[V]) bool {
	if level == n.lvl {
		return n.setTile(n.offset(c), v, active)
	}
	return n.childFor(c, acc).addTile(level, c, v, active, acc)
}

func (n *internalNode[V]) insertLeaf(leaf *LeafNode[V]) bool {
	i := n.offset(leaf.origin)
	if n.lvl == 1 {
		deleted := n.setTile(i, n.tiles[i], false)
		n.setChild(i, leaf)
		return deleted
	}
	return n.childFor(leaf.origin, nil).insertLeaf(leaf)
}

// forSlotsIn calls fn for every slot overlapping box, which must lie within the node.
func (n *internalNode[V]) forSlotsIn(box CoordBBox, fn func(i int)) {
	lo := box.Min.Sub(n.org)
	hi := box.Max.Sub(n.org)
	s := n.childTotal
	for x := lo.X >> s; x <= hi.X>>s; x++ {
		for y := lo.Y >> s; y <= hi.Y>>s; y++ {
			for z := lo.Z >> s; z <= hi.Z>>s; z++ {
				fn(int(x)<<(2*n.log2Dim) | int(y)<<n.log2Dim | int(z))
			}
		}
	}
}

func (n *internalNode[V]) fill(box CoordBBox, v V, active, dense bool) bool {
	clip := box.Intersect(n.BBox())
	if clip.Empty() {
		return false
	}
	if n.topo {
		v = fromBool[V](active)
	}
	deleted := false
	n.forSlotsIn(clip, func(i int) {
		sb := n.slotBBox(i)
		if !n.childMask.IsOn(i) {
			if !dense && clip.ContainsBBox(sb) {
				n.setTile(i, v, active)
				return
			}
			if n.tiles[i] == v && n.valueMask.IsOn(i) == active && !dense {
				return
			}
			n.setChild(i, n.newChild(i))
		} else if !dense && clip.ContainsBBox(sb) {
			deleted = n.setTile(i, v, active) || deleted
			return
		}
		if n.children[i].fill(clip, v, active, dense) {
			deleted = true
		}
	})
	return deleted
}

func (n *internalNode[V]) stats(s *Stats) {
	s.NodesPerLevel[n.lvl]++
	tileVol := uint64(1) << (3 * n.childTotal)
	numChildren := uint64(n.childMask.CountOn())
	activeTiles := uint64(n.valueMask.CountOn())
	inactiveTiles := uint64(n.numSlots()) - numChildren - activeTiles
	s.ActiveTiles += activeTiles
	s.InactiveTiles += inactiveTiles
	s.ActiveVoxels += activeTiles * tileVol
	s.InactiveVoxels += inactiveTiles * tileVol
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		n.children[i].stats(s)
	}
}

func (n *internalNode[V]) evalActiveBBox(b *CoordBBox, exact bool) {
	for i := n.valueMask.FindNextOn(0); i < n.numSlots(); i = n.valueMask.FindNextOn(i + 1) {
		b.ExpandBBox(n.slotBBox(i))
	}
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		n.children[i].evalActiveBBox(b, exact)
	}
}

func (n *internalNode[V]) constant(tol V) (V, bool, bool) {
	var zero V
	if !n.childMask.IsEmpty() {
		return zero, false, false
	}
	active := n.valueMask.IsFull()
	if !active && !n.valueMask.IsEmpty() {
		return zero, false, false
	}
	first := n.tiles[0]
	for _, v := range n.tiles[1:] {
		if !approxEqual(v, first, tol) {
			return zero, false, false
		}
	}
	return first, active, true
}

func (n *internalNode[V]) inactive() bool {
	return n.childMask.IsEmpty() && n.valueMask.IsEmpty()
}

func (n *internalNode[V]) prune(tol V) bool {
	deleted := false
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		ch := n.children[i]
		if ch.prune(tol) {
			deleted = true
		}
		if v, on, ok := ch.constant(tol); ok {
			n.setTile(i, v, on)
			deleted = true
		}
	}
	return deleted
}

func (n *internalNode[V]) pruneInactive(bg V) bool {
	deleted := false
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		ch := n.children[i]
		if ch.pruneInactive(bg) {
			deleted = true
		}
		if ch.inactive() {
			n.setTile(i, bg, false)
			deleted = true
		}
	}
	return deleted
}

func (n *internalNode[V]) voxelizeActiveTiles() {
	for i := n.valueMask.FindNextOn(0); i < n.numSlots(); i = n.valueMask.FindNextOn(i + 1) {
		n.setChild(i, n.newChild(i))
	}
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		n.children[i].voxelizeActiveTiles()
	}
}

func (n *internalNode[V]) resetBackground(old, bg V) {
	for i := range n.tiles {
		if !n.childMask.IsOn(i) && !n.valueMask.IsOn(i) && n.tiles[i] == old {
			n.tiles[i] = bg
		}
	}
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		n.children[i].resetBackground(old, bg)
	}
}

func (n *internalNode[V]) memUsage(ifLoaded bool) uint64 {
	mem := uint64(unsafe.Sizeof(*n))
	mem += uint64(len(n.tiles)) * uint64(sizeOfValue[V]())
	mem += uint64(len(n.childMask.words)+len(n.valueMask.words)) * 8
	if n.children != nil {
		mem += uint64(len(n.children)) * uint64(unsafe.Sizeof(node[V](nil)))
	}
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		mem += n.children[i].memUsage(ifLoaded)
	}
	return mem
}

func (n *internalNode[V]) clone() node[V] {
	c := &internalNode[V]{
		org:        n.org,
		lvl:        n.lvl,
		log2Dim:    n.log2Dim,
		childTotal: n.childTotal,
		lay:        n.lay,
		topo:       n.topo,
		childMask:  n.childMask.Clone(),
		valueMask:  n.valueMask.Clone(),
		tiles:      make([]V, len(n.tiles)),
	}
	copy(c.tiles, n.tiles)
	if n.children != nil {
		c.children = make([]node[V], len(n.children))
		for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
			c.children[i] = n.children[i].clone()
		}
	}
	return c
}

func (n *internalNode[V]) sameTopology(o node[V]) bool {
	on, ok := o.(*internalNode[V])
	if !ok || on.org != n.org || on.lvl != n.lvl || on.log2Dim != n.log2Dim {
		return false
	}
	if !n.childMask.Equal(&on.childMask) || !n.valueMask.Equal(&on.valueMask) {
		return false
	}
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		if !n.children[i].sameTopology(on.children[i]) {
			return false
		}
	}
	return true
}

func (n *internalNode[V]) forEachLeaf(fn func(*LeafNode[V]) bool) bool {
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		if !n.children[i].forEachLeaf(fn) {
			return false
		}
	}
	return true
}

func (n *internalNode[V]) forEachTile(activeOnly bool, fn func(Tile[V]) bool) bool {
	next := func(i int) int { return i }
	if activeOnly {
		next = n.nextOccupied
	}
	for i := next(0); i < n.numSlots(); i = next(i + 1) {
		if n.childMask.IsOn(i) {
			if !n.children[i].forEachTile(activeOnly, fn) {
				return false
			}
			continue
		}
		on := n.valueMask.IsOn(i)
		if activeOnly && !on {
			continue
		}
		if !fn(Tile[V]{BBox: n.slotBBox(i), Level: n.lvl, Value: n.tiles[i], Active: on}) {
			return false
		}
	}
	return true
}
