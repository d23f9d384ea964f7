package tree

import (
	"slices"
	"unsafe"
)

// rootEntry is either a child node or a tile covering one root-level cell.
type rootEntry[V Value] struct {
	child  node[V]
	tile   V
	active bool
}

// rootNode maps cell origins, aligned to the extent of the root's children,
// to entries.  Coordinates without an entry take the background value and
// are inactive.
type rootNode[V Value] struct {
	background V
	table      map[Coord]*rootEntry[V]
	lay        *layout
	topo       bool
}

func (r *rootNode[V]) init(lay *layout, bg V, topo bool) {
	r.background = bg
	r.table = make(map[Coord]*rootEntry[V])
	r.lay = lay
	r.topo = topo
}

func (r *rootNode[V]) level() int { return r.lay.topLevel() + 1 }

func (r *rootNode[V]) childTotal() uint { return r.lay.total[r.lay.topLevel()] }

func (r *rootNode[V]) key(c Coord) Coord { return c.AlignDown(r.childTotal()) }

func (r *rootNode[V]) cellBBox(key Coord) CoordBBox {
	return CreateCube(key, int32(1)<<r.childTotal())
}

// sortedKeys returns the table keys in lexicographic order.
func (r *rootNode[V]) sortedKeys() []Coord {
	keys := make([]Coord, 0, len(r.table))
	for k := range r.table {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, Coord.Compare)
	return keys
}

func (r *rootNode[V]) newChild(key Coord, v V, active bool) node[V] {
	return newNodeAt(r.lay, r.lay.topLevel(), key, v, active, r.topo)
}

// childFor returns the child holding c, creating it from the tile or
// background if needed.
func (r *rootNode[V]) childFor(c Coord, acc *Accessor[V]) node[V] {
	k := r.key(c)
	e := r.table[k]
	switch {
	case e == nil:
		e = &rootEntry[V]{child: r.newChild(k, r.background, false)}
		r.table[k] = e
	case e.child == nil:
		e.child = r.newChild(k, e.tile, e.active)
	}
	acc.insert(e.child)
	return e.child
}

func (r *rootNode[V]) getValue(c Coord, acc *Accessor[V]) V {
	e := r.table[r.key(c)]
	switch {
	case e == nil:
		return r.background
	case e.child != nil:
		acc.insert(e.child)
		return e.child.getValue(c, acc)
	}
	return e.tile
}

func (r *rootNode[V]) isValueOn(c Coord, acc *Accessor[V]) bool {
	e := r.table[r.key(c)]
	switch {
	case e == nil:
		return false
	case e.child != nil:
		acc.insert(e.child)
		return e.child.isValueOn(c, acc)
	}
	return e.active
}

func (r *rootNode[V]) probeValue(c Coord, acc *Accessor[V]) (V, bool) {
	e := r.table[r.key(c)]
	switch {
	case e == nil:
		return r.background, false
	case e.child != nil:
		acc.insert(e.child)
		return e.child.probeValue(c, acc)
	}
	return e.tile, e.active
}

// valueDepth returns -1 for background, 0 for a root tile and otherwise the
// depth of the node resolving c, with voxels at level() depth.
func (r *rootNode[V]) valueDepth(c Coord, acc *Accessor[V]) int {
	e := r.table[r.key(c)]
	switch {
	case e == nil:
		return -1
	case e.child != nil:
		acc.insert(e.child)
		return r.level() - e.child.valueLevel(c, acc)
	}
	return 0
}

func (r *rootNode[V]) modify(c Coord, op voxelOp[V], acc *Accessor[V]) {
	k := r.key(c)
	e := r.table[k]
	if e == nil || e.child == nil {
		v, on := r.background, false
		if e != nil {
			v, on = e.tile, e.active
		}
		nv, non := op(v, on)
		if r.topo {
			nv = fromBool[V](non)
		}
		if nv == v && non == on {
			return
		}
	}
	r.childFor(c, acc).modify(c, op, acc)
}

func (r *rootNode[V]) touchLeaf(c Coord, acc *Accessor[V]) *LeafNode[V] {
	return r.childFor(c, acc).touchLeaf(c, acc)
}

func (r *rootNode[V]) probeLeaf(c Coord, acc *Accessor[V]) *LeafNode[V] {
	e := r.table[r.key(c)]
	if e == nil || e.child == nil {
		return nil
	}
	acc.insert(e.child)
	return e.child.probeLeaf(c, acc)
}

// setTile makes the cell holding c a tile, returning true if a child was deleted.
func (r *rootNode[V]) setTile(c Coord, v V, active bool) bool {
	if r.topo {
		v = fromBool[V](active)
	}
	k := r.key(c)
	e := r.table[k]
	if e == nil {
		r.table[k] = &rootEntry[V]{tile: v, active: active}
		return false
	}
	deleted := e.child != nil
	*e = rootEntry[V]{tile: v, active: active}
	return deleted
}

func (r *rootNode[V]) addTile(level int, c Coord, v V, active bool, acc *Accessor[V]) bool {
	if level == r.level() {
		return r.setTile(c, v, active)
	}
	return r.childFor(c, acc).addTile(level, c, v, active, acc)
}

func (r *rootNode[V]) insertLeaf(leaf *LeafNode[V]) bool {
	ch := r.childFor(leaf.origin, nil)
	if ch.Level() == 0 {
		r.table[r.key(leaf.origin)].child = leaf
		return true
	}
	return ch.insertLeaf(leaf)
}

func (r *rootNode[V]) fill(box CoordBBox, v V, active, dense bool) bool {
	if box.Empty() {
		return false
	}
	if r.topo {
		v = fromBool[V](active)
	}
	s := r.childTotal()
	lo, hi := r.key(box.Min), r.key(box.Max)
	step := int64(1) << s
	deleted := false
	for x := int64(lo.X); x <= int64(hi.X); x += step {
		for y := int64(lo.Y); y <= int64(hi.Y); y += step {
			for z := int64(lo.Z); z <= int64(hi.Z); z += step {
				k := Coord{int32(x), int32(y), int32(z)}
				cell := r.cellBBox(k)
				e := r.table[k]
				if !dense && box.ContainsBBox(cell) {
					deleted = r.setTile(k, v, active) || deleted
					continue
				}
				if !dense && (e == nil || e.child == nil) {
					tv, ton := r.background, false
					if e != nil {
						tv, ton = e.tile, e.active
					}
					if tv == v && ton == active {
						continue
					}
				}
				if r.childFor(k, nil).fill(box, v, active, dense) {
					deleted = true
				}
			}
		}
	}
	return deleted
}

func (r *rootNode[V]) stats(s *Stats) {
	vol := uint64(1) << (3 * r.childTotal())
	for _, e := range r.table {
		switch {
		case e.child != nil:
			e.child.stats(s)
		case e.active:
			s.ActiveTiles++
			s.ActiveVoxels += vol
		default:
			s.InactiveTiles++
			s.InactiveVoxels += vol
		}
	}
}

func (r *rootNode[V]) evalActiveBBox(b *CoordBBox, exact bool) {
	for k, e := range r.table {
		if e.child != nil {
			e.child.evalActiveBBox(b, exact)
		} else if e.active {
			b.ExpandBBox(r.cellBBox(k))
		}
	}
}

// eraseBackgroundTiles removes inactive tiles holding the background value.
func (r *rootNode[V]) eraseBackgroundTiles() bool {
	erased := false
	for k, e := range r.table {
		if e.child == nil && !e.active && e.tile == r.background {
			delete(r.table, k)
			erased = true
		}
	}
	return erased
}

func (r *rootNode[V]) prune(tol V) bool {
	deleted := false
	for _, e := range r.table {
		if e.child == nil {
			continue
		}
		if e.child.prune(tol) {
			deleted = true
		}
		if v, on, ok := e.child.constant(tol); ok {
			*e = rootEntry[V]{tile: v, active: on}
			deleted = true
		}
	}
	return r.eraseBackgroundTiles() || deleted
}

func (r *rootNode[V]) pruneInactive() bool {
	deleted := false
	for k, e := range r.table {
		if e.child == nil {
			continue
		}
		if e.child.pruneInactive(r.background) {
			deleted = true
		}
		if e.child.inactive() {
			delete(r.table, k)
			deleted = true
		}
	}
	return r.eraseBackgroundTiles() || deleted
}

func (r *rootNode[V]) voxelizeActiveTiles() {
	for k, e := range r.table {
		if e.child == nil && e.active {
			e.child = r.newChild(k, e.tile, true)
		}
		if e.child != nil {
			e.child.voxelizeActiveTiles()
		}
	}
}

func (r *rootNode[V]) resetBackground(bg V) {
	old := r.background
	for _, e := range r.table {
		if e.child != nil {
			e.child.resetBackground(old, bg)
		} else if !e.active && e.tile == old {
			e.tile = bg
		}
	}
}

func (r *rootNode[V]) memUsage(ifLoaded bool) uint64 {
	mem := uint64(unsafe.Sizeof(*r))
	for _, e := range r.table {
		mem += uint64(unsafe.Sizeof(Coord{})) + uint64(unsafe.Sizeof(*e))
		if e.child != nil {
			mem += e.child.memUsage(ifLoaded)
		}
	}
	return mem
}

func (r *rootNode[V]) copyFrom(o *rootNode[V]) {
	r.init(o.lay, o.background, o.topo)
	for k, e := range o.table {
		ne := &rootEntry[V]{tile: e.tile, active: e.active}
		if e.child != nil {
			ne.child = e.child.clone()
		}
		r.table[k] = ne
	}
}

func (r *rootNode[V]) sameTopology(o *rootNode[V]) bool {
	if len(r.table) != len(o.table) {
		return false
	}
	for k, e := range r.table {
		oe := o.table[k]
		if oe == nil || (e.child == nil) != (oe.child == nil) {
			return false
		}
		if e.child == nil {
			if e.active != oe.active {
				return false
			}
			continue
		}
		if !e.child.sameTopology(oe.child) {
			return false
		}
	}
	return true
}

func (r *rootNode[V]) forEachLeaf(fn func(*LeafNode[V]) bool) bool {
	for _, k := range r.sortedKeys() {
		if e := r.table[k]; e.child != nil && !e.child.forEachLeaf(fn) {
			return false
		}
	}
	return true
}

func (r *rootNode[V]) forEachTile(activeOnly bool, fn func(Tile[V]) bool) bool {
	for _, k := range r.sortedKeys() {
		e := r.table[k]
		if e.child != nil {
			if !e.child.forEachTile(activeOnly, fn) {
				return false
			}
			continue
		}
		if activeOnly && !e.active {
			continue
		}
		if !fn(Tile[V]{BBox: r.cellBBox(k), Level: r.level(), Value: e.tile, Active: e.active}) {
			return false
		}
	}
	return true
}
