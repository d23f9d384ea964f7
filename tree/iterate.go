package tree

// NodeRef is a read-only handle on a leaf or internal node, used by tools
// that walk the hierarchy themselves.  The zero NodeRef refers to no node.
type NodeRef[V Value] struct {
	n node[V]
}

// Valid returns true if the handle refers to a node.
func (r NodeRef[V]) Valid() bool { return r.n != nil }

func (r NodeRef[V]) Level() int { return r.n.Level() }

func (r NodeRef[V]) Origin() Coord { return r.n.Origin() }

// BBox returns the full extent of the node.
func (r NodeRef[V]) BBox() CoordBBox { return r.n.BBox() }

func (r NodeRef[V]) IsLeaf() bool { return r.n.Level() == 0 }

// Leaf returns the leaf or nil for internal nodes.
func (r NodeRef[V]) Leaf() *LeafNode[V] {
	l, _ := r.n.(*LeafNode[V])
	return l
}

// Slot describes one slot of an internal node or one root entry: either a
// child node or a tile.
type Slot[V Value] struct {
	BBox   CoordBBox
	Level  int // level of the node holding the slot
	Child  NodeRef[V]
	Value  V
	Active bool
}

// IsChild returns true if the slot holds a child node.
func (s Slot[V]) IsChild() bool { return s.Child.Valid() }

// Tile returns the slot as a tile.  Only meaningful if !IsChild().
func (s Slot[V]) Tile() Tile[V] {
	return Tile[V]{BBox: s.BBox, Level: s.Level, Value: s.Value, Active: s.Active}
}

// Slots calls fn for every slot of an internal node overlapping box, in
// x-major order, until fn returns false.  Leaves have no slots.
func (r NodeRef[V]) Slots(box CoordBBox, fn func(Slot[V]) bool) bool {
	n, ok := r.n.(*internalNode[V])
	if !ok {
		return true
	}
	clip := box.Intersect(n.BBox())
	if clip.Empty() {
		return true
	}
	cont := true
	n.forSlotsIn(clip, func(i int) {
		if !cont {
			return
		}
		s := Slot[V]{BBox: n.slotBBox(i), Level: n.lvl}
		if n.childMask.IsOn(i) {
			s.Child = NodeRef[V]{n.children[i]}
		} else {
			s.Value = n.tiles[i]
			s.Active = n.valueMask.IsOn(i)
		}
		cont = fn(s)
	})
	return cont
}

// ChildCount returns the number of child nodes of an internal node.
func (r NodeRef[V]) ChildCount() int {
	if n, ok := r.n.(*internalNode[V]); ok {
		return n.childMask.CountOn()
	}
	return 0
}

// ActiveTileCount returns the number of active tiles held directly by an internal node.
func (r NodeRef[V]) ActiveTileCount() int {
	if n, ok := r.n.(*internalNode[V]); ok {
		return n.valueMask.CountOn()
	}
	return 0
}

// ForEachChild calls fn for every child of an internal node in slot order.
func (r NodeRef[V]) ForEachChild(fn func(NodeRef[V]) bool) bool {
	n, ok := r.n.(*internalNode[V])
	if !ok {
		return true
	}
	for i := n.nextChild(0); i < n.numSlots(); i = n.nextChild(i + 1) {
		if !fn(NodeRef[V]{n.children[i]}) {
			return false
		}
	}
	return true
}

// RootSlots calls fn for every root entry overlapping box in sorted origin
// order until fn returns false.
func (t *Tree[V]) RootSlots(box CoordBBox, fn func(Slot[V]) bool) {
	r := &t.root
	for _, k := range r.sortedKeys() {
		cell := r.cellBBox(k)
		if !cell.HasOverlap(box) {
			continue
		}
		e := r.table[k]
		s := Slot[V]{BBox: cell, Level: r.level()}
		if e.child != nil {
			s.Child = NodeRef[V]{e.child}
		} else {
			s.Value, s.Active = e.tile, e.active
		}
		if !fn(s) {
			return
		}
	}
}

// VisitNodes walks every node below the root in preorder: each root child
// in sorted origin order, then its children in slot order.  Children of a
// node are skipped if fn returns false for it.
func (t *Tree[V]) VisitNodes(fn func(NodeRef[V]) bool) {
	var visit func(n node[V])
	visit = func(n node[V]) {
		if !fn(NodeRef[V]{n}) {
			return
		}
		if in, ok := n.(*internalNode[V]); ok {
			for i := in.nextChild(0); i < in.numSlots(); i = in.nextChild(i + 1) {
				visit(in.children[i])
			}
		}
	}
	for _, k := range t.root.sortedKeys() {
		if e := t.root.table[k]; e.child != nil {
			visit(e.child)
		}
	}
}

// ForEachValue calls fn for every value held at a level within [minLevel,
// maxLevel] until fn returns false.  Tiles come first in traversal order,
// then the voxels of each leaf as single-voxel tiles at level 0.
func (t *Tree[V]) ForEachValue(minLevel, maxLevel int, activeOnly bool, fn func(Tile[V]) bool) {
	cont := true
	if maxLevel >= 1 {
		t.root.forEachTile(activeOnly, func(tile Tile[V]) bool {
			if tile.Level >= minLevel && tile.Level <= maxLevel {
				cont = fn(tile)
			}
			return cont
		})
	}
	if !cont || minLevel > 0 {
		return
	}
	t.root.forEachLeaf(func(l *LeafNode[V]) bool {
		vals := l.Values()
		for i := 0; i < LeafSize; i++ {
			on := l.mask.IsOn(i)
			if activeOnly && !on {
				continue
			}
			c := l.OffsetToCoord(i)
			if !fn(Tile[V]{BBox: NewBBox(c, c), Level: 0, Value: vals[i], Active: on}) {
				return false
			}
		}
		return true
	})
}
