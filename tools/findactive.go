package tools

import (
	"math/bits"

	"github.com/janelia-flyem/sparsevdb/tree"
)

// summary holds what a bounding-box query needs to know about a node
// without descending into it.
type summary struct {
	count  uint64 // active voxels under the node, tiles included
	voxels uint64 // active leaf voxels
	tiles  uint64 // active tiles
}

// FindActiveValues answers bounding-box queries about active values.  It is
// built once against a tree and must be rebuilt with Update after the tree
// changes.  Nodes fully inside a query box are answered from per-node
// summaries; only leaves straddling the box boundary are scanned, a word at a
// time.
type FindActiveValues[V tree.Value] struct {
	tree  *tree.Tree[V]
	nodes map[tree.NodeRef[V]]summary
}

// NewFindActiveValues summarizes t.
func NewFindActiveValues[V tree.Value](t *tree.Tree[V]) *FindActiveValues[V] {
	f := &FindActiveValues[V]{}
	f.Update(t)
	return f
}

// Update rebuilds the node summaries from t.
func (f *FindActiveValues[V]) Update(t *tree.Tree[V]) {
	f.tree = t
	f.nodes = make(map[tree.NodeRef[V]]summary)
	t.RootSlots(tree.InfBBox(), func(s tree.Slot[V]) bool {
		if s.IsChild() {
			f.summarize(s.Child)
		}
		return true
	})
}

func (f *FindActiveValues[V]) summarize(ref tree.NodeRef[V]) summary {
	var sum summary
	if leaf := ref.Leaf(); leaf != nil {
		n := uint64(leaf.OnVoxelCount())
		sum = summary{count: n, voxels: n}
	} else {
		ref.Slots(ref.BBox(), func(s tree.Slot[V]) bool {
			if s.IsChild() {
				c := f.summarize(s.Child)
				sum.count += c.count
				sum.voxels += c.voxels
				sum.tiles += c.tiles
			} else if s.Active {
				sum.count += s.BBox.Volume()
				sum.tiles++
			}
			return true
		})
	}
	f.nodes[ref] = sum
	return sum
}

// query walks every slot overlapping box.  onTile gets active tiles, onNode
// gets nodes fully inside box, onLeaf gets leaves that straddle it.  A false
// return stops the walk.
type query[V tree.Value] struct {
	onTile func(s tree.Slot[V]) bool
	onNode func(ref tree.NodeRef[V], sum summary) bool
	onLeaf func(leaf *tree.LeafNode[V], clip tree.CoordBBox) bool
}

func (f *FindActiveValues[V]) walk(box tree.CoordBBox, q query[V]) {
	if box.Empty() {
		return
	}
	var visit func(s tree.Slot[V]) bool
	visit = func(s tree.Slot[V]) bool {
		if !s.IsChild() {
			if s.Active && q.onTile != nil {
				return q.onTile(s)
			}
			return true
		}
		sum := f.nodes[s.Child]
		if sum.count == 0 {
			return true
		}
		if box.ContainsBBox(s.BBox) && q.onNode != nil {
			return q.onNode(s.Child, sum)
		}
		if leaf := s.Child.Leaf(); leaf != nil {
			if q.onLeaf == nil {
				return true
			}
			return q.onLeaf(leaf, box.Intersect(s.BBox))
		}
		return s.Child.Slots(box, visit)
	}
	f.tree.RootSlots(box, visit)
}

// AnyActiveValues returns true if any voxel or tile inside box is active.
func (f *FindActiveValues[V]) AnyActiveValues(box tree.CoordBBox) bool {
	found := false
	f.walk(box, query[V]{
		onTile: func(tree.Slot[V]) bool { found = true; return false },
		onNode: func(tree.NodeRef[V], summary) bool { found = true; return false },
		onLeaf: func(leaf *tree.LeafNode[V], clip tree.CoordBBox) bool {
			found = leafCount(leaf, clip) > 0
			return !found
		},
	})
	return found
}

// NoActiveValues is the negation of AnyActiveValues.
func (f *FindActiveValues[V]) NoActiveValues(box tree.CoordBBox) bool {
	return !f.AnyActiveValues(box)
}

// AnyActiveVoxels returns true if a leaf-resident voxel inside box is active.
func (f *FindActiveValues[V]) AnyActiveVoxels(box tree.CoordBBox) bool {
	found := false
	f.walk(box, query[V]{
		onNode: func(ref tree.NodeRef[V], sum summary) bool {
			found = sum.voxels > 0
			return !found
		},
		onLeaf: func(leaf *tree.LeafNode[V], clip tree.CoordBBox) bool {
			found = leafCount(leaf, clip) > 0
			return !found
		},
	})
	return found
}

// AnyActiveTiles returns true if an active tile overlaps box.
func (f *FindActiveValues[V]) AnyActiveTiles(box tree.CoordBBox) bool {
	found := false
	f.walk(box, query[V]{
		onTile: func(tree.Slot[V]) bool { found = true; return false },
		onNode: func(ref tree.NodeRef[V], sum summary) bool {
			found = sum.tiles > 0
			return !found
		},
	})
	return found
}

// Count returns the exact number of active voxels inside box.
func (f *FindActiveValues[V]) Count(box tree.CoordBBox) uint64 {
	var n uint64
	f.walk(box, query[V]{
		onTile: func(s tree.Slot[V]) bool {
			n += box.Intersect(s.BBox).Volume()
			return true
		},
		onNode: func(ref tree.NodeRef[V], sum summary) bool {
			n += sum.count
			return true
		},
		onLeaf: func(leaf *tree.LeafNode[V], clip tree.CoordBBox) bool {
			n += uint64(leafCount(leaf, clip))
			return true
		},
	})
	return n
}

// ActiveTiles returns every active tile overlapping box with its full
// extent, in traversal order.
func (f *FindActiveValues[V]) ActiveTiles(box tree.CoordBBox) []tree.Tile[V] {
	var tiles []tree.Tile[V]
	f.walk(box, query[V]{
		onTile: func(s tree.Slot[V]) bool {
			tiles = append(tiles, s.Tile())
			return true
		},
		onNode: func(ref tree.NodeRef[V], sum summary) bool {
			if sum.tiles > 0 {
				tiles = appendTiles(tiles, ref)
			}
			return true
		},
	})
	return tiles
}

func appendTiles[V tree.Value](tiles []tree.Tile[V], ref tree.NodeRef[V]) []tree.Tile[V] {
	ref.Slots(ref.BBox(), func(s tree.Slot[V]) bool {
		if s.IsChild() {
			tiles = appendTiles(tiles, s.Child)
		} else if s.Active {
			tiles = append(tiles, s.Tile())
		}
		return true
	})
	return tiles
}

// boxMask returns the voxels of a leaf at origin covered by clip, which must
// lie within the leaf.
func boxMask(origin tree.Coord, clip tree.CoordBBox) (m tree.Mask512) {
	lo, hi := clip.Min.Sub(origin), clip.Max.Sub(origin)
	zbits := (uint64(1)<<(hi.Z-lo.Z+1) - 1) << lo.Z
	var rows uint64
	for y := lo.Y; y <= hi.Y; y++ {
		rows |= 1 << (8 * y)
	}
	word := zbits * rows // zbits < 256, so rows never carry into each other
	for x := lo.X; x <= hi.X; x++ {
		m[x] = word
	}
	return
}

// leafCount returns the number of active voxels of leaf inside clip.
func leafCount[V tree.Value](leaf *tree.LeafNode[V], clip tree.CoordBBox) int {
	if clip.Empty() {
		return 0
	}
	mask := leaf.ValueMask()
	if clip == leaf.BBox() {
		return mask.CountOn()
	}
	box := boxMask(leaf.Origin(), clip)
	n := 0
	for i := range mask {
		n += bits.OnesCount64(mask[i] & box[i])
	}
	return n
}

// AnyActiveValues returns true if any value of t inside box is active.
func AnyActiveValues[V tree.Value](t *tree.Tree[V], box tree.CoordBBox) bool {
	return NewFindActiveValues(t).AnyActiveValues(box)
}

// AnyActiveVoxels returns true if any leaf voxel of t inside box is active.
func AnyActiveVoxels[V tree.Value](t *tree.Tree[V], box tree.CoordBBox) bool {
	return NewFindActiveValues(t).AnyActiveVoxels(box)
}

// AnyActiveTiles returns true if any active tile of t overlaps box.
func AnyActiveTiles[V tree.Value](t *tree.Tree[V], box tree.CoordBBox) bool {
	return NewFindActiveValues(t).AnyActiveTiles(box)
}

// NoActiveValues returns true if nothing in t inside box is active.
func NoActiveValues[V tree.Value](t *tree.Tree[V], box tree.CoordBBox) bool {
	return !AnyActiveValues(t, box)
}

// ActiveTiles returns the active tiles of t overlapping box.
func ActiveTiles[V tree.Value](t *tree.Tree[V], box tree.CoordBBox) []tree.Tile[V] {
	return NewFindActiveValues(t).ActiveTiles(box)
}
