package tools

import (
	"context"

	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

// CountActiveVoxels counts the active voxels of t with the leaves popcounted
// in parallel.  Active tiles contribute their full volume.
func CountActiveVoxels[V tree.Value](ctx context.Context, t *tree.Tree[V]) (uint64, error) {
	m := tree.NewLeafManager(t)
	n, err := tree.ReduceLeaves(ctx, m,
		func(l *tree.LeafNode[V]) uint64 { return uint64(l.OnVoxelCount()) },
		func(a, b uint64) uint64 { return a + b }, 0)
	if err != nil {
		return 0, err
	}
	t.ForEachTile(true, func(tile tree.Tile[V]) bool {
		n += tile.BBox.Volume()
		return true
	})
	return n, nil
}

// CountActiveVoxelsInBBox returns the number of active voxels of t inside box.
func CountActiveVoxelsInBBox[V tree.Value](t *tree.Tree[V], box tree.CoordBBox) uint64 {
	return NewFindActiveValues(t).Count(box)
}

// CountActiveLeafVoxelsInBBox is CountActiveVoxelsInBBox without tiles.
func CountActiveLeafVoxelsInBBox[V tree.Value](t *tree.Tree[V], box tree.CoordBBox) uint64 {
	f := NewFindActiveValues(t)
	var n uint64
	f.walk(box, query[V]{
		onNode: func(ref tree.NodeRef[V], sum summary) bool {
			n += sum.voxels
			return true
		},
		onLeaf: func(leaf *tree.LeafNode[V], clip tree.CoordBBox) bool {
			n += uint64(leafCount(leaf, clip))
			return true
		},
	})
	return n
}

type extrema[V tree.Numeric] struct {
	min, max V
	ok       bool
}

func (e extrema[V]) add(v V) extrema[V] {
	if !e.ok {
		return extrema[V]{min: v, max: v, ok: true}
	}
	e.min = min(e.min, v)
	e.max = max(e.max, v)
	return e
}

func (e extrema[V]) join(o extrema[V]) extrema[V] {
	if !o.ok {
		return e
	}
	return e.add(o.min).add(o.max)
}

// MinMax returns the smallest and largest active values of t, tiles
// included.  A tree without active values gives a vdb.LookupError.
func MinMax[V tree.Numeric](ctx context.Context, t *tree.Tree[V]) (lo, hi V, err error) {
	m := tree.NewLeafManager(t)
	ext, err := tree.ReduceLeaves(ctx, m, func(l *tree.LeafNode[V]) (e extrema[V]) {
		l.ForEachOn(func(_ tree.Coord, v V) bool {
			e = e.add(v)
			return true
		})
		return
	}, extrema[V].join, extrema[V]{})
	if err != nil {
		return
	}
	t.ForEachTile(true, func(tile tree.Tile[V]) bool {
		ext = ext.add(tile.Value)
		return true
	})
	if !ext.ok {
		err = vdb.NewError(vdb.LookupError, "tree has no active values")
		return
	}
	return ext.min, ext.max, nil
}
