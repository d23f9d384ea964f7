package tree

import (
	"context"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

// CombineFunc computes the result value and active state of a voxel from
// the corresponding voxels of two trees.
type CombineFunc[V Value] func(a V, aOn bool, b V, bOn bool) (V, bool)

type combiner[V Value] struct {
	op             CombineFunc[V]
	topo           bool
	keepActiveTile bool // an active tile in the destination already holds the result
}

func (cb *combiner[V]) apply(a V, aOn bool, b V, bOn bool) (V, bool) {
	v, on := cb.op(a, aOn, b, bOn)
	if cb.topo {
		v = fromBool[V](on)
	}
	return v, on
}

// nodes combines b into a; both cover the same region at the same level.
func (cb *combiner[V]) nodes(a, b node[V]) {
	switch a := a.(type) {
	case *LeafNode[V]:
		bl := b.(*LeafNode[V])
		av, bv := a.buf.values(), bl.buf.values()
		for i := 0; i < LeafSize; i++ {
			v, on := cb.apply(av[i], a.mask.IsOn(i), bv[i], bl.mask.IsOn(i))
			av[i] = v
			a.mask.Set(i, on)
		}
	case *internalNode[V]:
		bn := b.(*internalNode[V])
		for i := 0; i < a.numSlots(); i++ {
			aChild, bChild := a.childMask.IsOn(i), bn.childMask.IsOn(i)
			switch {
			case aChild && bChild:
				cb.nodes(a.children[i], bn.children[i])
			case aChild:
				cb.constant(a.children[i], bn.tiles[i], bn.valueMask.IsOn(i))
			case bChild:
				if cb.keepActiveTile && a.valueMask.IsOn(i) {
					continue
				}
				a.setChild(i, a.newChild(i))
				cb.nodes(a.children[i], bn.children[i])
			default:
				v, on := cb.apply(a.tiles[i], a.valueMask.IsOn(i), bn.tiles[i], bn.valueMask.IsOn(i))
				a.setTile(i, v, on)
			}
		}
	}
}

// constant combines a uniform b value into every voxel and tile of a.
func (cb *combiner[V]) constant(a node[V], b V, bOn bool) {
	switch a := a.(type) {
	case *LeafNode[V]:
		av := a.buf.values()
		for i := 0; i < LeafSize; i++ {
			v, on := cb.apply(av[i], a.mask.IsOn(i), b, bOn)
			av[i] = v
			a.mask.Set(i, on)
		}
	case *internalNode[V]:
		for i := 0; i < a.numSlots(); i++ {
			if a.childMask.IsOn(i) {
				cb.constant(a.children[i], b, bOn)
				continue
			}
			v, on := cb.apply(a.tiles[i], a.valueMask.IsOn(i), b, bOn)
			a.tiles[i] = v
			a.valueMask.Set(i, on)
		}
	}
}

// combineTrees merges o into t.  Root entries are processed in parallel; each
// touches only its own subtree so the result is independent of scheduling.
func (t *Tree[V]) combineTrees(ctx context.Context, o *Tree[V], cb *combiner[V]) error {
	if !t.cfg.Equal(o.cfg) {
		return vdb.NewError(vdb.RuntimeError, "cannot combine trees with configurations %s and %s", t.cfg, o.cfg)
	}
	if t == o {
		o = o.Copy()
	}
	for k := range o.root.table {
		if _, found := t.root.table[k]; !found {
			t.root.table[k] = &rootEntry[V]{tile: t.root.background}
		}
	}
	keys := t.root.sortedKeys()
	err := ParallelFor(ctx, len(keys), 1, func(lo, hi int) error {
		for _, k := range keys[lo:hi] {
			a := t.root.table[k]
			b := o.root.table[k]
			bv, bOn := o.root.background, false
			if b != nil && b.child == nil {
				bv, bOn = b.tile, b.active
			}
			switch {
			case a.child != nil && b != nil && b.child != nil:
				cb.nodes(a.child, b.child)
			case a.child != nil:
				cb.constant(a.child, bv, bOn)
			case b != nil && b.child != nil:
				if cb.keepActiveTile && a.active {
					continue
				}
				a.child = t.root.newChild(k, a.tile, a.active)
				cb.nodes(a.child, b.child)
			default:
				a.tile, a.active = cb.apply(a.tile, a.active, bv, bOn)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.root.eraseBackgroundTiles()
	return nil
}

// Combine sets every voxel of t to fn(a, b) over the union of both trees'
// topology, where a is t's value and b is o's value.  The result is active
// where either input is active.  The background becomes fn of both backgrounds.
func (t *Tree[V]) Combine(o *Tree[V], fn func(a, b V) V) error {
	cb := &combiner[V]{
		op: func(a V, aOn bool, b V, bOn bool) (V, bool) {
			return fn(a, b), aOn || bOn
		},
		topo: t.topo,
	}
	if err := t.combineTrees(context.Background(), o, cb); err != nil {
		return err
	}
	if !t.topo {
		t.root.background = fn(t.root.background, o.root.background)
	}
	return nil
}

// CombineExtended merges o into t with full control over values and states.
func (t *Tree[V]) CombineExtended(ctx context.Context, o *Tree[V], fn CombineFunc[V]) error {
	return t.combineTrees(ctx, o, &combiner[V]{op: fn, topo: t.topo})
}

// TopologyUnion activates every voxel of t that is active in o, keeping t's values.
func (t *Tree[V]) TopologyUnion(o *Tree[V]) error {
	cb := &combiner[V]{
		op: func(a V, aOn bool, _ V, bOn bool) (V, bool) {
			return a, aOn || bOn
		},
		topo:           t.topo,
		keepActiveTile: true,
	}
	return t.combineTrees(context.Background(), o, cb)
}

// Grid is implemented by every *Tree[V] so trees of different value types
// can be held together.
type Grid interface {
	ValueType() ValueType
	Config() Config
	IsMask() bool
	ActiveVoxelCount() uint64
	LeafCount() uint64
	EvalActiveVoxelBoundingBox() CoordBBox
	MemUsage() uint64
	String() string
}

// AsTree returns g as a *Tree[V] or a TypeError.
func AsTree[V Value](g Grid) (*Tree[V], error) {
	t, ok := g.(*Tree[V])
	if !ok {
		return nil, vdb.NewError(vdb.TypeError, "grid holds %s values, not %s", g.ValueType(), ValueTypeOf[V]())
	}
	return t, nil
}

// CombineGrids combines b into a with fn when both hold V values.
func CombineGrids[V Value](a, b Grid, fn func(a, b V) V) error {
	if a.ValueType() != b.ValueType() {
		return vdb.NewError(vdb.TypeError, "cannot combine %s grid with %s grid", a.ValueType(), b.ValueType())
	}
	ta, err := AsTree[V](a)
	if err != nil {
		return err
	}
	tb, err := AsTree[V](b)
	if err != nil {
		return err
	}
	return ta.Combine(tb, fn)
}
