package tree

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

// DefaultGrainSize is the number of leaves handed to a goroutine at a time.
const DefaultGrainSize = 64

// ParallelFor runs fn over [0,n) split into chunks of grain, using up to
// vdb.NumWorkers goroutines, and returns the first error.
func ParallelFor(ctx context.Context, n, grain int, fn func(lo, hi int) error) error {
	if grain <= 0 {
		grain = DefaultGrainSize
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(vdb.NumWorkers, 1))
	for lo := 0; lo < n; lo += grain {
		hi := min(lo+grain, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}

// LeafManager holds a snapshot of a tree's leaves for parallel per-leaf
// kernels.  Kernels may change leaf values and masks but must not change the
// tree's structure.
type LeafManager[V Value] struct {
	tree      *Tree[V]
	leaves    []*LeafNode[V]
	minLevel  int
	maxLevel  int
	streaming bool
	grain     int
}

// NewLeafManager snapshots the leaves of t.  By default leaves and tiles at
// every level are processed.
func NewLeafManager[V Value](t *Tree[V]) *LeafManager[V] {
	m := &LeafManager[V]{tree: t, maxLevel: t.RootLevel(), grain: DefaultGrainSize}
	m.Rebuild()
	return m
}

// Rebuild re-snapshots the leaves after structural changes.
func (m *LeafManager[V]) Rebuild() {
	m.leaves = m.tree.Leaves()
}

// SetGrainSize sets the number of leaves per parallel task.
func (m *LeafManager[V]) SetGrainSize(n int) { m.grain = n }

// SetExecutionLevel restricts processing to nodes between min and max
// inclusive, 0 being leaves and RootLevel() root tiles.
func (m *LeafManager[V]) SetExecutionLevel(min, max int) error {
	if min < 0 || max > m.tree.RootLevel() || min > max {
		return vdb.NewError(vdb.ValueError, "execution level [%d,%d] invalid for tree with root level %d",
			min, max, m.tree.RootLevel())
	}
	m.minLevel, m.maxLevel = min, max
	return nil
}

// ExecutionLevel returns the inclusive level range being processed.
func (m *LeafManager[V]) ExecutionLevel() (int, int) { return m.minLevel, m.maxLevel }

// SetActiveTileStreaming makes Foreach voxelize active tiles within the
// execution level range first so the kernel sees their voxels in leaves.
func (m *LeafManager[V]) SetActiveTileStreaming(on bool) { m.streaming = on }

func (m *LeafManager[V]) LeafCount() int { return len(m.leaves) }

func (m *LeafManager[V]) Leaf(i int) *LeafNode[V] { return m.leaves[i] }

// streamTiles voxelizes active tiles at the selected levels.
func (m *LeafManager[V]) streamTiles() {
	lo := max(m.minLevel, 1)
	var tiles []Tile[V]
	m.tree.ForEachTile(true, func(t Tile[V]) bool {
		if t.Level >= lo && t.Level <= m.maxLevel {
			tiles = append(tiles, t)
		}
		return true
	})
	if len(tiles) == 0 {
		return
	}
	for _, t := range tiles {
		m.tree.DenseFill(t.BBox, t.Value, true)
	}
	vdb.Debugf("streamed %d active tiles into leaves\n", len(tiles))
	m.Rebuild()
}

// Foreach calls fn on every leaf in parallel if leaves are within the
// execution level range.
func (m *LeafManager[V]) Foreach(ctx context.Context, fn func(leaf *LeafNode[V], idx int) error) error {
	if m.streaming {
		m.streamTiles()
	}
	if m.minLevel > 0 {
		return nil
	}
	return ParallelFor(ctx, len(m.leaves), m.grain, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			if err := fn(m.leaves[i], i); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForeachTile replaces the value of every active tile within the execution
// level range by fn's result.  New values are computed in parallel and
// written in traversal order.
func (m *LeafManager[V]) ForeachTile(ctx context.Context, fn func(Tile[V]) (V, error)) error {
	lo := max(m.minLevel, 1)
	var tiles []Tile[V]
	m.tree.ForEachTile(true, func(t Tile[V]) bool {
		if t.Level >= lo && t.Level <= m.maxLevel {
			tiles = append(tiles, t)
		}
		return true
	})
	vals := make([]V, len(tiles))
	err := ParallelFor(ctx, len(tiles), m.grain, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			v, err := fn(tiles[i])
			if err != nil {
				return err
			}
			vals[i] = v
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, t := range tiles {
		if err := m.tree.AddTile(t.Level, t.BBox.Min, vals[i], true); err != nil {
			return err
		}
	}
	return nil
}

// ReduceLeaves maps every leaf in parallel and folds the results in leaf
// order, so the result does not depend on scheduling.
func ReduceLeaves[V Value, R any](ctx context.Context, m *LeafManager[V], mapFn func(*LeafNode[V]) R, join func(R, R) R, identity R) (R, error) {
	partial := make([]R, len(m.leaves))
	err := ParallelFor(ctx, len(m.leaves), m.grain, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			partial[i] = mapFn(m.leaves[i])
		}
		return nil
	})
	if err != nil {
		return identity, err
	}
	acc := identity
	for _, r := range partial {
		acc = join(acc, r)
	}
	return acc, nil
}
