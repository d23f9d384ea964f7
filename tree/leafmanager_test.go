package tree

import (
	"context"
	"errors"
	"sync/atomic"

	. "github.com/janelia-flyem/go/gocheck"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

func (suite *DataSuite) TestParallelFor(c *C) {
	var sum atomic.Int64
	err := ParallelFor(context.Background(), 1000, 7, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			sum.Add(int64(i))
		}
		return nil
	})
	c.Assert(err, IsNil)
	c.Assert(sum.Load(), Equals, int64(999*1000/2))

	boom := errors.New("boom")
	err = ParallelFor(context.Background(), 100, 1, func(lo, hi int) error {
		if lo == 42 {
			return boom
		}
		return nil
	})
	c.Assert(err, Equals, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = ParallelFor(ctx, 100, 1, func(lo, hi int) error { return nil })
	c.Assert(err, Equals, context.Canceled)
}

func (suite *DataSuite) TestLeafManager(c *C) {
	t := New[int32](0)
	for i := int32(0); i < 50; i++ {
		t.SetValue(NewCoord(i*8, i%3, -i*16), i)
	}
	c.Assert(t.AddTile(1, NewCoord(1000, 0, 0), 5, true), IsNil)

	m := NewLeafManager(t)
	c.Assert(m.LeafCount(), Equals, 50)
	m.SetGrainSize(3)

	ctx := context.Background()
	err := m.Foreach(ctx, func(leaf *LeafNode[int32], idx int) error {
		leaf.ForEachOn(func(p Coord, v int32) bool {
			leaf.SetValueOn(p, v*10)
			return true
		})
		return nil
	})
	c.Assert(err, IsNil)
	c.Assert(t.GetValue(NewCoord(49*8, 1, -49*16)), Equals, int32(490))

	total, err := ReduceLeaves(ctx, m, func(l *LeafNode[int32]) int {
		return l.OnVoxelCount()
	}, func(a, b int) int { return a + b }, 0)
	c.Assert(err, IsNil)
	c.Assert(total, Equals, 50)

	err = m.ForeachTile(ctx, func(tile Tile[int32]) (int32, error) {
		return tile.Value + 1, nil
	})
	c.Assert(err, IsNil)
	c.Assert(t.GetValue(NewCoord(1001, 1, 1)), Equals, int32(6))
	c.Assert(t.LeafCount(), Equals, uint64(50))

	c.Assert(vdb.IsKind(m.SetExecutionLevel(2, 1), vdb.ValueError), Equals, true)
	c.Assert(vdb.IsKind(m.SetExecutionLevel(0, 4), vdb.ValueError), Equals, true)
	c.Assert(m.SetExecutionLevel(1, 3), IsNil)
	lo, hi := m.ExecutionLevel()
	c.Assert(lo, Equals, 1)
	c.Assert(hi, Equals, 3)

	calls := 0
	err = m.Foreach(ctx, func(*LeafNode[int32], int) error {
		calls++
		return nil
	})
	c.Assert(err, IsNil)
	c.Assert(calls, Equals, 0)
}

func (suite *DataSuite) TestLeafManagerStreaming(c *C) {
	t := New[float32](0)
	c.Assert(t.AddTile(1, NewCoord(0, 0, 0), 2, true), IsNil)
	c.Assert(t.AddTile(2, NewCoord(128, 0, 0), 3, true), IsNil)
	m := NewLeafManager(t)
	c.Assert(m.LeafCount(), Equals, 0)
	c.Assert(m.SetExecutionLevel(0, 1), IsNil)
	m.SetActiveTileStreaming(true)

	var seen atomic.Int64
	err := m.Foreach(context.Background(), func(leaf *LeafNode[float32], _ int) error {
		seen.Add(int64(leaf.OnVoxelCount()))
		return nil
	})
	c.Assert(err, IsNil)
	c.Assert(seen.Load(), Equals, int64(512))
	c.Assert(m.LeafCount(), Equals, 1)
	c.Assert(t.ActiveTileCount(), Equals, uint64(1))
	c.Assert(t.ActiveVoxelCount(), Equals, uint64(512+128*128*128))
}
