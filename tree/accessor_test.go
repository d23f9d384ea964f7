package tree

import (
	"sync"

	. "github.com/janelia-flyem/go/gocheck"
)

func (suite *DataSuite) TestAccessorCaching(c *C) {
	const value = float32(-9.345)
	c0 := NewCoord(5, 10, 20)
	c1 := NewCoord(500000, 200000, 300000)

	t := New[float32](5)
	acc := NewAccessor(t)
	c.Assert(acc.IsSafe(), Equals, false)
	c.Assert(acc.GetValue(c0), Equals, float32(5))
	c.Assert(acc.IsValueOn(c0), Equals, false)
	c.Assert(acc.IsCached(c0), Equals, false)

	acc.SetValue(c0, value)
	c.Assert(acc.GetValue(c0), Equals, value)
	c.Assert(acc.IsValueOn(c0), Equals, true)
	c.Assert(acc.GetValueDepth(c0), Equals, 3)
	c.Assert(acc.GetValueDepth(NewCoord(7, 10, 20)), Equals, 3)
	c.Assert(acc.GetValueDepth(NewCoord(8, 10, 20)), Equals, 2)
	c.Assert(acc.GetValueDepth(c1), Equals, -1)
	c.Assert(acc.IsVoxel(c0), Equals, true)
	c.Assert(acc.IsVoxel(NewCoord(8, 10, 20)), Equals, false)

	c.Assert(acc.IsCached(c0), Equals, true)
	c.Assert(acc.IsCached(NewCoord(8, 10, 20)), Equals, true)
	c.Assert(acc.IsCached(NewCoord(4000, 10, 20)), Equals, true)
	c.Assert(acc.IsCached(c1), Equals, false)
	c.Assert(acc.CachedLeaf(), NotNil)
	c.Assert(acc.CachedLeaf().Origin(), Equals, NewCoord(0, 8, 16))

	acc.SetValueOff(c1)
	c.Assert(acc.GetValueDepth(c1), Equals, -1)
	c.Assert(acc.IsCached(c1), Equals, false)

	acc.SetValueOnly(c1, value)
	c.Assert(acc.GetValue(c1), Equals, value)
	c.Assert(acc.IsValueOn(c1), Equals, false)
	c.Assert(acc.GetValueDepth(c1), Equals, 3)
	c.Assert(acc.IsCached(c1), Equals, true)
	c.Assert(acc.IsCached(c0), Equals, false)

	acc.ModifyValue(c1, func(v *float32) { *v = -*v })
	v, on := acc.ProbeValue(c1)
	c.Assert(v, Equals, -value)
	c.Assert(on, Equals, true)

	acc.ModifyValueAndActiveState(c1, func(v *float32, on *bool) {
		*v = 2
		*on = false
	})
	v, on = acc.ProbeValue(c1)
	c.Assert(v, Equals, float32(2))
	c.Assert(on, Equals, false)
	c.Assert(t.GetValue(c1), Equals, float32(2))

	acc.SetActiveState(c1, true)
	c.Assert(t.IsValueOn(c1), Equals, true)

	acc.Clear()
	c.Assert(acc.IsCached(c1), Equals, false)
	c.Assert(acc.GetValue(c0), Equals, value)
}

func (suite *DataSuite) TestAccessorStaleness(c *C) {
	t := New[int32](0)
	acc := NewAccessor(t)
	p := NewCoord(100, 100, 100)
	acc.SetValue(p, 1)
	c.Assert(acc.IsCached(p), Equals, true)

	// Collapsing the leaf must not leave the accessor reading the old node.
	acc.SetValueOff(p)
	t.PruneInactive()
	c.Assert(t.Empty(), Equals, true)
	c.Assert(acc.IsCached(p), Equals, false)
	c.Assert(acc.GetValue(p), Equals, int32(0))
	c.Assert(acc.ProbeLeaf(p), IsNil)

	acc.SetValue(p, 2)
	other := NewAccessor(t)
	c.Assert(other.GetValue(p), Equals, int32(2))
	c.Assert(t.AddTile(1, p, 7, true), IsNil)
	c.Assert(acc.GetValue(p), Equals, int32(7))
	c.Assert(acc.GetValueDepth(p), Equals, 2)
}

func (suite *DataSuite) TestAccessorLeaves(c *C) {
	t := New[uint16](3)
	acc := NewAccessor(t)
	p := NewCoord(-20, 33, 1)
	c.Assert(acc.ProbeLeaf(p), IsNil)
	leaf := acc.TouchLeaf(p)
	c.Assert(leaf, NotNil)
	c.Assert(leaf.Origin(), Equals, NewCoord(-24, 32, 0))
	c.Assert(leaf.IsEmpty(), Equals, true)
	c.Assert(acc.ProbeLeaf(p), Equals, leaf)
	c.Assert(acc.GetValue(p), Equals, uint16(3))

	c.Assert(acc.AddTile(2, p, 9, true), IsNil)
	c.Assert(acc.ProbeLeaf(p), IsNil)
	c.Assert(acc.GetValue(p), Equals, uint16(9))
	c.Assert(acc.GetValueDepth(p), Equals, 1)

	acc.SetValue(p, 4)
	c.Assert(acc.ProbeLeaf(p), NotNil)
	c.Assert(t.ActiveVoxelCount(), Equals, uint64(128*128*128))
	c.Assert(acc.EraseLeaf(p), Equals, true)
	c.Assert(acc.EraseLeaf(p), Equals, false)
	c.Assert(acc.GetValue(p), Equals, uint16(3))
	c.Assert(acc.IsValueOn(p), Equals, false)
	c.Assert(t.ActiveVoxelCount(), Equals, uint64(128*128*128-512))
}

func (suite *DataSuite) TestAccessorShared(c *C) {
	t := New[int64](0)
	acc := NewAccessorRW(t)
	c.Assert(acc.IsSafe(), Equals, true)

	const workers = 8
	const perWorker = 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p := NewCoord(int32(i*3), int32(w*40), int32(i%7))
				acc.SetValue(p, int64(w*perWorker+i))
			}
		}(w)
	}
	wg.Wait()

	c.Assert(t.ActiveVoxelCount(), Equals, uint64(workers*perWorker))
	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			p := NewCoord(int32(i*3), int32(w*40), int32(i%7))
			c.Assert(t.GetValue(p), Equals, int64(w*perWorker+i))
		}
	}
}

func (suite *DataSuite) TestIndependentReaders(c *C) {
	t := New[float64](-1)
	t.Fill(NewBBox(NewCoord(0, 0, 0), NewCoord(300, 20, 20)), 2, true)
	var wg sync.WaitGroup
	errs := make(chan Coord, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			acc := NewAccessor(t)
			for x := int32(w); x < 310; x += 4 {
				p := NewCoord(x, 10, 10)
				want := 2.0
				if x > 300 {
					want = -1
				}
				if acc.GetValue(p) != want {
					errs <- p
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for p := range errs {
		c.Errorf("wrong value read at %s", p)
	}
}
