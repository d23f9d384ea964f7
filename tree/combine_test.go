package tree

import (
	"context"

	. "github.com/janelia-flyem/go/gocheck"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

func (suite *DataSuite) TestCombine(c *C) {
	a := New[float32](1)
	b := New[float32](2)
	a.SetValue(NewCoord(0, 0, 0), 3)
	b.SetValue(NewCoord(0, 0, 0), 4)
	b.SetValue(NewCoord(5000, 0, 0), 5)
	c.Assert(b.AddTile(1, NewCoord(64, 0, 0), 6, true), IsNil)

	err := a.Combine(b, func(x, y float32) float32 { return x + 100*y })
	c.Assert(err, IsNil)
	c.Assert(a.Background(), Equals, float32(201))
	c.Assert(a.GetValue(NewCoord(0, 0, 0)), Equals, float32(403))
	c.Assert(a.IsValueOn(NewCoord(0, 0, 0)), Equals, true)
	c.Assert(a.GetValue(NewCoord(1, 0, 0)), Equals, float32(201))
	c.Assert(a.IsValueOn(NewCoord(1, 0, 0)), Equals, false)
	c.Assert(a.GetValue(NewCoord(5000, 0, 0)), Equals, float32(501))
	c.Assert(a.GetValue(NewCoord(65, 1, 1)), Equals, float32(601))
	c.Assert(a.IsValueOn(NewCoord(65, 1, 1)), Equals, true)
	c.Assert(a.GetValue(NewCoord(-100000, 0, 0)), Equals, float32(201))
	c.Assert(a.ActiveVoxelCount(), Equals, uint64(2+512))
}

func (suite *DataSuite) TestCombineSelf(c *C) {
	a := New[int32](0)
	a.SetValue(NewCoord(1, 2, 3), 7)
	c.Assert(a.Combine(a, func(x, y int32) int32 { return x * y }), IsNil)
	c.Assert(a.GetValue(NewCoord(1, 2, 3)), Equals, int32(49))
}

func (suite *DataSuite) TestCombineExtended(c *C) {
	a := New[int32](0)
	b := New[int32](0)
	a.SetValue(NewCoord(1, 1, 1), 1)
	a.SetValue(NewCoord(2, 1, 1), 1)
	b.SetValue(NewCoord(2, 1, 1), 1)
	b.SetValue(NewCoord(3, 1, 1), 1)
	// Intersection of active states.
	err := a.CombineExtended(context.Background(), b, func(x int32, xOn bool, y int32, yOn bool) (int32, bool) {
		return x + y, xOn && yOn
	})
	c.Assert(err, IsNil)
	c.Assert(a.ActiveVoxelCount(), Equals, uint64(1))
	c.Assert(a.GetValue(NewCoord(2, 1, 1)), Equals, int32(2))
	c.Assert(a.IsValueOn(NewCoord(3, 1, 1)), Equals, false)
}

func (suite *DataSuite) TestTopologyUnion(c *C) {
	a := New[float64](0)
	b := New[float64](0)
	a.SetValue(NewCoord(0, 0, 0), 1)
	b.SetValue(NewCoord(1, 0, 0), 2)
	c.Assert(b.AddTile(1, NewCoord(8, 0, 0), 9, true), IsNil)
	c.Assert(a.TopologyUnion(b), IsNil)
	c.Assert(a.ActiveVoxelCount(), Equals, uint64(2+512))
	c.Assert(a.GetValue(NewCoord(1, 0, 0)), Equals, 0.0)
	c.Assert(a.IsValueOn(NewCoord(1, 0, 0)), Equals, true)

	cfg := Config{Log2Dims: []uint{4, 3}}
	other, err := NewWithConfig[float64](0, cfg)
	c.Assert(err, IsNil)
	c.Assert(vdb.IsKind(a.TopologyUnion(other), vdb.RuntimeError), Equals, true)
}

func (suite *DataSuite) TestGrids(c *C) {
	var grids []Grid
	grids = append(grids, New[float32](0), New[int32](0), NewMaskTree())
	c.Assert(grids[0].ValueType(), Equals, Float32Type)
	c.Assert(grids[2].ValueType(), Equals, MaskType)

	f, err := AsTree[float32](grids[0])
	c.Assert(err, IsNil)
	f.SetValue(NewCoord(1, 1, 1), 1)
	c.Assert(grids[0].ActiveVoxelCount(), Equals, uint64(1))

	_, err = AsTree[float32](grids[1])
	c.Assert(vdb.IsKind(err, vdb.TypeError), Equals, true)

	err = CombineGrids[float32](grids[0], grids[1], func(a, b float32) float32 { return a })
	c.Assert(vdb.IsKind(err, vdb.TypeError), Equals, true)

	g := New[float32](0)
	g.SetValue(NewCoord(1, 1, 1), 2)
	c.Assert(CombineGrids[float32](grids[0], g, func(a, b float32) float32 { return a * b }), IsNil)
	c.Assert(f.GetValue(NewCoord(1, 1, 1)), Equals, float32(2))
}
