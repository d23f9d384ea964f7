package main

import (
	"context"

	"github.com/janelia-flyem/sparsevdb/tools"
	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

func applyMorph[V tree.Value](ctx context.Context, t *tree.Tree[V], erode bool, iterations int, nn tools.NearestNeighbors, policy tools.TilePolicy) error {
	if erode {
		return tools.ErodeActiveValues(ctx, t, iterations, nn, policy)
	}
	return tools.DilateActiveValues(ctx, t, iterations, nn, policy)
}

// morph dilates or erodes a grid of any value type in place.
func morph(ctx context.Context, g tree.Grid, erode bool, iterations int, nn tools.NearestNeighbors, policy tools.TilePolicy) error {
	switch t := g.(type) {
	case *tree.Tree[bool]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	case *tree.Tree[int8]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	case *tree.Tree[int16]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	case *tree.Tree[int32]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	case *tree.Tree[int64]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	case *tree.Tree[uint8]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	case *tree.Tree[uint16]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	case *tree.Tree[uint32]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	case *tree.Tree[uint64]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	case *tree.Tree[float32]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	case *tree.Tree[float64]:
		return applyMorph(ctx, t, erode, iterations, nn, policy)
	}
	return vdb.NewError(vdb.TypeError, "no morphology for %s grids", g.ValueType())
}

// countInBox counts the active voxels of a grid of any value type in box.
func countInBox(g tree.Grid, box tree.CoordBBox) (uint64, error) {
	switch t := g.(type) {
	case *tree.Tree[bool]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	case *tree.Tree[int8]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	case *tree.Tree[int16]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	case *tree.Tree[int32]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	case *tree.Tree[int64]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	case *tree.Tree[uint8]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	case *tree.Tree[uint16]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	case *tree.Tree[uint32]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	case *tree.Tree[uint64]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	case *tree.Tree[float32]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	case *tree.Tree[float64]:
		return tools.CountActiveVoxelsInBBox(t, box), nil
	}
	return 0, vdb.NewError(vdb.TypeError, "cannot count %s grids", g.ValueType())
}
