package stream

import (
	"context"
	"io"

	"github.com/janelia-flyem/sparsevdb/storage"
	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

func unsupported(g tree.Grid) error {
	return vdb.NewError(vdb.TypeError, "cannot serialize %s grid", g.ValueType())
}

// WriteGrid is Write for a grid of any value type.
func WriteGrid(w io.Writer, name string, g tree.Grid, opts Options) (Header, error) {
	switch t := g.(type) {
	case *tree.Tree[bool]:
		return Write(w, name, t, opts)
	case *tree.Tree[int8]:
		return Write(w, name, t, opts)
	case *tree.Tree[int16]:
		return Write(w, name, t, opts)
	case *tree.Tree[int32]:
		return Write(w, name, t, opts)
	case *tree.Tree[int64]:
		return Write(w, name, t, opts)
	case *tree.Tree[uint8]:
		return Write(w, name, t, opts)
	case *tree.Tree[uint16]:
		return Write(w, name, t, opts)
	case *tree.Tree[uint32]:
		return Write(w, name, t, opts)
	case *tree.Tree[uint64]:
		return Write(w, name, t, opts)
	case *tree.Tree[float32]:
		return Write(w, name, t, opts)
	case *tree.Tree[float64]:
		return Write(w, name, t, opts)
	}
	return Header{}, unsupported(g)
}

// SaveGrid is Save for a grid of any value type.
func SaveGrid(ctx context.Context, s storage.Store, name string, g tree.Grid, opts Options) (Header, error) {
	switch t := g.(type) {
	case *tree.Tree[bool]:
		return Save(ctx, s, name, t, opts)
	case *tree.Tree[int8]:
		return Save(ctx, s, name, t, opts)
	case *tree.Tree[int16]:
		return Save(ctx, s, name, t, opts)
	case *tree.Tree[int32]:
		return Save(ctx, s, name, t, opts)
	case *tree.Tree[int64]:
		return Save(ctx, s, name, t, opts)
	case *tree.Tree[uint8]:
		return Save(ctx, s, name, t, opts)
	case *tree.Tree[uint16]:
		return Save(ctx, s, name, t, opts)
	case *tree.Tree[uint32]:
		return Save(ctx, s, name, t, opts)
	case *tree.Tree[uint64]:
		return Save(ctx, s, name, t, opts)
	case *tree.Tree[float32]:
		return Save(ctx, s, name, t, opts)
	case *tree.Tree[float64]:
		return Save(ctx, s, name, t, opts)
	}
	return Header{}, unsupported(g)
}

// OpenGrid is Open for a grid of whatever value type was saved.
func OpenGrid(ctx context.Context, s storage.Store, name string, deferred bool) (tree.Grid, Header, error) {
	h, err := GetHeader(s, name)
	if err != nil {
		return nil, h, err
	}
	vt, err := h.Type()
	if err != nil {
		return nil, h, err
	}
	var g tree.Grid
	switch vt {
	case tree.BoolType, tree.MaskType:
		g, err = openGrid[bool](ctx, s, name, deferred)
	case tree.Int8Type:
		g, err = openGrid[int8](ctx, s, name, deferred)
	case tree.Int16Type:
		g, err = openGrid[int16](ctx, s, name, deferred)
	case tree.Int32Type:
		g, err = openGrid[int32](ctx, s, name, deferred)
	case tree.Int64Type:
		g, err = openGrid[int64](ctx, s, name, deferred)
	case tree.Uint8Type:
		g, err = openGrid[uint8](ctx, s, name, deferred)
	case tree.Uint16Type:
		g, err = openGrid[uint16](ctx, s, name, deferred)
	case tree.Uint32Type:
		g, err = openGrid[uint32](ctx, s, name, deferred)
	case tree.Uint64Type:
		g, err = openGrid[uint64](ctx, s, name, deferred)
	case tree.Float32Type:
		g, err = openGrid[float32](ctx, s, name, deferred)
	case tree.Float64Type:
		g, err = openGrid[float64](ctx, s, name, deferred)
	default:
		err = vdb.NewError(vdb.NotImplementedError, "no reader for %s grids", vt)
	}
	return g, h, err
}

func openGrid[V tree.Value](ctx context.Context, s storage.Store, name string, deferred bool) (tree.Grid, error) {
	t, _, err := Open[V](ctx, s, name, deferred)
	return asGrid(t, err)
}
