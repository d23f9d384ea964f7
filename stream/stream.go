package stream

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

// Magic starts every serialized tree.
var Magic = [4]byte{'S', 'V', 'D', 'B'}

// maxHeaderSize guards against reading garbage as a header length.
const maxHeaderSize = 64 * vdb.Kilo

// Write serializes t to w as magic, a TOML header, then the compressed
// topology and leaf values as two length-prefixed blocks.
func Write[V tree.Value](w io.Writer, name string, t *tree.Tree[V], opts Options) (Header, error) {
	h := NewHeader(name, t, opts)
	if _, err := h.Type(); err != nil {
		return h, vdb.NewError(vdb.TypeError, "cannot serialize tree of %T values", *new(V))
	}
	hdr, err := h.encode()
	if err != nil {
		return h, err
	}
	var topo, bufs bytes.Buffer
	if err := t.WriteTopology(&topo); err != nil {
		return h, err
	}
	if err := t.WriteBuffers(&bufs); err != nil {
		return h, err
	}

	timedLog := vdb.NewTimeLog()
	if _, err := w.Write(Magic[:]); err != nil {
		return h, vdb.WrapError(vdb.IoError, err, "writing magic")
	}
	if err := writeBlock(w, hdr, vdb.Uncompressed, vdb.NoChecksum); err != nil {
		return h, err
	}
	if err := writeBlock(w, topo.Bytes(), opts.Compression, opts.Checksum); err != nil {
		return h, err
	}
	if err := writeBlock(w, bufs.Bytes(), opts.Compression, opts.Checksum); err != nil {
		return h, err
	}
	timedLog.Debugf("wrote %s", h)
	return h, nil
}

func writeBlock(w io.Writer, data []byte, compress vdb.Compression, checksum vdb.Checksum) error {
	s, err := vdb.SerializeData(data, compress, checksum)
	if err != nil {
		return vdb.WrapError(vdb.IoError, err, "serializing %d bytes", len(data))
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return vdb.WrapError(vdb.IoError, err, "writing block length")
	}
	if _, err := w.Write(s); err != nil {
		return vdb.WrapError(vdb.IoError, err, "writing %d byte block", len(s))
	}
	return nil
}

func readBlock(r io.Reader, limit uint64) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, vdb.WrapError(vdb.IoError, err, "reading block length")
	}
	if limit > 0 && n > limit {
		return nil, vdb.NewError(vdb.IoError, "block of %d bytes exceeds limit of %d", n, limit)
	}
	s := make([]byte, n)
	if _, err := io.ReadFull(r, s); err != nil {
		return nil, vdb.WrapError(vdb.IoError, err, "reading %d byte block", n)
	}
	data, _, err := vdb.DeserializeData(s, true)
	if err != nil {
		return nil, vdb.WrapError(vdb.IoError, err, "deserializing block")
	}
	return data, nil
}

// ReadHeader reads the magic and header at the start of r, leaving r
// positioned at the topology block.
func ReadHeader(r io.Reader) (Header, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Header{}, vdb.WrapError(vdb.IoError, err, "reading magic")
	}
	if magic != Magic {
		return Header{}, vdb.NewError(vdb.IoError, "bad magic %q", magic[:])
	}
	data, err := readBlock(r, maxHeaderSize)
	if err != nil {
		return Header{}, err
	}
	return decodeHeader(data)
}

// Read deserializes a tree written by Write.  A vdb.TypeError is returned if
// the stream holds values other than V.
func Read[V tree.Value](r io.Reader) (*tree.Tree[V], Header, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, h, err
	}
	t, err := readBody[V](r, h)
	return t, h, err
}

func readBody[V tree.Value](r io.Reader, h Header) (*tree.Tree[V], error) {
	t, err := newTree[V](h)
	if err != nil {
		return nil, err
	}
	topo, err := readBlock(r, 0)
	if err != nil {
		return nil, err
	}
	if err := t.ReadTopology(bytes.NewReader(topo)); err != nil {
		return nil, err
	}
	bufs, err := readBlock(r, 0)
	if err != nil {
		return nil, err
	}
	if err := t.ReadBuffers(bytes.NewReader(bufs)); err != nil {
		return nil, err
	}
	if n := t.LeafCount(); n != h.Leaves {
		return nil, vdb.NewError(vdb.IoError, "header of %q records %d leaves, topology has %d", h.Name, h.Leaves, n)
	}
	return t, nil
}

// ReadGrid deserializes a tree of whatever value type the stream holds.
func ReadGrid(r io.Reader) (tree.Grid, Header, error) {
	h, err := ReadHeader(r)
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
		g, err = asGrid(readBody[bool](r, h))
	case tree.Int8Type:
		g, err = asGrid(readBody[int8](r, h))
	case tree.Int16Type:
		g, err = asGrid(readBody[int16](r, h))
	case tree.Int32Type:
		g, err = asGrid(readBody[int32](r, h))
	case tree.Int64Type:
		g, err = asGrid(readBody[int64](r, h))
	case tree.Uint8Type:
		g, err = asGrid(readBody[uint8](r, h))
	case tree.Uint16Type:
		g, err = asGrid(readBody[uint16](r, h))
	case tree.Uint32Type:
		g, err = asGrid(readBody[uint32](r, h))
	case tree.Uint64Type:
		g, err = asGrid(readBody[uint64](r, h))
	case tree.Float32Type:
		g, err = asGrid(readBody[float32](r, h))
	case tree.Float64Type:
		g, err = asGrid(readBody[float64](r, h))
	default:
		err = vdb.NewError(vdb.NotImplementedError, "no reader for %s grids", vt)
	}
	return g, h, err
}

// asGrid keeps a nil *Tree from becoming a non-nil Grid.
func asGrid[V tree.Value](t *tree.Tree[V], err error) (tree.Grid, error) {
	if err != nil {
		return nil, err
	}
	return t, nil
}
