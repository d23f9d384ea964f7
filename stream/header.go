// Package stream serializes trees, either as a single self-describing byte
// stream or as a set of keys in a storage.Store where each leaf buffer can be
// loaded on first access.
package stream

import (
	"bytes"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/blang/semver"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

// FormatVersion is written into every header.  Readers accept any version
// with the same major number.
var FormatVersion = semver.MustParse("1.0.0")

// Options control how trees are written.
type Options struct {
	Compression vdb.Compression
	Checksum    vdb.Checksum
}

// DefaultOptions uses snappy with CRC32 checksums.
func DefaultOptions() Options {
	return Options{Compression: vdb.Snappy, Checksum: vdb.CRC32}
}

// Header describes a serialized tree.
type Header struct {
	Format       string    `toml:"format"`
	UUID         string    `toml:"uuid"`
	Name         string    `toml:"name"`
	ValueType    string    `toml:"value_type"`
	Log2Dims     []uint    `toml:"log2_dims"`
	Compression  string    `toml:"compression"`
	Leaves       uint64    `toml:"leaves"`
	ActiveVoxels uint64    `toml:"active_voxels"`
	Created      time.Time `toml:"created"`
}

// NewHeader describes g under the given name with a fresh UUID.
func NewHeader(name string, g tree.Grid, opts Options) Header {
	return Header{
		Format:       FormatVersion.String(),
		UUID:         uuid.NewV4().String(),
		Name:         name,
		ValueType:    g.ValueType().String(),
		Log2Dims:     g.Config().Log2Dims,
		Compression:  opts.Compression.String(),
		Leaves:       g.LeafCount(),
		ActiveVoxels: g.ActiveVoxelCount(),
		Created:      time.Now().UTC().Truncate(time.Second),
	}
}

func (h Header) String() string {
	return fmt.Sprintf("%q %s grid %s (format %s), %d leaves", h.Name, h.ValueType, h.UUID, h.Format, h.Leaves)
}

// Config returns the node hierarchy recorded in the header.
func (h Header) Config() tree.Config {
	return tree.Config{Log2Dims: h.Log2Dims}
}

// Type returns the value type recorded in the header.
func (h Header) Type() (tree.ValueType, error) {
	return tree.ParseValueType(h.ValueType)
}

func (h Header) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(h); err != nil {
		return nil, vdb.WrapError(vdb.IoError, err, "encoding header for %q", h.Name)
	}
	return buf.Bytes(), nil
}

func decodeHeader(data []byte) (Header, error) {
	var h Header
	if _, err := toml.Decode(string(data), &h); err != nil {
		return h, vdb.WrapError(vdb.IoError, err, "decoding header")
	}
	return h, h.validate()
}

func (h Header) validate() error {
	v, err := semver.Parse(h.Format)
	if err != nil {
		return vdb.WrapError(vdb.IoError, err, "bad format version %q", h.Format)
	}
	if v.Major != FormatVersion.Major {
		return vdb.NewError(vdb.NotImplementedError, "format %s not readable by %s reader", v, FormatVersion)
	}
	if _, err := uuid.Parse(h.UUID); err != nil {
		return vdb.WrapError(vdb.IoError, err, "bad grid uuid %q", h.UUID)
	}
	if _, err := h.Type(); err != nil {
		return vdb.WrapError(vdb.IoError, err, "header of %q", h.Name)
	}
	if err := h.Config().Validate(); err != nil {
		return vdb.WrapError(vdb.IoError, err, "header of %q", h.Name)
	}
	return nil
}

// newTree returns an empty tree for the header's value type and
// configuration, or a vdb.TypeError if V cannot hold it.
func newTree[V tree.Value](h Header) (*tree.Tree[V], error) {
	vt, err := h.Type()
	if err != nil {
		return nil, err
	}
	want := tree.ValueTypeOf[V]()
	if vt == tree.MaskType {
		if want != tree.BoolType {
			return nil, vdb.NewError(vdb.TypeError, "grid %q is a mask, cannot read as %s", h.Name, want)
		}
		m, err := tree.NewMaskTreeWithConfig(h.Config())
		if err != nil {
			return nil, err
		}
		return any(m).(*tree.Tree[V]), nil
	}
	if vt != want {
		return nil, vdb.NewError(vdb.TypeError, "grid %q holds %s values, cannot read as %s", h.Name, vt, want)
	}
	var zero V
	return tree.NewWithConfig(zero, h.Config())
}
