package stream

import (
	"bytes"
	"context"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/sparsevdb/storage"
	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

// Keys of a saved grid all begin with gridPrefix + name + "/".
const (
	gridPrefix  = "grid/"
	headerKey   = "header"
	topologyKey = "topology"
	leafPrefix  = "leaf/"
)

func gridKey(name, suffix string) []byte {
	return []byte(gridPrefix + name + "/" + suffix)
}

// LeafKey returns the store key holding the values of the leaf at origin.
func LeafKey(name string, origin tree.Coord) []byte {
	return append(gridKey(name, leafPrefix), origin.Bytes()...)
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return vdb.NewError(vdb.ValueError, "bad grid name %q", name)
	}
	return nil
}

// Save writes t under name as a header, a topology blob and one key per leaf
// so leaves can be loaded individually.  Any grid already saved under name
// is replaced.
func Save[V tree.Value](ctx context.Context, s storage.Store, name string, t *tree.Tree[V], opts Options) (Header, error) {
	if err := checkName(name); err != nil {
		return Header{}, err
	}
	h := NewHeader(name, t, opts)
	if _, err := h.Type(); err != nil {
		return h, vdb.NewError(vdb.TypeError, "cannot save tree of %T values", *new(V))
	}
	hdr, err := h.encode()
	if err != nil {
		return h, err
	}
	var topo bytes.Buffer
	if err := t.WriteTopology(&topo); err != nil {
		return h, err
	}
	sTopo, err := vdb.SerializeData(topo.Bytes(), opts.Compression, opts.Checksum)
	if err != nil {
		return h, vdb.WrapError(vdb.IoError, err, "serializing topology of %q", name)
	}

	timedLog := vdb.NewTimeLog()
	var leaves []*tree.LeafNode[V]
	if !t.IsMask() {
		leaves = t.Leaves()
	}
	encoded := make([][]byte, len(leaves))
	err = tree.ParallelFor(ctx, len(leaves), 64, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			raw, err := leaves[i].EncodedValues()
			if err != nil {
				return err
			}
			if encoded[i], err = vdb.SerializeData(raw, opts.Compression, opts.Checksum); err != nil {
				return vdb.WrapError(vdb.IoError, err, "serializing leaf %s", leaves[i].Origin())
			}
		}
		return nil
	})
	if err != nil {
		return h, err
	}

	// Stale keys of a previous grid go out in the same batch as the new
	// ones so a failed commit leaves the old grid intact.
	begin := gridKey(name, "")
	old, err := storage.KeysInRange(s, begin, storage.PrefixEnd(begin))
	if err != nil {
		return h, vdb.WrapError(vdb.IoError, err, "reading keys of %q in %s", name, s)
	}
	var written uint64
	batch := s.NewBatch()
	fresh := make(map[string]struct{}, len(leaves)+2)
	put := func(key, value []byte) {
		fresh[string(key)] = struct{}{}
		batch.Put(key, value)
	}
	for i, l := range leaves {
		put(LeafKey(name, l.Origin()), encoded[i])
		written += uint64(len(encoded[i]))
	}
	put(gridKey(name, topologyKey), sTopo)
	put(gridKey(name, headerKey), hdr)
	for _, k := range old {
		if _, ok := fresh[string(k)]; !ok {
			batch.Delete(k)
		}
	}
	if err := batch.Commit(); err != nil {
		return h, vdb.WrapError(vdb.IoError, err, "saving %q to %s", name, s)
	}
	timedLog.Infof("saved %s to %s, %s of leaf data", h, s, humanize.Bytes(written+uint64(len(sTopo))))
	return h, nil
}

// GetHeader returns the header of the grid saved under name, or a
// vdb.LookupError if there is none.
func GetHeader(s storage.Store, name string) (Header, error) {
	if err := checkName(name); err != nil {
		return Header{}, err
	}
	data, err := s.Get(gridKey(name, headerKey))
	if err != nil {
		return Header{}, vdb.WrapError(vdb.IoError, err, "reading header of %q", name)
	}
	if data == nil {
		return Header{}, vdb.NewError(vdb.LookupError, "no grid %q in %s", name, s)
	}
	return decodeHeader(data)
}

// leafSource decompresses leaf buffers read from a store.
type leafSource struct {
	storage.LeafBuffers
}

func (src leafSource) LoadBuffer(key []byte) ([]byte, error) {
	s, err := src.LeafBuffers.LoadBuffer(key)
	if err != nil {
		return nil, err
	}
	data, _, err := vdb.DeserializeData(s, true)
	if err != nil {
		return nil, vdb.WrapError(vdb.IoError, err, "leaf buffer %x", key)
	}
	return data, nil
}

// Open reads the grid saved under name.  If deferred is true only the
// topology is read and each leaf's values are fetched from s on first
// access, so s must stay open for the life of the tree.
func Open[V tree.Value](ctx context.Context, s storage.Store, name string, deferred bool) (*tree.Tree[V], Header, error) {
	h, err := GetHeader(s, name)
	if err != nil {
		return nil, h, err
	}
	t, err := newTree[V](h)
	if err != nil {
		return nil, h, err
	}
	sTopo, err := s.Get(gridKey(name, topologyKey))
	if err != nil {
		return nil, h, vdb.WrapError(vdb.IoError, err, "reading topology of %q", name)
	}
	if sTopo == nil {
		return nil, h, vdb.NewError(vdb.IoError, "grid %q has a header but no topology", name)
	}
	topo, _, err := vdb.DeserializeData(sTopo, true)
	if err != nil {
		return nil, h, vdb.WrapError(vdb.IoError, err, "topology of %q", name)
	}
	if err := t.ReadTopology(bytes.NewReader(topo)); err != nil {
		return nil, h, err
	}
	if n := t.LeafCount(); n != h.Leaves {
		return nil, h, vdb.NewError(vdb.IoError, "header of %q records %d leaves, topology has %d", name, h.Leaves, n)
	}

	src := leafSource{storage.NewLeafBuffers(s)}
	t.DeferBuffers(src, func(origin tree.Coord) []byte { return LeafKey(name, origin) })
	if !deferred {
		if err := t.LoadAll(ctx); err != nil {
			return nil, h, err
		}
	}
	vdb.Debugf("opened %s from %s, %d leaves out of core\n", h, s, t.OutOfCoreLeafCount())
	return t, h, nil
}

// ListGrids returns the names of the grids saved in s in key order.
func ListGrids(s storage.Store) ([]string, error) {
	begin := []byte(gridPrefix)
	keys, err := storage.KeysInRange(s, begin, storage.PrefixEnd(begin))
	if err != nil {
		return nil, vdb.WrapError(vdb.IoError, err, "listing grids in %s", s)
	}
	var names []string
	suffix := "/" + headerKey
	for _, k := range keys {
		key := string(k)
		if strings.HasSuffix(key, suffix) {
			name := strings.TrimSuffix(strings.TrimPrefix(key, gridPrefix), suffix)
			if !strings.Contains(name, "/") {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// Delete removes every key of the grid saved under name.  Deleting a grid
// that does not exist is not an error.
func Delete(s storage.Store, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	begin := gridKey(name, "")
	if err := storage.DeleteRange(s, begin, storage.PrefixEnd(begin)); err != nil {
		return vdb.WrapError(vdb.IoError, err, "deleting %q from %s", name, s)
	}
	return nil
}
