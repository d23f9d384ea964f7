package storage

import "github.com/janelia-flyem/sparsevdb/vdb"

// LeafBuffers serves encoded leaf values from a Store to trees whose
// buffers were deferred.  A missing key is a vdb.LookupError.
type LeafBuffers struct {
	store Store
}

// NewLeafBuffers returns a buffer source reading from s.
func NewLeafBuffers(s Store) LeafBuffers {
	return LeafBuffers{store: s}
}

func (lb LeafBuffers) LoadBuffer(key []byte) ([]byte, error) {
	v, err := lb.store.Get(key)
	if err != nil {
		return nil, vdb.WrapError(vdb.IoError, err, "reading leaf buffer %x from %s", key, lb.store)
	}
	if v == nil {
		return nil, vdb.NewError(vdb.LookupError, "no leaf buffer %x in %s", key, lb.store)
	}
	return v, nil
}
