package tree

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

// BufferSource supplies the encoded values of leaves whose buffers were not
// read into memory when the tree was loaded.
type BufferSource interface {
	LoadBuffer(key []byte) ([]byte, error)
}

// deferredBuffer records where a leaf's values can be read from.
type deferredBuffer struct {
	src BufferSource
	key []byte
}

// leafBuffer holds the values of a leaf, possibly not yet loaded.  Any read or
// write materializes a pending buffer under mu.
type leafBuffer[V Value] struct {
	data    []V
	pending atomic.Pointer[deferredBuffer]
	mu      sync.Mutex
}

func (b *leafBuffer[V]) init(v V) {
	b.data = make([]V, LeafSize)
	for i := range b.data {
		b.data[i] = v
	}
}

// values returns the resident values, loading them if necessary.  A load
// failure here cannot be returned to the caller so it panics with an IoError.
func (b *leafBuffer[V]) values() []V {
	if b.pending.Load() != nil {
		if err := b.load(); err != nil {
			vdb.Criticalf("lazy leaf load failed: %v\n", err)
			panic(err)
		}
	}
	return b.data
}

func (b *leafBuffer[V]) outOfCore() bool {
	return b.pending.Load() != nil
}

func (b *leafBuffer[V]) load() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.pending.Load()
	if d == nil {
		return nil
	}
	raw, err := d.src.LoadBuffer(d.key)
	if err != nil {
		return vdb.WrapError(vdb.IoError, err, "loading leaf buffer %x", d.key)
	}
	data := make([]V, LeafSize)
	if err := DecodeValues(raw, data); err != nil {
		return vdb.WrapError(vdb.IoError, err, "decoding leaf buffer %x", d.key)
	}
	b.data = data
	b.pending.Store(nil)
	return nil
}

func (b *leafBuffer[V]) setDeferred(src BufferSource, key []byte) {
	b.mu.Lock()
	b.data = nil
	b.pending.Store(&deferredBuffer{src: src, key: key})
	b.mu.Unlock()
}

func (b *leafBuffer[V]) memUsage(ifLoaded bool) uint64 {
	if d := b.pending.Load(); d != nil && !ifLoaded {
		return uint64(unsafe.Sizeof(*d)) + uint64(len(d.key))
	}
	return uint64(LeafSize) * uint64(sizeOfValue[V]())
}

func (b *leafBuffer[V]) copyTo(dst *leafBuffer[V]) {
	if d := b.pending.Load(); d != nil {
		dst.pending.Store(&deferredBuffer{src: d.src, key: d.key})
		return
	}
	dst.data = make([]V, len(b.data))
	copy(dst.data, b.data)
}
