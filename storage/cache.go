package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

// CachedStore is a write-through read cache in front of a Store.  Values
// larger than the cache allows are served from the store uncached.
//
// A cache miss holds fillMu shared from the store read until the value is
// cached; writes hold it exclusively across the store write and the cache
// update, so a fill never caches a value older than the last write.
type CachedStore struct {
	Store
	cache  *freecache.Cache
	fillMu sync.RWMutex

	attempts uint64
	hits     uint64
}

// NewCachedStore wraps s with a cache of about numBytes.  freecache enforces
// a minimum of 512 KB.
func NewCachedStore(s Store, numBytes int) *CachedStore {
	c := &CachedStore{Store: s, cache: freecache.NewCache(numBytes)}
	vdb.Infof("Created freecache of %s in front of %s\n", humanize.Bytes(uint64(numBytes)), s)
	return c
}

func (c *CachedStore) String() string {
	return fmt.Sprintf("cached %s", c.Store)
}

func (c *CachedStore) Get(key []byte) ([]byte, error) {
	atomic.AddUint64(&c.attempts, 1)
	v, err := c.cache.Get(key)
	if err != nil && err != freecache.ErrNotFound {
		return nil, err
	}
	if err == nil {
		atomic.AddUint64(&c.hits, 1)
		return v, nil
	}
	c.fillMu.RLock()
	defer c.fillMu.RUnlock()
	v, err = c.Store.Get(key)
	if err != nil || v == nil {
		return v, err
	}
	c.set(key, v)
	return v, nil
}

func (c *CachedStore) set(key, value []byte) {
	if err := c.cache.Set(key, value, 0); err != nil {
		vdb.Debugf("not caching %d byte value for key %x: %v\n", len(value), key, err)
	}
}

func (c *CachedStore) Put(key, value []byte) error {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	if err := c.Store.Put(key, value); err != nil {
		c.cache.Del(key)
		return err
	}
	c.set(key, value)
	return nil
}

func (c *CachedStore) Delete(key []byte) error {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()
	err := c.Store.Delete(key)
	c.cache.Del(key)
	return err
}

// NewBatch returns a batch that invalidates cached keys when committed.
func (c *CachedStore) NewBatch() Batch {
	return &cachedBatch{Batch: c.Store.NewBatch(), c: c}
}

// HitRate returns the fraction of Get calls answered from the cache.
func (c *CachedStore) HitRate() float64 {
	attempts := atomic.LoadUint64(&c.attempts)
	if attempts == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&c.hits)) / float64(attempts)
}

// EntryCount returns the number of cached values.
func (c *CachedStore) EntryCount() int64 {
	return c.cache.EntryCount()
}

// Clear drops every cached value.
func (c *CachedStore) Clear() {
	c.cache.Clear()
}

type cachedBatch struct {
	Batch
	c    *CachedStore
	keys [][]byte
}

func (b *cachedBatch) Put(key, value []byte) {
	b.keys = append(b.keys, key)
	b.Batch.Put(key, value)
}

func (b *cachedBatch) Delete(key []byte) {
	b.keys = append(b.keys, key)
	b.Batch.Delete(key)
}

// Commit invalidates every key the batch touched, whether or not the commit
// succeeded.
func (b *cachedBatch) Commit() error {
	b.c.fillMu.Lock()
	defer b.c.fillMu.Unlock()
	err := b.Batch.Commit()
	for _, k := range b.keys {
		b.c.cache.Del(k)
	}
	b.keys = nil
	return err
}
