package storage

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

func init() {
	RegisterEngine(memoryEngine{NewEngineInfo("memory", "In-process map, contents lost on Close", "0.1.0")})
}

type memoryEngine struct {
	EngineInfo
}

// NewStore returns an empty store.  Every call creates a new store, so two
// configs with the same path do not share data.
func (e memoryEngine) NewStore(config Config) (Store, bool, error) {
	return NewMemoryStore(config.Path), true, nil
}

func (e memoryEngine) Delete(Config) error { return nil }

// MemoryStore is a Store held in a map.
type MemoryStore struct {
	name string
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, data: make(map[string][]byte)}
}

func (db *MemoryStore) String() string {
	return fmt.Sprintf("memory @ %s", db.name)
}

// Len returns the number of stored pairs.
func (db *MemoryStore) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

func (db *MemoryStore) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.data == nil {
		return nil, vdb.NewError(vdb.IoError, "Can't call Get on closed %s", db)
	}
	v, found := db.data[string(key)]
	if !found {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

func (db *MemoryStore) Exists(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, found := db.data[string(key)]
	return found, nil
}

func (db *MemoryStore) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.data == nil {
		return vdb.NewError(vdb.IoError, "Can't call Put on closed %s", db)
	}
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemoryStore) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemoryStore) ProcessRange(begin, end []byte, keysOnly bool, f func(KeyValue) error) error {
	db.mu.RLock()
	var kvs KeyValues
	for k, v := range db.data {
		kb := []byte(k)
		if bytes.Compare(kb, begin) < 0 || bytes.Compare(kb, end) > 0 {
			continue
		}
		kv := KeyValue{K: kb}
		if !keysOnly {
			kv.V = append([]byte(nil), v...)
		}
		kvs = append(kvs, kv)
	}
	db.mu.RUnlock()

	sort.Sort(kvs)
	for _, kv := range kvs {
		if err := f(kv); err != nil {
			return err
		}
	}
	return nil
}

func (db *MemoryStore) NewBatch() Batch {
	return &memoryBatch{db: db}
}

// Close drops the contents.
func (db *MemoryStore) Close() error {
	db.mu.Lock()
	db.data = nil
	db.mu.Unlock()
	return nil
}

type memoryBatch struct {
	db  *MemoryStore
	ops []KeyValue // nil V marks a delete
}

func (b *memoryBatch) Put(key, value []byte) {
	if value == nil {
		value = []byte{}
	}
	b.ops = append(b.ops, KeyValue{K: append([]byte(nil), key...), V: append([]byte(nil), value...)})
}

func (b *memoryBatch) Delete(key []byte) {
	b.ops = append(b.ops, KeyValue{K: append([]byte(nil), key...)})
}

func (b *memoryBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if b.db.data == nil {
		return vdb.NewError(vdb.IoError, "Can't commit batch to closed %s", b.db)
	}
	for _, op := range b.ops {
		if op.V == nil {
			delete(b.db.data, string(op.K))
		} else {
			b.db.data[string(op.K)] = op.V
		}
	}
	b.ops = nil
	return nil
}
