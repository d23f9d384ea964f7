// Package storage provides a unified interface to the key-value engines that
// hold out-of-core leaf buffers and serialized trees.  Each engine registers
// itself at init time and is selected by name through a Config, so the
// engines compiled into a binary are exactly the packages it imports.
//
// Keys are opaque []byte ordered lexicographically.  Values are simply []byte
// at this level; serialization and compression occur above the storage level.
package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"
	"github.com/twinj/uuid"

	"github.com/janelia-flyem/sparsevdb/vdb"
)

// Config selects an engine and tells it where its data lives.
type Config struct {
	Engine string `toml:"engine"`
	Path   string `toml:"path"`

	// Testing places Path under the system temporary directory.
	Testing bool `toml:"testing"`

	ReadOnly       bool  `toml:"read_only"`
	SyncWrites     bool  `toml:"sync_writes"`
	ValueThreshold int64 `toml:"value_threshold"`

	// LowMemory trades speed for smaller engine caches.
	LowMemory bool `toml:"low_memory"`
}

func (c Config) String() string {
	return fmt.Sprintf("%s @ %q", c.Engine, c.Path)
}

// Engine is a storage backend that can open stores.
type Engine interface {
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version
	String() string

	// NewStore opens the store described by config, returning true if it was
	// newly created.
	NewStore(config Config) (Store, bool, error)
}

// TestableEngine can hand out throwaway stores for tests.
type TestableEngine interface {
	Engine

	// TestConfig returns a configuration for a fresh, uniquely named store.
	TestConfig() Config

	// Delete removes every trace of the store described by config.
	Delete(config Config) error
}

// EngineInfo carries an engine's name and version and implements the
// descriptive methods of Engine for engines that embed it.
type EngineInfo struct {
	Name        string
	Description string
	Version     semver.Version
}

// NewEngineInfo panics on a malformed version since engines register at init.
func NewEngineInfo(name, description, version string) EngineInfo {
	return EngineInfo{name, description, semver.MustParse(version)}
}

func (e EngineInfo) GetName() string           { return e.Name }
func (e EngineInfo) GetDescription() string    { return e.Description }
func (e EngineInfo) GetSemVer() semver.Version { return e.Version }

func (e EngineInfo) String() string {
	return fmt.Sprintf("%s [%s]", e.Name, e.Version)
}

// TestConfig names a fresh store under the temporary directory.
func (e EngineInfo) TestConfig() Config {
	return Config{
		Engine:  e.Name,
		Path:    fmt.Sprintf("vdb-test-%s-%x", e.Name, uuid.NewV4().Bytes()),
		Testing: true,
	}
}

// StorePath returns the directory for a file-backed engine, placing testing
// stores under the temporary directory.
func StorePath(config Config) (string, error) {
	if config.Path == "" {
		return "", vdb.NewError(vdb.ValueError, "%s engine needs a path", config.Engine)
	}
	if config.Testing {
		return filepath.Join(os.TempDir(), config.Path), nil
	}
	return config.Path, nil
}

// KeyValue stores a key-value pair.
type KeyValue struct {
	K []byte
	V []byte
}

// KeyValues is a slice of key-value pairs that can be sorted by key.
type KeyValues []KeyValue

func (kv KeyValues) Len() int      { return len(kv) }
func (kv KeyValues) Swap(i, j int) { kv[i], kv[j] = kv[j], kv[i] }
func (kv KeyValues) Less(i, j int) bool {
	return bytes.Compare(kv[i].K, kv[j].K) < 0
}

// Store is an ordered key-value store.
type Store interface {
	fmt.Stringer

	// Get returns the value for key, or nil if the key is absent.
	Get(key []byte) ([]byte, error)

	// Exists returns true if key is present.
	Exists(key []byte) (bool, error)

	// Put writes a value with the given key.
	Put(key, value []byte) error

	// Delete removes the entry for key.  Deleting an absent key is not an error.
	Delete(key []byte) error

	// ProcessRange calls f for every pair with begin <= key <= end in key
	// order, stopping at the first error.
	ProcessRange(begin, end []byte, keysOnly bool, f func(KeyValue) error) error

	// NewBatch returns a write batch applied atomically on Commit.
	NewBatch() Batch

	Close() error
}

// Batch groups writes.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}

// GetRange returns the pairs with begin <= key <= end in key order.
func GetRange(s Store, begin, end []byte) (KeyValues, error) {
	var kvs KeyValues
	err := s.ProcessRange(begin, end, false, func(kv KeyValue) error {
		kvs = append(kvs, kv)
		return nil
	})
	return kvs, err
}

// KeysInRange returns the keys with begin <= key <= end in key order.
func KeysInRange(s Store, begin, end []byte) ([][]byte, error) {
	var keys [][]byte
	err := s.ProcessRange(begin, end, true, func(kv KeyValue) error {
		keys = append(keys, kv.K)
		return nil
	})
	return keys, err
}

// DeleteRange removes every pair with begin <= key <= end.
func DeleteRange(s Store, begin, end []byte) error {
	keys, err := KeysInRange(s, begin, end)
	if err != nil {
		return err
	}
	batch := s.NewBatch()
	for _, k := range keys {
		batch.Delete(k)
	}
	return batch.Commit()
}

// PrefixEnd returns the largest key with the given prefix for use as an
// inclusive range end.
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix), len(prefix)+8)
	copy(end, prefix)
	return append(end, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
}

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]Engine)
)

// RegisterEngine makes an engine available by name.  Registering the same
// name twice replaces the earlier engine.
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, found := engines[e.GetName()]; found {
		vdb.Warningf("storage engine %q registered twice\n", e.GetName())
	}
	engines[e.GetName()] = e
}

// GetEngine returns the engine registered under name.
func GetEngine(name string) (Engine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := engines[name]
	if !found {
		return nil, vdb.NewError(vdb.LookupError, "no storage engine %q compiled in; available: %s",
			name, enginesAvailable())
	}
	return e, nil
}

// EnginesAvailable returns a description of the registered engines.
func EnginesAvailable() string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return enginesAvailable()
}

func enginesAvailable() string {
	var names []string
	for _, e := range engines {
		names = append(names, e.String())
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// GetTestableEngine returns a registered engine that can create test stores,
// preferring the named one.
func GetTestableEngine(preferred string) (TestableEngine, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	if e, ok := engines[preferred].(TestableEngine); ok {
		return e, nil
	}
	var names []string
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if e, ok := engines[name].(TestableEngine); ok {
			return e, nil
		}
	}
	return nil, vdb.NewError(vdb.LookupError, "no testable storage engine registered")
}

// NewStore opens a store with the engine named in config.
func NewStore(config Config) (Store, bool, error) {
	e, err := GetEngine(config.Engine)
	if err != nil {
		return nil, false, err
	}
	store, created, err := e.NewStore(config)
	if err != nil {
		return nil, false, vdb.WrapError(vdb.IoError, err, "opening %s", config)
	}
	vdb.Infof("Opened %s (created %t)\n", store, created)
	return store, created, nil
}
