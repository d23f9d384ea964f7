// Package filestore implements a simple file-based store that fulfills the
// storage.Store interface.  Each key is written to its own file, named by the
// hex encoding of the key, under a directory chosen from the FNV hash of the
// key so no directory grows too large.
package filestore

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/janelia-flyem/sparsevdb/storage"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

func init() {
	storage.RegisterEngine(Engine{storage.NewEngineInfo("filestore", "One file per key under hashed directories", "0.2.0")})
}

// Engine opens file stores.
type Engine struct {
	storage.EngineInfo
}

// NewStore returns a file-based store. The passed Config must contain a path.
func (e Engine) NewStore(config storage.Config) (storage.Store, bool, error) {
	return e.newStore(config)
}

// Delete removes the store directory and everything in it.
func (e Engine) Delete(config storage.Config) error {
	path, err := storage.StorePath(config)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

type fileStore struct {
	path     string
	readOnly bool

	// mu orders batch commits against range scans.
	mu sync.RWMutex
}

// newStore returns a file-based key-value store, insuring a directory at the path.
func (e Engine) newStore(config storage.Config) (*fileStore, bool, error) {
	path, err := storage.StorePath(config)
	if err != nil {
		return nil, false, err
	}

	var created bool
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if config.ReadOnly {
			return nil, false, fmt.Errorf("no file store at %s to open read-only", path)
		}
		vdb.Infof("File store not already at path (%s). Creating ...\n", path)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, false, err
		}
		created = true
	} else {
		vdb.Infof("Found file store at %s\n", path)
	}
	return &fileStore{path: path, readOnly: config.ReadOnly}, created, nil
}

// ---- Store interface ------

func (fs *fileStore) String() string {
	return fmt.Sprintf("file store @ %s", fs.path)
}

func (fs *fileStore) Close() error { return nil }

func (fs *fileStore) filepathFromKey(k []byte) (dirpath, filename string) {
	h := fnv.New32()
	h.Write(k)
	hexHash := hex.EncodeToString(h.Sum(nil))
	dirpath = filepath.Join(fs.path, hexHash[0:2], hexHash[2:4], hexHash[4:])
	filename = "k" + hex.EncodeToString(k)
	return
}

func keyFromFilename(name string) ([]byte, bool) {
	if !strings.HasPrefix(name, "k") {
		return nil, false
	}
	k, err := hex.DecodeString(name[1:])
	return k, err == nil
}

// Get returns a value given a key, or nil if there is no file for the key.
func (fs *fileStore) Get(k []byte) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.get(k)
}

func (fs *fileStore) get(k []byte) ([]byte, error) {
	dirpath, filename := fs.filepathFromKey(k)
	data, err := os.ReadFile(filepath.Join(dirpath, filename))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (fs *fileStore) Exists(k []byte) (bool, error) {
	dirpath, filename := fs.filepathFromKey(k)
	_, err := os.Stat(filepath.Join(dirpath, filename))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Put writes a value with given key.  The value is written to a temporary
// file that is renamed into place so readers never see a partial value.
func (fs *fileStore) Put(k, v []byte) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.put(k, v)
}

func (fs *fileStore) put(k, v []byte) error {
	if fs.readOnly {
		return fmt.Errorf("cannot write to read-only %s", fs)
	}
	dirpath, filename := fs.filepathFromKey(k)
	if err := os.MkdirAll(dirpath, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dirpath, "tmp-")
	if err != nil {
		return err
	}
	if _, err := f.Write(v); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), filepath.Join(dirpath, filename))
}

// Delete removes a value with given key.
func (fs *fileStore) Delete(k []byte) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.delete(k)
}

func (fs *fileStore) delete(k []byte) error {
	if fs.readOnly {
		return fmt.Errorf("cannot delete from read-only %s", fs)
	}
	dirpath, filename := fs.filepathFromKey(k)
	err := os.Remove(filepath.Join(dirpath, filename))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ProcessRange walks every file in the store since hashed paths do not
// preserve key order, then visits the keys in range in sorted order.
func (fs *fileStore) ProcessRange(begin, end []byte, keysOnly bool, f func(storage.KeyValue) error) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var keys [][]byte
	err := filepath.WalkDir(fs.path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		k, ok := keyFromFilename(d.Name())
		if ok && bytes.Compare(k, begin) >= 0 && bytes.Compare(k, end) <= 0 {
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	for _, k := range keys {
		kv := storage.KeyValue{K: k}
		if !keysOnly {
			if kv.V, err = fs.get(k); err != nil {
				return err
			}
			if kv.V == nil {
				continue // removed since the walk
			}
		}
		if err := f(kv); err != nil {
			return err
		}
	}
	return nil
}

// NewBatch returns a batch whose writes are applied in order on Commit.
// A failed commit may leave earlier writes applied.
func (fs *fileStore) NewBatch() storage.Batch {
	return &batch{fs: fs}
}

type batch struct {
	fs  *fileStore
	ops []storage.KeyValue // nil V marks a delete
}

func (b *batch) Put(k, v []byte) {
	if v == nil {
		v = []byte{}
	}
	b.ops = append(b.ops, storage.KeyValue{K: k, V: v})
}

func (b *batch) Delete(k []byte) {
	b.ops = append(b.ops, storage.KeyValue{K: k})
}

func (b *batch) Commit() error {
	b.fs.mu.Lock()
	defer b.fs.mu.Unlock()
	for _, op := range b.ops {
		var err error
		if op.V == nil {
			err = b.fs.delete(op.K)
		} else {
			err = b.fs.put(op.K, op.V)
		}
		if err != nil {
			return fmt.Errorf("batch commit to %s failed on key %x: %v", b.fs, op.K, err)
		}
	}
	b.ops = nil
	return nil
}
