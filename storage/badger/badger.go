// Package badger registers a BadgerDB storage engine.  Importing it for side
// effects makes the "badger" engine available to storage.NewStore.
package badger

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/janelia-flyem/sparsevdb/storage"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

const (
	// DefaultValueThreshold is the size of values in bytes that if exceeded get
	// stored in the value log instead of the LSM tree.  Encoded leaf buffers
	// are at least 512 bytes, so most go to the value log.
	DefaultValueThreshold = 1 * vdb.Kilo

	// DefaultVersionsToKeep is the number of versions to keep per key.
	DefaultVersionsToKeep = 1

	// SyncInterval is how often buffered writes are synced to disk.
	SyncInterval = 30 * time.Second
)

func init() {
	storage.RegisterEngine(Engine{storage.NewEngineInfo("badger", "BadgerDB key-value store", "0.2.0")})
}

// Engine opens BadgerDB stores.
type Engine struct {
	storage.EngineInfo
}

// NewStore returns a badger store.  The passed Config must contain a path.
func (e Engine) NewStore(config storage.Config) (storage.Store, bool, error) {
	return e.newDB(config)
}

// syncLoop flushes the value log every SyncInterval until the store closes.
func (db *BadgerDB) syncLoop() {
	tick := time.NewTicker(SyncInterval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if err := db.bdp.Sync(); err != nil {
				vdb.Errorf("sync of %s failed: %v\n", db, err)
			}
		case <-db.stopSyncCh:
			vdb.Debugf("sync loop for %s stopped\n", db)
			return
		}
	}
}

func (e Engine) newDB(config storage.Config) (*BadgerDB, bool, error) {
	path, err := storage.StorePath(config)
	if err != nil {
		return nil, false, err
	}

	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)
	switch {
	case created && config.ReadOnly:
		return nil, false, vdb.NewError(vdb.LookupError, "no badger store at %s to open read-only", path)
	case created:
		vdb.Infof("creating badger store directory %s\n", path)
		if err := os.MkdirAll(path, 0744); err != nil {
			return nil, false, vdb.WrapError(vdb.IoError, err, "creating %s", path)
		}
	}

	timedLog := vdb.NewTimeLog()
	bdp, err := badger.Open(getOptions(path, config))
	if err != nil {
		return nil, false, err
	}
	timedLog.Debugf("opened badger store %s (read-only %t)", path, config.ReadOnly)

	db := &BadgerDB{
		directory:  path,
		config:     config,
		bdp:        bdp,
		stopSyncCh: make(chan struct{}),
	}
	if !config.ReadOnly {
		go db.syncLoop()
	}
	return db, created, nil
}

// Delete removes the store directory.  A missing directory is not an error.
func (e Engine) Delete(config storage.Config) error {
	path, err := storage.StorePath(config)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return vdb.WrapError(vdb.IoError, err, "removing badger store %s", path)
	}
	return nil
}

// BadgerDB is a storage.Store backed by a BadgerDB directory.
type BadgerDB struct {
	directory string
	config    storage.Config
	bdp       *badger.DB

	stopSyncCh chan struct{}
	closeOnce  sync.Once
}

var errNilDB = vdb.NewError(vdb.RuntimeError, "badger store is nil")

func (db *BadgerDB) String() string {
	return "badger @ " + db.directory
}

// Directory returns the directory holding the database files.
func (db *BadgerDB) Directory() string {
	return db.directory
}

// Close closes the BadgerDB.  Closing twice is a no-op.
func (db *BadgerDB) Close() error {
	if db == nil || db.bdp == nil {
		return nil
	}
	var err error
	db.closeOnce.Do(func() {
		if !db.config.ReadOnly {
			close(db.stopSyncCh)
		}
		err = db.bdp.Close()
		vdb.Infof("closed %s\n", db)
	})
	return err
}

// lookup runs fn on the item for key inside a read transaction.  fn is not
// called for an absent key.
func (db *BadgerDB) lookup(key []byte, fn func(*badger.Item) error) error {
	if db == nil {
		return errNilDB
	}
	return db.bdp.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return err
		}
		return fn(item)
	})
}

func (db *BadgerDB) Get(key []byte) (value []byte, err error) {
	err = db.lookup(key, func(item *badger.Item) error {
		value, err = item.ValueCopy([]byte{})
		return err
	})
	return
}

func (db *BadgerDB) Exists(key []byte) (found bool, err error) {
	err = db.lookup(key, func(*badger.Item) error {
		found = true
		return nil
	})
	return
}

func (db *BadgerDB) update(fn func(txn *badger.Txn) error) error {
	if db == nil {
		return errNilDB
	}
	return db.bdp.Update(fn)
}

func (db *BadgerDB) Put(key, value []byte) error {
	return db.update(func(txn *badger.Txn) error { return txn.Set(key, value) })
}

func (db *BadgerDB) Delete(key []byte) error {
	return db.update(func(txn *badger.Txn) error { return txn.Delete(key) })
}

// ProcessRange iterates within a single read transaction.
func (db *BadgerDB) ProcessRange(begin, end []byte, keysOnly bool, f func(storage.KeyValue) error) error {
	if db == nil {
		return errNilDB
	}
	return db.bdp.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = !keysOnly
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(begin); it.Valid() && bytes.Compare(it.Item().Key(), end) <= 0; it.Next() {
			item := it.Item()
			kv := storage.KeyValue{K: item.KeyCopy(nil)}
			if !keysOnly {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				kv.V = v
			}
			if err := f(kv); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewBatch returns a write batch that keeps the first error until Commit.
func (db *BadgerDB) NewBatch() storage.Batch {
	return &writeBatch{wb: db.bdp.NewWriteBatch()}
}

type writeBatch struct {
	wb  *badger.WriteBatch
	err error
}

func (batch *writeBatch) Put(key, value []byte) {
	if batch.err != nil {
		return
	}
	if err := batch.wb.Set(key, value); err != nil {
		vdb.Errorf("unable to write key-value with key %x, value %d bytes: %v\n", key, len(value), err)
		batch.err = err
	}
}

func (batch *writeBatch) Delete(key []byte) {
	if batch.err != nil {
		return
	}
	if err := batch.wb.Delete(key); err != nil {
		vdb.Errorf("unable to delete key %x: %v\n", key, err)
		batch.err = err
	}
}

// Commit flushes the batch, returning the first error from Put or Delete if any.
func (batch *writeBatch) Commit() error {
	if batch.err != nil {
		batch.wb.Cancel()
		return batch.err
	}
	return batch.wb.Flush()
}
