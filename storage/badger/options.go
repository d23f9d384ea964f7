package badger

import (
	"github.com/dgraph-io/badger/v3"

	"github.com/janelia-flyem/sparsevdb/storage"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

// badgerLogger routes badger's own messages through the vdb logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{})   { vdb.Errorf(format, args...) }
func (badgerLogger) Warningf(format string, args ...interface{}) { vdb.Warningf(format, args...) }
func (badgerLogger) Infof(format string, args ...interface{})    { vdb.Debugf(format, args...) }
func (badgerLogger) Debugf(format string, args ...interface{})   { vdb.Debugf(format, args...) }

func getOptions(path string, config storage.Config) badger.Options {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{}).
		WithNumVersionsToKeep(DefaultVersionsToKeep).
		WithSyncWrites(config.SyncWrites).
		WithReadOnly(config.ReadOnly)

	if config.ValueThreshold > 0 {
		opts = opts.WithValueThreshold(config.ValueThreshold)
	} else {
		opts = opts.WithValueThreshold(DefaultValueThreshold)
	}

	if config.LowMemory {
		vdb.Infof("Using Badger with low memory options.\n")
		opts = opts.WithValueLogFileSize(1 << 20) // smallest badger accepts
		opts = opts.WithMemTableSize(8 << 20)
		opts = opts.WithBlockCacheSize(1 << 20)
		opts = opts.WithIndexCacheSize(1 << 20)
		opts = opts.WithNumMemtables(1)
	}
	return opts
}
