// Package config loads the TOML configuration shared by the command-line
// tools: logging, the backing store and its cache, the tree hierarchy, and
// defaults for morphology and serialization.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/sparsevdb/storage"
	"github.com/janelia-flyem/sparsevdb/stream"
	"github.com/janelia-flyem/sparsevdb/tools"
	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

// DefaultCacheMB is the size of the leaf cache when none is configured.
const DefaultCacheMB = 64

// Config is the parsed TOML configuration.
type Config struct {
	Logging    LoggingConfig
	Store      storage.Config
	Cache      CacheConfig
	Tree       tree.Config
	Morphology MorphologyConfig
	Stream     StreamConfig
	Workers    int `toml:"workers"`

	// location of the file this was loaded from, if any
	location string
}

// LoggingConfig adds a severity threshold to the log file settings.
type LoggingConfig struct {
	vdb.LogConfig
	Level string `toml:"level"`
}

// CacheConfig sizes the in-memory cache in front of the store.  A size of
// zero or less disables it.
type CacheConfig struct {
	Size int `toml:"size"` // megabytes
}

// MorphologyConfig holds defaults for dilation and erosion.
type MorphologyConfig struct {
	Neighbors  string `toml:"neighbors"`
	Tiles      string `toml:"tiles"`
	Iterations int    `toml:"iterations"`
}

// StreamConfig holds defaults for writing trees.
type StreamConfig struct {
	Compression string `toml:"compression"`
	Checksum    string `toml:"checksum"`
}

// Default returns the configuration used when no file is given: an
// in-memory store, the 5-4-3 hierarchy, face connectivity and snappy.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Store:   storage.Config{Engine: "memory", Path: "vdb"},
		Cache:   CacheConfig{Size: DefaultCacheMB},
		Tree:    tree.DefaultConfig(),
		Morphology: MorphologyConfig{
			Neighbors:  "face",
			Tiles:      "preserve",
			Iterations: 1,
		},
		Stream: StreamConfig{Compression: "snappy", Checksum: "crc32"},
	}
}

// Load reads a TOML file over the defaults.  Relative paths in the file are
// taken relative to the file's directory.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return nil, vdb.NewError(vdb.ValueError, "no TOML configuration file provided")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, vdb.WrapError(vdb.IoError, err, "reading config %q", filename)
	}
	c, err := Parse(string(data), filepath.Dir(filename))
	if err != nil {
		return nil, vdb.WrapError(vdb.KindOf(err), err, "config %q", filename)
	}
	c.location = filename
	return c, nil
}

// Parse decodes TOML content over the defaults, resolving relative paths
// against baseDir.
func Parse(content, baseDir string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(content, c)
	if err != nil {
		return nil, vdb.WrapError(vdb.ValueError, err, "could not decode TOML config")
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		vdb.Warningf("ignoring unknown config keys: %v\n", undecoded)
	}
	c.convertPathsToAbsolute(baseDir)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Some settings can be given as relative paths.  This converts them in place
// to absolute paths relative to the config file's directory.
func (c *Config) convertPathsToAbsolute(baseDir string) {
	if baseDir == "" {
		return
	}
	// [logging].logfile
	c.Logging.Logfile = vdb.ConvertToAbsolute(c.Logging.Logfile, baseDir)

	// [store].path, unless it is placed in the temporary directory
	if !c.Store.Testing && c.Store.Engine != "memory" {
		c.Store.Path = vdb.ConvertToAbsolute(c.Store.Path, baseDir)
	}
}

// Validate checks every setting that has a fixed vocabulary.
func (c *Config) Validate() error {
	if _, err := c.LogMode(); err != nil {
		return err
	}
	if err := c.Tree.Validate(); err != nil {
		return err
	}
	if _, _, err := c.Morphology.Options(); err != nil {
		return err
	}
	if c.Morphology.Iterations < 0 {
		return vdb.NewError(vdb.ValueError, "morphology iterations must be non-negative, got %d", c.Morphology.Iterations)
	}
	if _, err := c.Stream.Options(); err != nil {
		return err
	}
	if c.Store.Engine == "" {
		return vdb.NewError(vdb.ValueError, "no storage engine configured")
	}
	if c.Workers < 0 {
		return vdb.NewError(vdb.ValueError, "workers must be non-negative, got %d", c.Workers)
	}
	return nil
}

// LogMode returns the severity threshold named by [logging].level.
func (c *Config) LogMode() (vdb.ModeFlag, error) {
	return vdb.ParseLogMode(c.Logging.Level)
}

// Apply installs the logging and worker settings process-wide.
func (c *Config) Apply() error {
	mode, err := c.LogMode()
	if err != nil {
		return err
	}
	vdb.SetLogMode(mode)
	c.Logging.SetLogger()
	if c.Workers > 0 {
		vdb.NumWorkers = c.Workers
	}
	if c.location != "" {
		vdb.Infof("Configuration loaded from %s\n", c.location)
	}
	return nil
}

// Options returns the parsed connectivity and tile policy.
func (m MorphologyConfig) Options() (tools.NearestNeighbors, tools.TilePolicy, error) {
	nn, err := tools.ParseNearestNeighbors(m.Neighbors)
	if err != nil {
		return nn, 0, err
	}
	policy, err := tools.ParseTilePolicy(m.Tiles)
	return nn, policy, err
}

// Options returns the parsed compression and checksum.
func (s StreamConfig) Options() (stream.Options, error) {
	compress, err := vdb.ParseCompression(s.Compression)
	if err != nil {
		return stream.Options{}, err
	}
	checksum, err := vdb.ParseChecksum(s.Checksum)
	if err != nil {
		return stream.Options{}, err
	}
	return stream.Options{Compression: compress, Checksum: checksum}, nil
}

// OpenStore opens the configured store, wrapped in a cache unless the cache
// is disabled.
func (c *Config) OpenStore() (storage.Store, error) {
	store, _, err := storage.NewStore(c.Store)
	if err != nil {
		return nil, err
	}
	if c.Cache.Size <= 0 {
		return store, nil
	}
	return storage.NewCachedStore(store, c.Cache.Size*vdb.Mega), nil
}

func (c *Config) String() string {
	return fmt.Sprintf("store %s, tree %s, %s/%s morphology, %s/%s streams",
		c.Store, c.Tree, c.Morphology.Neighbors, c.Morphology.Tiles, c.Stream.Compression, c.Stream.Checksum)
}
