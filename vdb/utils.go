package vdb

import (
	"path/filepath"
	"runtime"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// NumWorkers returns the number of goroutines used by parallel tree operations.
var NumWorkers = runtime.NumCPU()

// ConvertToAbsolute returns path made absolute relative to base if it isn't already.
func ConvertToAbsolute(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
