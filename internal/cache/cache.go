// Package cache provides the synchronous key/value substrate that backs
// conversation memory and the local message mirror.
//
// Values are opaque bytes; callers own serialization. Implementations must be
// safe for concurrent use.
package cache

import (
	"errors"
	"strings"
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache closed")

// Cache is a flat key/value store addressed by string keys.
type Cache interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(key string) (value []byte, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// ListKeys returns every key that starts with prefix, in ascending order.
	ListKeys(prefix string) ([]string, error)

	// Close releases resources held by the cache.
	Close() error
}

// New returns a SQLite-backed cache when path is set, otherwise an in-process map.
func New(path string) (Cache, error) {
	if strings.TrimSpace(path) == "" {
		return NewMap(), nil
	}
	return NewSQLite(path)
}

// Mode names the implementation behind c, for health reporting.
func Mode(c Cache) string {
	switch c.(type) {
	case *SQLite:
		return "sqlite"
	case *Map:
		return "in-memory"
	case nil:
		return "disabled"
	default:
		return "custom"
	}
}
