// Package storage provides the durable key-value surface backing the offline
// queue, session credentials, and other client state. Values are opaque bytes;
// callers own their own serialization.
package storage

import "errors"

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("storage: key not found")

// KV is the key-value contract shared by all backends.
type KV interface {
	// GetItem returns the value for key, or ErrNotFound.
	GetItem(key string) ([]byte, error)
	// SetItem stores value under key, overwriting any previous value.
	SetItem(key string, value []byte) error
	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(key string) error
	// MultiRemove deletes all given keys in one batch.
	MultiRemove(keys []string) error
	// GetAllKeys returns every stored key in lexicographic order.
	GetAllKeys() ([]string, error)
	// KeysWithPrefix returns stored keys beginning with prefix, in
	// lexicographic order.
	KeysWithPrefix(prefix string) ([]string, error)
	// Close releases the backing store.
	Close() error
}
