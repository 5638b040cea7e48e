// ABOUTME: BlobStore interface and shared errors for keyed blob persistence
// ABOUTME: Implemented by SQLiteStore and MemoryStore

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no blob exists under the key.
var ErrNotFound = errors.New("store: key not found")

// BlobStore persists opaque blobs under string keys.
type BlobStore interface {
	// Put writes data under key, overwriting any previous value.
	// It reports whether the key already existed.
	Put(ctx context.Context, key string, data []byte) (existed bool, err error)

	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Close releases the store's resources.
	Close() error
}
