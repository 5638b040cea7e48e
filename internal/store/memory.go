// ABOUTME: In-memory BlobStore used by tests and ephemeral deployments
// ABOUTME: Map-backed with copy-on-read semantics

package store

import (
	"context"
	"sync"
)

// MemoryStore implements BlobStore on a plain map. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

// Put writes data under key, overwriting any previous value.
func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.blobs[key]
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return existed, nil
}

// Get returns the blob stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
