// Package storage provides the durable key-value capability used to persist
// session data and consumer bookkeeping on the device.
//
// Every adapter treats a missing key as "not found" rather than an error, and
// the batched variants operate on all keys in one call where the backend
// allows it.
package storage

import (
	"context"
	"sync"
)

// Store is a durable string key-value store with batched variants.
type Store interface {
	// Get returns the value for key. found is false when the key does not exist.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// MultiGet returns the values of the keys that exist; missing keys are absent from the map.
	MultiGet(ctx context.Context, keys ...string) (map[string]string, error)
	// MultiSet stores all pairs.
	MultiSet(ctx context.Context, pairs map[string]string) error
	// MultiRemove deletes all keys.
	MultiRemove(ctx context.Context, keys ...string) error
}

// MemoryStore is a process-local Store. It is the default for tests and for
// consumers that do not need durability.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) MultiGet(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) MultiSet(_ context.Context, pairs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range pairs {
		m.data[k] = v
	}
	return nil
}

func (m *MemoryStore) MultiRemove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
