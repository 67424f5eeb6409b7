package cache

import (
	"context"
	"sync"
)

// MemoryStore is a map-backed Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]float32
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]float32)}
}

func (m *MemoryStore) GetMany(_ context.Context, keys []string) (map[string][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]float32, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = cloneVector(v)
		}
	}
	return out, nil
}

func (m *MemoryStore) PutMany(_ context.Context, entries map[string][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range entries {
		m.data[k] = cloneVector(v)
	}
	return nil
}

// Len returns the number of cached vectors.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) Close() error { return nil }
