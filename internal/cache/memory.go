package cache

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore is a process-local Store used by tests and offline dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, endpoint, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.entries[endpoint][key]
	return bytes.Clone(p), ok, nil
}

func (m *MemoryStore) Put(_ context.Context, endpoint, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[endpoint] == nil {
		m.entries[endpoint] = make(map[string][]byte)
	}
	m.entries[endpoint][key] = bytes.Clone(payload)
	return nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{ByEndpoint: make(map[string]int, len(m.entries))}
	for endpoint, keys := range m.entries {
		st.ByEndpoint[endpoint] = len(keys)
		st.Entries += len(keys)
	}
	return st, nil
}

func (m *MemoryStore) Close() error { return nil }
