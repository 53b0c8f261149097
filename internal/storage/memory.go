package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps everything in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[Namespace]map[string]map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: map[Namespace]map[string]map[string][]byte{
			NamespaceSettings: {},
			NamespaceSecure:   {},
		},
	}
}

func (m *MemoryBackend) Get(_ context.Context, ns Namespace, owner, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[ns][owner][name]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(v), nil
}

func (m *MemoryBackend) Put(_ context.Context, ns Namespace, owner string, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.data[ns][owner]
	if !ok {
		entry = make(map[string][]byte, len(values))
		m.data[ns][owner] = entry
	}
	for name, v := range values {
		entry[name] = copyBytes(v)
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, ns Namespace, owner string, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.data[ns][owner]
	if !ok {
		return nil
	}
	for _, name := range names {
		delete(entry, name)
	}
	if len(entry) == 0 {
		delete(m.data[ns], owner)
	}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// owners returns the number of owners in ns, for tests.
func (m *MemoryBackend) owners(ns Namespace) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[ns])
}
