package credentials

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend is the in-process Backend. Records are deep-copied on
// the way in and out so callers never share buffers with the store.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*Record)}
}

// Put upserts a record.
func (m *MemoryBackend) Put(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Key] = record.Clone()
	return nil
}

// Fetch returns a record by key.
func (m *MemoryBackend) Fetch(ctx context.Context, key string) (*Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

// Remove deletes a record, reporting whether it existed.
func (m *MemoryBackend) Remove(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; !ok {
		return false, nil
	}
	delete(m.records, key)
	return true, nil
}

// List returns every record sorted by key.
func (m *MemoryBackend) List(ctx context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
