package scheduler

import (
	"context"
	"sort"
	"sync"
)

// JobStore persists job definitions. The scheduler treats it as a simple
// keyed CRUD collaborator.
type JobStore interface {
	Save(ctx context.Context, job *Job) error
	Load(ctx context.Context, id string) (*Job, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]*Job, error)
}

// MemoryJobStore is the in-process JobStore.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

// Save upserts a job.
func (m *MemoryJobStore) Save(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	return nil
}

// Load returns a job by ID.
func (m *MemoryJobStore) Load(ctx context.Context, id string) (*Job, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return job.Clone(), true, nil
}

// Delete removes a job, reporting whether it existed.
func (m *MemoryJobStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return false, nil
	}
	delete(m.jobs, id)
	return true, nil
}

// List returns every job sorted by ID.
func (m *MemoryJobStore) List(ctx context.Context) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
