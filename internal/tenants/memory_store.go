package tenants

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a Store backed by process memory, for tests and local
// development.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewMemoryStore creates an empty in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]Tenant)}
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Save(ctx context.Context, t Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Tenant
	for _, t := range s.tenants {
		if t.Status == StatusActive && len(t.InfraProgramInput) > 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
