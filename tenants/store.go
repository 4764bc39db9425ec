package tenants

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/surajsub/tenant-provisioner/models"
)

// Store persists tenant records.
//
// Create must fail with ErrTenantExists when any record with the same id
// exists, whatever its status. Get returns nil, nil for an unknown id.
type Store interface {
	Create(ctx context.Context, tenant models.Tenant) error
	Get(ctx context.Context, id string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	UpdateStatus(ctx context.Context, id string, status models.Status, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]models.Tenant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: map[string]models.Tenant{}}
}

func (s *MemoryStore) Create(_ context.Context, tenant models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant.ID]; ok {
		return ErrTenantExists
	}
	s.tenants[tenant.ID] = tenant
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status models.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	t.Status = status
	t.UpdatedAt = at
	s.tenants[id] = t
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[id]; !ok {
		return ErrTenantNotFound
	}
	delete(s.tenants, id)
	return nil
}
