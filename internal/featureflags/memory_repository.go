package featureflags

import (
	"context"
	"sync"
)

// InMemoryRepository is an in-memory implementation of OverrideRepository for testing.
type InMemoryRepository struct {
	mu        sync.RWMutex
	overrides map[string]bool
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		overrides: make(map[string]bool),
	}
}

// NewInMemoryRepositoryWithOverrides creates a new in-memory repository with initial overrides.
func NewInMemoryRepositoryWithOverrides(overrides map[string]bool) *InMemoryRepository {
	repo := NewInMemoryRepository()
	for k, v := range overrides {
		repo.overrides[k] = v
	}
	return repo
}

// LoadOverrides returns a copy of the stored overrides.
func (r *InMemoryRepository) LoadOverrides(_ context.Context) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]bool, len(r.overrides))
	for k, v := range r.overrides {
		result[k] = v
	}
	return result, nil
}

// SaveOverrides replaces the stored overrides.
func (r *InMemoryRepository) SaveOverrides(_ context.Context, overrides map[string]bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.overrides = make(map[string]bool, len(overrides))
	for k, v := range overrides {
		r.overrides[k] = v
	}
	return nil
}

// Ensure InMemoryRepository implements OverrideRepository interface.
var _ OverrideRepository = (*InMemoryRepository)(nil)
