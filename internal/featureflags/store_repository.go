package featureflags

import (
	"context"
	"errors"

	"github.com/docsmith/docsmith/internal/kvstore"
)

// OverridesKey is the store key holding the override map.
const OverridesKey = "feature.overrides"

// StoreRepository persists overrides in a kvstore.Store.
type StoreRepository struct {
	store kvstore.Store
}

// NewStoreRepository creates a repository on top of store.
func NewStoreRepository(store kvstore.Store) *StoreRepository {
	return &StoreRepository{store: store}
}

// LoadOverrides reads the override map.
func (r *StoreRepository) LoadOverrides(ctx context.Context) (map[string]bool, error) {
	overrides := make(map[string]bool)
	err := kvstore.GetJSON(ctx, r.store, OverridesKey, &overrides)
	if errors.Is(err, kvstore.ErrNotFound) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return map[string]bool{}, err
	}
	if overrides == nil {
		overrides = map[string]bool{}
	}
	return overrides, nil
}

// SaveOverrides writes the override map.
func (r *StoreRepository) SaveOverrides(ctx context.Context, overrides map[string]bool) error {
	return kvstore.SetJSON(ctx, r.store, OverridesKey, overrides)
}

// Ensure StoreRepository implements OverrideRepository interface.
var _ OverrideRepository = (*StoreRepository)(nil)
