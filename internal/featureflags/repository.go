package featureflags

import (
	"context"
)

// OverrideRepository persists manual overrides as a flat feature→value map.
type OverrideRepository interface {
	// LoadOverrides returns the stored overrides. A missing record is an
	// empty map, not an error.
	LoadOverrides(ctx context.Context) (map[string]bool, error)

	// SaveOverrides replaces the stored overrides.
	SaveOverrides(ctx context.Context, overrides map[string]bool) error
}
