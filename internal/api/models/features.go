package models

import "github.com/docsmith/docsmith/internal/featureflags"

// FeatureList is the body of GET /v1/features.
type FeatureList struct {
	Role     string                  `json:"role"`
	Enabled  map[string]bool         `json:"enabled"`
	Features []featureflags.Decision `json:"features"`
}

// OverrideRequest is the body of PUT /v1/admin/features/{name}. A null
// enabled clears the override.
type OverrideRequest struct {
	Enabled *bool `json:"enabled"`
}

// FeatureState is the response to an override change.
type FeatureState struct {
	Feature  string                 `json:"feature"`
	Override *featureflags.Override `json:"override,omitempty"`
	Decision featureflags.Decision  `json:"decision"`
}
