// Package featureflags decides whether named editor capabilities are usable
// given manual overrides, the caller's role, connectivity and system health.
package featureflags

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Well-known feature names.
const (
	// Critical features degrade last.
	FeatureEditing     = "editing"
	FeatureSaving      = "saving"
	FeatureSession     = "session"
	FeatureLocalBackup = "local_backup"

	// Non-critical features degrade first as health drops.
	FeatureCollaboration      = "collaboration"
	FeatureMarketplace        = "marketplace"
	FeatureUploads            = "uploads"
	FeatureComments           = "comments"
	FeatureHistory            = "history"
	FeatureTemplates          = "templates"
	FeatureExport             = "export"
	FeatureAnalyticsDashboard = "analytics_dashboard"
)

// ErrInvalidFeatureTable is returned when a feature table fails validation.
var ErrInvalidFeatureTable = errors.New("invalid feature table")

// FeatureConfig is the static configuration of one feature.
type FeatureConfig struct {
	Name            string   `json:"name" yaml:"name"`
	Critical        bool     `json:"critical" yaml:"critical"`
	DefaultEnabled  bool     `json:"default_enabled" yaml:"default_enabled"`
	RequiredRoles   []string `json:"required_roles,omitempty" yaml:"required_roles"`
	RequiresOnline  bool     `json:"requires_online" yaml:"requires_online"`
	MinSystemHealth float64  `json:"min_system_health" yaml:"min_system_health"`
}

// HasRole reports whether role satisfies the feature's role requirement.
func (f FeatureConfig) HasRole(role string) bool {
	if len(f.RequiredRoles) == 0 {
		return true
	}
	if role == "" {
		return false
	}
	for _, r := range f.RequiredRoles {
		if r == role {
			return true
		}
	}
	return false
}

// DefaultFeatures returns the built-in feature table.
func DefaultFeatures() []FeatureConfig {
	return []FeatureConfig{
		{Name: FeatureEditing, Critical: true, DefaultEnabled: true, MinSystemHealth: 0},
		{Name: FeatureSaving, Critical: true, DefaultEnabled: true, MinSystemHealth: 5},
		{Name: FeatureSession, Critical: true, DefaultEnabled: true, MinSystemHealth: 10},
		{Name: FeatureLocalBackup, Critical: true, DefaultEnabled: true, MinSystemHealth: 0},

		{Name: FeatureCollaboration, DefaultEnabled: true, RequiresOnline: true, MinSystemHealth: 70},
		{Name: FeatureMarketplace, DefaultEnabled: true, RequiresOnline: true, MinSystemHealth: 60},
		{Name: FeatureUploads, DefaultEnabled: true, RequiresOnline: true, MinSystemHealth: 50},
		{Name: FeatureComments, DefaultEnabled: true, RequiresOnline: true, MinSystemHealth: 50},
		{Name: FeatureHistory, DefaultEnabled: true, MinSystemHealth: 40},
		{Name: FeatureTemplates, DefaultEnabled: true, RequiresOnline: true, MinSystemHealth: 40},
		{Name: FeatureExport, DefaultEnabled: true, MinSystemHealth: 30},
		{
			Name:            FeatureAnalyticsDashboard,
			DefaultEnabled:  true,
			RequiredRoles:   []string{"admin"},
			RequiresOnline:  true,
			MinSystemHealth: 60,
		},
	}
}

type featureFile struct {
	Features []FeatureConfig `yaml:"features"`
}

// ParseFeatures decodes a YAML feature table.
func ParseFeatures(data []byte) ([]FeatureConfig, error) {
	var file featureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode feature table: %w", err)
	}
	if err := validate(file.Features); err != nil {
		return nil, err
	}
	return file.Features, nil
}

// LoadFeatures reads a YAML feature table from path.
func LoadFeatures(path string) ([]FeatureConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature table: %w", err)
	}
	return ParseFeatures(data)
}

func validate(features []FeatureConfig) error {
	if len(features) == 0 {
		return fmt.Errorf("%w: no features defined", ErrInvalidFeatureTable)
	}
	seen := make(map[string]struct{}, len(features))
	for _, f := range features {
		if f.Name == "" {
			return fmt.Errorf("%w: feature without a name", ErrInvalidFeatureTable)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate feature %q", ErrInvalidFeatureTable, f.Name)
		}
		if f.MinSystemHealth < 0 || f.MinSystemHealth > 100 {
			return fmt.Errorf("%w: %s min_system_health out of range", ErrInvalidFeatureTable, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

func sortedNames(features map[string]FeatureConfig, keep func(FeatureConfig) bool) []string {
	names := make([]string, 0, len(features))
	for name, f := range features {
		if keep(f) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
