package featureflags

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownFeature is returned when a feature name is not in the table.
var ErrUnknownFeature = errors.New("unknown feature")

// SourceManual attributes an override to an operator or API call.
const SourceManual = "manual"

type onlineKey struct{}

// WithOnline returns a context carrying a caller-reported connectivity hint.
// The hint takes precedence over GateConfig.Online.
func WithOnline(ctx context.Context, online bool) context.Context {
	return context.WithValue(ctx, onlineKey{}, online)
}

// OnlineFromContext returns the connectivity hint stored by WithOnline.
func OnlineFromContext(ctx context.Context) (online, ok bool) {
	online, ok = ctx.Value(onlineKey{}).(bool)
	return online, ok
}

// Reason explains an IsEnabled decision.
type Reason string

const (
	ReasonOverride Reason = "override"
	ReasonRole     Reason = "role"
	ReasonOffline  Reason = "offline"
	ReasonHealth   Reason = "health"
	ReasonDefault  Reason = "default"
	ReasonUnknown  Reason = "unknown"
)

// HealthReader provides the current aggregate health score.
type HealthReader interface {
	Health() float64
}

// Override is a manual override together with the party that set it.
type Override struct {
	Value     bool      `json:"value"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decision is the outcome of evaluating one feature.
type Decision struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
	Reason  Reason `json:"reason"`
}

// GateConfig holds configuration for the feature gate.
type GateConfig struct {
	Repository OverrideRepository
	Logger     zerolog.Logger

	// Features is the static feature table. Defaults to DefaultFeatures().
	Features []FeatureConfig

	// Health supplies the aggregate score. A nil reader counts as full health.
	Health HealthReader

	// Online reports connectivity at call time. A nil func counts as online.
	Online func() bool
}

// Gate evaluates feature availability. It is safe for concurrent use.
type Gate struct {
	repo     OverrideRepository
	logger   zerolog.Logger
	health   HealthReader
	online   func() bool
	features map[string]FeatureConfig

	mu        sync.RWMutex
	overrides map[string]Override

	persistMu sync.Mutex
}

// NewGate creates a gate and loads persisted overrides. Overrides for
// features missing from the table are ignored; a failed load leaves the
// gate with no overrides.
func NewGate(ctx context.Context, cfg GateConfig) *Gate {
	features := cfg.Features
	if len(features) == 0 {
		features = DefaultFeatures()
	}
	repo := cfg.Repository
	if repo == nil {
		repo = NewInMemoryRepository()
	}

	g := &Gate{
		repo:      repo,
		logger:    cfg.Logger,
		health:    cfg.Health,
		online:    cfg.Online,
		features:  make(map[string]FeatureConfig, len(features)),
		overrides: make(map[string]Override),
	}
	for _, f := range features {
		g.features[f.Name] = f
	}

	g.Reload(ctx)
	return g
}

// Reload replaces the in-memory overrides with the persisted ones.
func (g *Gate) Reload(ctx context.Context) {
	stored, err := g.repo.LoadOverrides(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("failed to load feature overrides, starting without overrides")
		stored = nil
	}

	now := time.Now()
	overrides := make(map[string]Override, len(stored))
	for name, value := range stored {
		if _, ok := g.features[name]; !ok {
			g.logger.Debug().Str("feature", name).Msg("ignoring override for unknown feature")
			continue
		}
		overrides[name] = Override{Value: value, Source: SourceManual, UpdatedAt: now}
	}

	g.mu.Lock()
	g.overrides = overrides
	g.mu.Unlock()
}

// IsEnabled reports whether the feature is usable for role right now.
// Unknown features are disabled.
func (g *Gate) IsEnabled(ctx context.Context, name, role string) bool {
	return g.Explain(ctx, name, role).Enabled
}

// Explain evaluates the feature and reports which rule decided it.
func (g *Gate) Explain(ctx context.Context, name, role string) Decision {
	d := Decision{Feature: name}

	f, ok := g.features[name]
	if !ok {
		d.Reason = ReasonUnknown
		return d
	}

	g.mu.RLock()
	o, overridden := g.overrides[name]
	g.mu.RUnlock()

	switch {
	case overridden:
		d.Enabled, d.Reason = o.Value, ReasonOverride
	case !f.HasRole(role):
		d.Reason = ReasonRole
	case f.RequiresOnline && !g.isOnline(ctx):
		d.Reason = ReasonOffline
	case g.currentHealth() < f.MinSystemHealth:
		d.Reason = ReasonHealth
	default:
		d.Enabled, d.Reason = f.DefaultEnabled, ReasonDefault
	}
	return d
}

// SetOverride sets (value non-nil) or clears (value nil) a manual override.
func (g *Gate) SetOverride(ctx context.Context, name string, value *bool) error {
	if value == nil {
		return g.ClearOverride(ctx, name)
	}
	return g.ApplyOverride(ctx, name, *value, SourceManual)
}

// ApplyOverride sets an override attributed to source. Manual overrides are
// persisted; persistence failures are logged and the override still applies
// in memory.
func (g *Gate) ApplyOverride(ctx context.Context, name string, value bool, source string) error {
	if _, ok := g.features[name]; !ok {
		return ErrUnknownFeature
	}
	if source == "" {
		source = SourceManual
	}

	g.mu.Lock()
	g.overrides[name] = Override{Value: value, Source: source, UpdatedAt: time.Now()}
	g.mu.Unlock()

	g.logger.Info().
		Str("feature", name).
		Bool("value", value).
		Str("source", source).
		Msg("feature override applied")

	g.persist(ctx)
	return nil
}

// ClearOverride removes any override on the feature.
func (g *Gate) ClearOverride(ctx context.Context, name string) error {
	if _, ok := g.features[name]; !ok {
		return ErrUnknownFeature
	}

	g.mu.Lock()
	_, existed := g.overrides[name]
	delete(g.overrides, name)
	g.mu.Unlock()

	if existed {
		g.logger.Info().Str("feature", name).Msg("feature override cleared")
	}
	g.persist(ctx)
	return nil
}

// ClearAllOverrides removes every override.
func (g *Gate) ClearAllOverrides(ctx context.Context) {
	g.mu.Lock()
	g.overrides = make(map[string]Override)
	g.mu.Unlock()

	g.persist(ctx)
}

// Override returns the override on a feature, if any.
func (g *Gate) Override(name string) (Override, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.overrides[name]
	return o, ok
}

// Overrides returns a copy of all overrides.
func (g *Gate) Overrides() map[string]Override {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]Override, len(g.overrides))
	for k, v := range g.overrides {
		out[k] = v
	}
	return out
}

// Feature returns the static configuration of a feature.
func (g *Gate) Feature(name string) (FeatureConfig, bool) {
	f, ok := g.features[name]
	return f, ok
}

// ListCritical returns the critical feature names, sorted.
func (g *Gate) ListCritical() []string {
	return sortedNames(g.features, func(f FeatureConfig) bool { return f.Critical })
}

// ListNonCritical returns the non-critical feature names, sorted.
func (g *Gate) ListNonCritical() []string {
	return sortedNames(g.features, func(f FeatureConfig) bool { return !f.Critical })
}

// ListRequiringOnline returns the features that need connectivity, sorted.
func (g *Gate) ListRequiringOnline() []string {
	return sortedNames(g.features, func(f FeatureConfig) bool { return f.RequiresOnline })
}

// SnapshotAll maps every feature to its current availability for role.
func (g *Gate) SnapshotAll(ctx context.Context, role string) map[string]bool {
	out := make(map[string]bool, len(g.features))
	for name := range g.features {
		out[name] = g.IsEnabled(ctx, name, role)
	}
	return out
}

// ExplainAll evaluates every feature for role, sorted by name.
func (g *Gate) ExplainAll(ctx context.Context, role string) []Decision {
	names := sortedNames(g.features, func(FeatureConfig) bool { return true })
	out := make([]Decision, 0, len(names))
	for _, name := range names {
		out = append(out, g.Explain(ctx, name, role))
	}
	return out
}

func (g *Gate) isOnline(ctx context.Context) bool {
	if online, ok := OnlineFromContext(ctx); ok {
		return online
	}
	if g.online == nil {
		return true
	}
	return g.online()
}

func (g *Gate) currentHealth() float64 {
	if g.health == nil {
		return 100
	}
	return g.health.Health()
}

// persist writes the current manual overrides. Strategy overrides live in
// memory only, so a restart never reloads them under the wrong source.
// Writers are serialized so the last save always reflects the latest
// in-memory state.
func (g *Gate) persist(ctx context.Context) {
	g.persistMu.Lock()
	defer g.persistMu.Unlock()

	g.mu.RLock()
	flat := make(map[string]bool, len(g.overrides))
	for k, o := range g.overrides {
		if o.Source != SourceManual {
			continue
		}
		flat[k] = o.Value
	}
	g.mu.RUnlock()

	if err := g.repo.SaveOverrides(ctx, flat); err != nil {
		g.logger.Warn().Err(err).Msg("failed to persist feature overrides, keeping them in memory")
	}
}
