package featureflags_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/docsmith/docsmith/internal/featureflags"
	"github.com/docsmith/docsmith/internal/kvstore"
)

type fixedHealth struct {
	mu    sync.Mutex
	score float64
}

func (h *fixedHealth) Health() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.score
}

func (h *fixedHealth) set(score float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.score = score
}

type failingRepository struct{}

func (failingRepository) LoadOverrides(context.Context) (map[string]bool, error) {
	return nil, errors.New("storage unavailable")
}

func (failingRepository) SaveOverrides(context.Context, map[string]bool) error {
	return errors.New("storage unavailable")
}

func newGate(t *testing.T, repo featureflags.OverrideRepository, health featureflags.HealthReader, online *atomic.Bool) *featureflags.Gate {
	t.Helper()
	return featureflags.NewGate(context.Background(), featureflags.GateConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		Health:     health,
		Online:     online.Load,
	})
}

func onlineFlag(v bool) *atomic.Bool {
	var b atomic.Bool
	b.Store(v)
	return &b
}

func TestGate_DefaultsWhenHealthy(t *testing.T) {
	gate := newGate(t, featureflags.NewInMemoryRepository(), &fixedHealth{score: 100}, onlineFlag(true))
	ctx := context.Background()

	for _, name := range []string{
		featureflags.FeatureEditing,
		featureflags.FeatureCollaboration,
		featureflags.FeatureMarketplace,
		featureflags.FeatureUploads,
	} {
		if !gate.IsEnabled(ctx, name, "editor") {
			t.Errorf("expected %s to be enabled at full health", name)
		}
	}

	if gate.IsEnabled(ctx, "teleportation", "admin") {
		t.Error("expected unknown feature to be disabled")
	}
	if got := gate.Explain(ctx, "teleportation", "admin").Reason; got != featureflags.ReasonUnknown {
		t.Errorf("Reason = %q, want %q", got, featureflags.ReasonUnknown)
	}
}

func TestGate_RequiredRoles(t *testing.T) {
	gate := newGate(t, featureflags.NewInMemoryRepository(), &fixedHealth{score: 100}, onlineFlag(true))
	ctx := context.Background()

	if gate.IsEnabled(ctx, featureflags.FeatureAnalyticsDashboard, "") {
		t.Error("expected dashboard to be disabled without a role")
	}
	if gate.IsEnabled(ctx, featureflags.FeatureAnalyticsDashboard, "editor") {
		t.Error("expected dashboard to be disabled for editor")
	}
	if !gate.IsEnabled(ctx, featureflags.FeatureAnalyticsDashboard, "admin") {
		t.Error("expected dashboard to be enabled for admin")
	}
}

func TestGate_Offline(t *testing.T) {
	online := onlineFlag(false)
	gate := newGate(t, featureflags.NewInMemoryRepository(), &fixedHealth{score: 100}, online)
	ctx := context.Background()

	if gate.IsEnabled(ctx, featureflags.FeatureCollaboration, "editor") {
		t.Error("expected collaboration to be disabled offline")
	}
	if !gate.IsEnabled(ctx, featureflags.FeatureEditing, "editor") {
		t.Error("expected editing to stay enabled offline")
	}

	// polled per call
	online.Store(true)
	if !gate.IsEnabled(ctx, featureflags.FeatureCollaboration, "editor") {
		t.Error("expected collaboration to be enabled once back online")
	}
}

func TestGate_HealthThresholds(t *testing.T) {
	health := &fixedHealth{score: 55}
	gate := newGate(t, featureflags.NewInMemoryRepository(), health, onlineFlag(true))
	ctx := context.Background()

	if gate.IsEnabled(ctx, featureflags.FeatureCollaboration, "editor") {
		t.Error("expected collaboration to degrade at 55")
	}
	if got := gate.Explain(ctx, featureflags.FeatureCollaboration, "editor").Reason; got != featureflags.ReasonHealth {
		t.Errorf("Reason = %q, want %q", got, featureflags.ReasonHealth)
	}
	if !gate.IsEnabled(ctx, featureflags.FeatureUploads, "editor") {
		t.Error("expected uploads to survive at 55")
	}

	health.set(3)
	for _, name := range gate.ListNonCritical() {
		if gate.IsEnabled(ctx, name, "admin") {
			t.Errorf("expected non-critical %s to be disabled at health 3", name)
		}
	}
	if !gate.IsEnabled(ctx, featureflags.FeatureEditing, "editor") {
		t.Error("expected editing to survive at health 3")
	}
	if !gate.IsEnabled(ctx, featureflags.FeatureLocalBackup, "editor") {
		t.Error("expected local backup to survive at health 3")
	}
}

func TestGate_OverrideWinsAndClears(t *testing.T) {
	health := &fixedHealth{score: 0}
	repo := featureflags.NewInMemoryRepository()
	gate := newGate(t, repo, health, onlineFlag(false))
	ctx := context.Background()

	enabled := true
	if err := gate.SetOverride(ctx, featureflags.FeatureAnalyticsDashboard, &enabled); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if !gate.IsEnabled(ctx, featureflags.FeatureAnalyticsDashboard, "") {
		t.Error("expected override to win over role, connectivity and health")
	}

	o, ok := gate.Override(featureflags.FeatureAnalyticsDashboard)
	if !ok || !o.Value || o.Source != featureflags.SourceManual {
		t.Errorf("Override() = %+v, %v", o, ok)
	}

	stored, _ := repo.LoadOverrides(ctx)
	if v, ok := stored[featureflags.FeatureAnalyticsDashboard]; !ok || !v {
		t.Errorf("expected override to be persisted, got %v", stored)
	}

	if err := gate.SetOverride(ctx, featureflags.FeatureAnalyticsDashboard, nil); err != nil {
		t.Fatalf("SetOverride(nil): %v", err)
	}
	if gate.IsEnabled(ctx, featureflags.FeatureAnalyticsDashboard, "") {
		t.Error("expected rule-based evaluation after clearing override")
	}
	stored, _ = repo.LoadOverrides(ctx)
	if len(stored) != 0 {
		t.Errorf("expected persisted overrides to be empty, got %v", stored)
	}
}

func TestGate_ApplyOverrideRecordsSource(t *testing.T) {
	gate := newGate(t, featureflags.NewInMemoryRepository(), nil, onlineFlag(true))
	ctx := context.Background()

	if err := gate.ApplyOverride(ctx, featureflags.FeatureMarketplace, false, "template_degradation"); err != nil {
		t.Fatalf("ApplyOverride: %v", err)
	}
	o, ok := gate.Override(featureflags.FeatureMarketplace)
	if !ok || o.Value || o.Source != "template_degradation" {
		t.Errorf("Override() = %+v, %v", o, ok)
	}

	err := gate.ApplyOverride(ctx, "teleportation", true, "x")
	if !errors.Is(err, featureflags.ErrUnknownFeature) {
		t.Errorf("expected ErrUnknownFeature, got %v", err)
	}
}

func TestGate_LoadsPersistedOverrides(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	first := newGate(t, featureflags.NewStoreRepository(store), nil, onlineFlag(true))
	disabled := false
	if err := first.SetOverride(ctx, featureflags.FeatureUploads, &disabled); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}

	second := newGate(t, featureflags.NewStoreRepository(store), nil, onlineFlag(true))
	if second.IsEnabled(ctx, featureflags.FeatureUploads, "editor") {
		t.Error("expected persisted override to survive restart")
	}
	o, ok := second.Override(featureflags.FeatureUploads)
	if !ok || o.Source != featureflags.SourceManual {
		t.Errorf("Override() after restart = %+v, %v", o, ok)
	}
}

func TestGate_StrategyOverridesNotPersisted(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	first := newGate(t, featureflags.NewStoreRepository(store), nil, onlineFlag(true))
	enabled := true
	if err := first.SetOverride(ctx, featureflags.FeatureComments, &enabled); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if err := first.ApplyOverride(ctx, featureflags.FeatureMarketplace, false, "template_degradation"); err != nil {
		t.Fatalf("ApplyOverride: %v", err)
	}
	if o, _ := first.Override(featureflags.FeatureMarketplace); o.Source != "template_degradation" {
		t.Errorf("expected strategy source before restart, got %q", o.Source)
	}

	second := newGate(t, featureflags.NewStoreRepository(store), nil, onlineFlag(true))
	if _, ok := second.Override(featureflags.FeatureMarketplace); ok {
		t.Error("expected strategy override to stay in memory only")
	}
	if o, ok := second.Override(featureflags.FeatureComments); !ok || !o.Value || o.Source != featureflags.SourceManual {
		t.Errorf("expected manual override to survive restart, got %+v, %v", o, ok)
	}
}

func TestGate_StrategyOverrideReplacingManualDropsItFromStorage(t *testing.T) {
	ctx := context.Background()
	repo := featureflags.NewInMemoryRepository()
	gate := newGate(t, repo, nil, onlineFlag(true))

	disabled := false
	if err := gate.SetOverride(ctx, featureflags.FeatureUploads, &disabled); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if err := gate.ApplyOverride(ctx, featureflags.FeatureUploads, false, "network_fallback"); err != nil {
		t.Fatalf("ApplyOverride: %v", err)
	}

	stored, _ := repo.LoadOverrides(ctx)
	if _, ok := stored[featureflags.FeatureUploads]; ok {
		t.Errorf("expected strategy-owned override to be left out of storage, got %v", stored)
	}
}

func TestGate_OnlineHintFromContext(t *testing.T) {
	gate := newGate(t, nil, &fixedHealth{score: 100}, onlineFlag(true))

	offline := featureflags.WithOnline(context.Background(), false)
	d := gate.Explain(offline, featureflags.FeatureUploads, "editor")
	if d.Enabled || d.Reason != featureflags.ReasonOffline {
		t.Errorf("Explain() with offline hint = %+v", d)
	}
	if !gate.IsEnabled(offline, featureflags.FeatureLocalBackup, "editor") {
		t.Error("expected offline-capable feature to stay enabled")
	}

	gate = newGate(t, nil, &fixedHealth{score: 100}, onlineFlag(false))
	online := featureflags.WithOnline(context.Background(), true)
	if !gate.IsEnabled(online, featureflags.FeatureUploads, "editor") {
		t.Error("expected online hint to win over the configured connectivity check")
	}

	if _, ok := featureflags.OnlineFromContext(context.Background()); ok {
		t.Error("expected no hint on a bare context")
	}
}

func TestGate_IgnoresUnknownPersistedFeatures(t *testing.T) {
	repo := featureflags.NewInMemoryRepositoryWithOverrides(map[string]bool{
		"retired_feature":            true,
		featureflags.FeatureComments: false,
	})
	gate := newGate(t, repo, nil, onlineFlag(true))

	overrides := gate.Overrides()
	if len(overrides) != 1 {
		t.Errorf("expected 1 override, got %v", overrides)
	}
}

func TestGate_CorruptOverridesTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	if err := store.Set(ctx, featureflags.OverridesKey, []byte("{broken")); err != nil {
		t.Fatal(err)
	}

	gate := newGate(t, featureflags.NewStoreRepository(store), nil, onlineFlag(true))
	if len(gate.Overrides()) != 0 {
		t.Error("expected corrupt overrides to be ignored")
	}
	if !gate.IsEnabled(ctx, featureflags.FeatureComments, "editor") {
		t.Error("expected rule-based evaluation")
	}
}

func TestGate_PersistenceFailureKeepsOverrideInMemory(t *testing.T) {
	gate := newGate(t, failingRepository{}, nil, onlineFlag(true))
	ctx := context.Background()

	if err := gate.ApplyOverride(ctx, featureflags.FeatureHistory, false, "storage_cleanup"); err != nil {
		t.Fatalf("expected persistence failure to be swallowed, got %v", err)
	}
	if gate.IsEnabled(ctx, featureflags.FeatureHistory, "editor") {
		t.Error("expected in-memory override to apply")
	}
}

func TestGate_Lists(t *testing.T) {
	gate := newGate(t, nil, nil, onlineFlag(true))

	critical := gate.ListCritical()
	want := []string{"editing", "local_backup", "saving", "session"}
	if len(critical) != len(want) {
		t.Fatalf("ListCritical() = %v, want %v", critical, want)
	}
	for i := range want {
		if critical[i] != want[i] {
			t.Errorf("ListCritical()[%d] = %q, want %q", i, critical[i], want[i])
		}
	}

	if got := len(gate.ListNonCritical()); got != 8 {
		t.Errorf("expected 8 non-critical features, got %d", got)
	}

	snapshot := gate.SnapshotAll(context.Background(), "admin")
	if len(snapshot) != 12 {
		t.Errorf("expected 12 features in snapshot, got %d", len(snapshot))
	}
	if len(gate.ExplainAll(context.Background(), "admin")) != 12 {
		t.Error("expected ExplainAll to cover every feature")
	}
}

func TestGate_ClearAllOverrides(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	gate := newGate(t, repo, nil, onlineFlag(true))
	ctx := context.Background()

	_ = gate.ApplyOverride(ctx, featureflags.FeatureExport, false, "x")
	_ = gate.ApplyOverride(ctx, featureflags.FeatureComments, false, "x")
	gate.ClearAllOverrides(ctx)

	if len(gate.Overrides()) != 0 {
		t.Error("expected no overrides")
	}
	stored, _ := repo.LoadOverrides(ctx)
	if len(stored) != 0 {
		t.Errorf("expected persisted overrides to be cleared, got %v", stored)
	}
}
