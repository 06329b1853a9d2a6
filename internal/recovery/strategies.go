package recovery

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/docsmith/docsmith/internal/classifier"
	"github.com/docsmith/docsmith/internal/featureflags"
	"github.com/docsmith/docsmith/internal/kvstore"
)

// RateLimitPolicy shapes the backoff window suggested after throttling.
type RateLimitPolicy struct {
	// InitialInterval is the window after the first throttled request.
	// Default: 1 second
	InitialInterval time.Duration

	// MaxInterval caps the window.
	// Default: 1 minute
	MaxInterval time.Duration

	// RandomizationFactor spreads windows across clients.
	// Default: 0.5
	RandomizationFactor float64

	// MaxSteps bounds how far repeated throttling escalates the window.
	// Default: 8
	MaxSteps int

	// Lookback is how far back throttled requests count towards escalation.
	// Default: 5 minutes
	Lookback time.Duration
}

func (p RateLimitPolicy) withDefaults() RateLimitPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = time.Minute
	}
	if p.RandomizationFactor <= 0 {
		p.RandomizationFactor = backoff.DefaultRandomizationFactor
	}
	if p.MaxSteps <= 0 {
		p.MaxSteps = 8
	}
	if p.Lookback <= 0 {
		p.Lookback = 5 * time.Minute
	}
	return p
}

// Window returns the backoff window after step prior throttled requests.
func (p RateLimitPolicy) Window(step int) time.Duration {
	p = p.withDefaults()
	if step > p.MaxSteps {
		step = p.MaxSteps
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.RandomizationFactor = p.RandomizationFactor
	bo.MaxElapsedTime = 0
	bo.Reset()

	next := bo.NextBackOff()
	for i := 0; i < step; i++ {
		next = bo.NextBackOff()
	}
	return next
}

// networkSensitive lists features shed on connectivity loss and the facets
// that name them.
var networkSensitive = []struct {
	feature string
	facets  []string
}{
	{featureflags.FeatureMarketplace, []string{"marketplace"}},
	{featureflags.FeatureUploads, []string{"upload", "uploads"}},
}

// heavyFeatures lists features shed on timeouts and the facets that name them.
var heavyFeatures = []struct {
	feature string
	facets  []string
}{
	{featureflags.FeatureCollaboration, []string{"collaboration", "collab", "realtime"}},
	{featureflags.FeatureHistory, []string{"history", "revisions"}},
	{featureflags.FeatureExport, []string{"export", "pdf"}},
	{featureflags.FeatureAnalyticsDashboard, []string{"analytics", "dashboard"}},
}

// defaultHeavy is shed when the scope names no heavy feature.
var defaultHeavy = []string{featureflags.FeatureCollaboration, featureflags.FeatureHistory}

func documentBackup(a *attempt) Result {
	if !a.set(featureflags.FeatureLocalBackup, true, StrategyDocumentBackup) {
		return Result{Message: "Document storage failed and the local backup could not be enabled."}
	}
	purged, err := a.purge()
	msg := "Storage is failing; your document is protected by the local backup."
	if purged > 0 {
		msg = fmt.Sprintf("%s Freed %d cached entries.", msg, purged)
	}
	if err != nil {
		a.executor.logger.Warn().Err(err).Msg("failed to purge cached entries")
		msg = fmt.Sprintf("%s Some cached entries could not be removed: %v", msg, err)
	}
	return Result{Succeeded: true, Message: msg}
}

func offlineAuth(a *attempt) Result {
	ok := a.set(featureflags.FeatureSession, true, StrategyOfflineAuth)
	a.set(featureflags.FeatureCollaboration, false, StrategyOfflineAuth)
	a.set(featureflags.FeatureLocalBackup, true, StrategyOfflineAuth)
	if !ok {
		return Result{Message: "Sign-in could not reach the server and no cached session is available."}
	}
	return Result{
		Succeeded: true,
		Message:   "Sign-in could not reach the server; continuing with your cached session.",
	}
}

func templateDegradation(a *attempt) Result {
	if !a.set(featureflags.FeatureMarketplace, false, StrategyTemplateDegradation) {
		return Result{Message: "Templates are unavailable."}
	}
	return Result{
		Succeeded: true,
		Message:   "Template services are unavailable; the template marketplace is paused and built-in templates remain available.",
	}
}

func networkFallback(a *attempt) Result {
	a.set(featureflags.FeatureCollaboration, false, StrategyNetworkFallback)

	named := false
	for _, f := range networkSensitive {
		if a.req.Scope.HasAny(f.facets...) {
			named = true
			break
		}
	}
	for _, f := range networkSensitive {
		if !named || a.req.Scope.HasAny(f.facets...) {
			a.set(f.feature, false, StrategyNetworkFallback)
		}
	}

	a.set(featureflags.FeatureLocalBackup, true, StrategyNetworkFallback)

	if len(a.changes) == 0 {
		return Result{Message: "Connection lost and no features could be adjusted."}
	}
	return Result{
		Succeeded: true,
		Message:   "Connection lost; online features are paused and changes are saved locally.",
	}
}

func storageCleanup(a *attempt) Result {
	purged, err := a.purge()

	trimmed := 0
	if l := a.executor.cfg.Ledger; l != nil {
		trimmed = l.TrimHistory(a.ctx, a.executor.cfg.RetainHistory)
	}

	if err != nil {
		return Result{Message: fmt.Sprintf("Storage cleanup was incomplete: %v", err)}
	}
	return Result{
		Succeeded: true,
		Message:   fmt.Sprintf("Freed storage by removing %d cached entries and %d old error records.", purged, trimmed),
	}
}

func rateLimitBackoff(a *attempt) Result {
	policy := a.executor.cfg.RateLimit.withDefaults()

	step := 0
	if l := a.executor.cfg.Ledger; l != nil {
		for _, c := range l.MostFrequentCategories(policy.Lookback) {
			if c.Category == classifier.CategoryRateLimit {
				step = c.Count
				break
			}
		}
	}
	window := policy.Window(step)
	return Result{
		Succeeded:  true,
		RetryAfter: window,
		Message:    fmt.Sprintf("Too many requests; retrying in %s.", window.Round(time.Millisecond)),
	}
}

func timeoutShedding(a *attempt) Result {
	var targets []string
	for _, f := range heavyFeatures {
		if a.req.Scope.HasAny(f.facets...) {
			targets = append(targets, f.feature)
		}
	}
	if len(targets) == 0 {
		targets = defaultHeavy
	}

	for _, name := range targets {
		a.set(name, false, StrategyTimeoutShedding)
	}
	if len(a.changes) == 0 {
		return Result{Message: "The operation timed out and no features could be paused."}
	}
	return Result{
		Succeeded: true,
		Message:   "The operation timed out; heavy features are paused to free resources.",
	}
}

func guidance(a *attempt) Result {
	msg := a.req.Error.SuggestedAction
	if msg == "" {
		msg = a.req.Error.Message
	}
	return Result{Message: msg}
}

func noStrategy(a *attempt) Result {
	return Result{
		Message: fmt.Sprintf("No automatic recovery is available for %s errors.", a.req.Error.Category),
	}
}

// purge removes the configured non-essential keys. It returns how many keys
// were removed and the joined removal errors.
func (a *attempt) purge() (int, error) {
	store := a.executor.cfg.Store
	if store == nil {
		return 0, nil
	}

	var errs []error
	removed := 0
	for _, key := range a.executor.cfg.PurgeKeys {
		if _, err := store.Get(a.ctx, key); errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err := store.Remove(a.ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
