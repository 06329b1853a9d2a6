// Package recovery selects and runs mitigations for classified failures and
// reports each outcome to the recovery ledger.
package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsmith/docsmith/internal/classifier"
	"github.com/docsmith/docsmith/internal/featureflags"
	"github.com/docsmith/docsmith/internal/kvstore"
	"github.com/docsmith/docsmith/internal/ledger"
)

// Strategy names. Every override applied by the executor is attributed to one.
const (
	StrategyDocumentBackup      = "document_backup_fallback"
	StrategyOfflineAuth         = "offline_auth_fallback"
	StrategyTemplateDegradation = "template_degradation"
	StrategyNetworkFallback     = "network_fallback"
	StrategyStorageCleanup      = "storage_cleanup"
	StrategyRateLimitBackoff    = "rate_limit_backoff"
	StrategyTimeoutShedding     = "timeout_shedding"
	StrategyGuidance            = "guidance"
	StrategyLocalOnly           = "local_only_mode"
	StrategyNone                = "none"
)

// LocalOnlyThreshold is the health score below which every online feature
// is switched off in addition to the selected strategy.
const LocalOnlyThreshold = 25.0

// FeatureController applies attributed feature overrides.
type FeatureController interface {
	ApplyOverride(ctx context.Context, name string, value bool, source string) error
	ListRequiringOnline() []string
}

// Ledger is the part of the recovery ledger the executor needs.
type Ledger interface {
	RecordOccurrence(ctx context.Context, r ledger.Record) ledger.Occurrence
	IsLikelyRecoverable(category classifier.Category) bool
	MostFrequentCategories(window time.Duration) []ledger.CategoryCount
	TrimHistory(ctx context.Context, n int) int
}

// HealthReader provides the current aggregate health score.
type HealthReader interface {
	Health() float64
}

// FeatureChange is one override applied during recovery.
type FeatureChange struct {
	Feature  string `json:"feature"`
	Enabled  bool   `json:"enabled"`
	Strategy string `json:"strategy"`
}

// Result is the outcome of one recovery attempt.
type Result struct {
	Succeeded         bool                `json:"succeeded"`
	Strategy          string              `json:"strategy"`
	Category          classifier.Category `json:"category"`
	FeatureChanges    []FeatureChange     `json:"feature_changes"`
	Message           string              `json:"message"`
	RetryAfter        time.Duration       `json:"retry_after,omitempty"`
	LikelyRecoverable bool                `json:"likely_recoverable"`
	HealthScore       float64             `json:"health_score"`
}

// Disabled returns the features the attempt switched off.
func (r Result) Disabled() []string {
	var out []string
	for _, c := range r.FeatureChanges {
		if !c.Enabled {
			out = append(out, c.Feature)
		}
	}
	return out
}

// Request describes a failure to recover from.
type Request struct {
	Error classifier.ClassifiedError
	Scope Scope
	Stack string
}

// Config holds configuration for the executor.
type Config struct {
	Features FeatureController
	Ledger   Ledger
	Health   HealthReader

	// Store is purged of PurgeKeys by the storage strategy. Optional.
	Store     kvstore.Store
	PurgeKeys []string

	// RetainHistory is how many ledger entries the storage strategy keeps.
	// Default: 10
	RetainHistory int

	RateLimit RateLimitPolicy

	// OnResult is called after every attempt. Optional.
	OnResult func(Request, Result)

	Logger zerolog.Logger
}

// DefaultPurgeKeys are persisted keys that can be dropped under storage pressure.
func DefaultPurgeKeys() []string {
	return []string{
		"editor.render_cache",
		"templates.cache",
		"marketplace.catalog",
		"analytics.events",
		"collaboration.presence",
	}
}

// Executor runs recovery strategies. It never returns an error: a strategy
// that cannot act reports Succeeded=false.
type Executor struct {
	cfg    Config
	logger zerolog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.RetainHistory <= 0 {
		cfg.RetainHistory = 10
	}
	if cfg.PurgeKeys == nil {
		cfg.PurgeKeys = DefaultPurgeKeys()
	}
	cfg.RateLimit = cfg.RateLimit.withDefaults()
	return &Executor{cfg: cfg, logger: cfg.Logger}
}

// AttemptRecovery runs the best strategy for ce reported from scope.
func (e *Executor) AttemptRecovery(ctx context.Context, ce classifier.ClassifiedError, scope Scope) Result {
	return e.Attempt(ctx, Request{Error: ce, Scope: scope})
}

// Attempt runs the best strategy for the request and records the outcome in
// the ledger.
func (e *Executor) Attempt(ctx context.Context, req Request) Result {
	ce := req.Error
	if !ce.Category.Valid() {
		ce.Category = classifier.CategoryUnknown
		req.Error = ce
	}

	run := &attempt{executor: e, ctx: ctx, req: req}
	strategy, fn := e.selectStrategy(ce.Category, req.Scope)
	res := run.execute(strategy, fn)

	res.Category = ce.Category
	res.HealthScore = e.health()
	if e.cfg.Ledger != nil {
		res.LikelyRecoverable = e.cfg.Ledger.IsLikelyRecoverable(ce.Category)
	}
	if res.HealthScore < LocalOnlyThreshold {
		run.localOnly()
		res.Message = strings.TrimSpace(res.Message + " Switched to local-only mode.")
	}
	res.FeatureChanges = run.changes
	if res.FeatureChanges == nil {
		res.FeatureChanges = []FeatureChange{}
	}

	if e.cfg.Ledger != nil {
		e.cfg.Ledger.RecordOccurrence(ctx, ledger.Record{
			Category:          ce.Category,
			Message:           ce.TechnicalMessage,
			Context:           req.Scope.Name,
			RecoveryAttempted: acts(strategy),
			RecoverySucceeded: res.Succeeded,
			Stack:             req.Stack,
		})
	}

	e.logger.Info().
		Str("category", string(ce.Category)).
		Str("context", req.Scope.Name).
		Str("strategy", res.Strategy).
		Bool("succeeded", res.Succeeded).
		Int("feature_changes", len(res.FeatureChanges)).
		Float64("health", res.HealthScore).
		Msg("recovery attempted")

	if e.cfg.OnResult != nil {
		e.cfg.OnResult(req, res)
	}
	return res
}

// acts reports whether a strategy performs a mitigation rather than only
// returning guidance.
func acts(strategy string) bool {
	return strategy != StrategyGuidance && strategy != StrategyNone
}

func (e *Executor) health() float64 {
	if e.cfg.Health == nil {
		return 100
	}
	return e.cfg.Health.Health()
}

type strategyFunc func(a *attempt) Result

// selectStrategy prefers a strategy specific to the call site and falls back
// to one chosen by category alone.
func (e *Executor) selectStrategy(category classifier.Category, scope Scope) (string, strategyFunc) {
	switch {
	case scope.Has("document") && category == classifier.CategoryStorage:
		return StrategyDocumentBackup, documentBackup
	case scope.HasAny("auth", "login") && category == classifier.CategoryNetwork:
		return StrategyOfflineAuth, offlineAuth
	case scope.HasAny("template", "templates") && (category == classifier.CategoryServer ||
		category == classifier.CategoryResourceNotFound ||
		category == classifier.CategoryTimeout):
		return StrategyTemplateDegradation, templateDegradation
	}

	switch category {
	case classifier.CategoryNetwork:
		return StrategyNetworkFallback, networkFallback
	case classifier.CategoryStorage:
		return StrategyStorageCleanup, storageCleanup
	case classifier.CategoryRateLimit:
		return StrategyRateLimitBackoff, rateLimitBackoff
	case classifier.CategoryTimeout:
		return StrategyTimeoutShedding, timeoutShedding
	case classifier.CategoryValidation,
		classifier.CategoryAuthorization,
		classifier.CategoryResourceNotFound,
		classifier.CategoryPermission:
		return StrategyGuidance, guidance
	default:
		return StrategyNone, noStrategy
	}
}

// attempt carries the state of one recovery run.
type attempt struct {
	executor *Executor
	ctx      context.Context
	req      Request
	changes  []FeatureChange
}

func (a *attempt) execute(strategy string, fn strategyFunc) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			a.executor.logger.Error().
				Str("strategy", strategy).
				Interface("panic", r).
				Msg("recovery strategy panicked")
			res = Result{
				Strategy: strategy,
				Message:  fmt.Sprintf("Recovery strategy %s failed: %v", strategy, r),
			}
		}
	}()

	res = fn(a)
	res.Strategy = strategy
	return res
}

// set applies an attributed override and records it. It reports whether the
// override was applied.
func (a *attempt) set(feature string, enabled bool, strategy string) bool {
	fc := a.executor.cfg.Features
	if fc == nil {
		return false
	}
	if err := fc.ApplyOverride(a.ctx, feature, enabled, strategy); err != nil {
		a.executor.logger.Debug().Err(err).Str("feature", feature).Msg("override not applied")
		return false
	}
	for i, c := range a.changes {
		if c.Feature == feature {
			a.changes[i] = FeatureChange{Feature: feature, Enabled: enabled, Strategy: strategy}
			return true
		}
	}
	a.changes = append(a.changes, FeatureChange{Feature: feature, Enabled: enabled, Strategy: strategy})
	return true
}

func (a *attempt) localOnly() {
	fc := a.executor.cfg.Features
	if fc == nil {
		return
	}
	for _, name := range fc.ListRequiringOnline() {
		a.set(name, false, StrategyLocalOnly)
	}
	a.set(featureflags.FeatureLocalBackup, true, StrategyLocalOnly)
}
