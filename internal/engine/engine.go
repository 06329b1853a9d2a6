// Package engine assembles the resilience components into the single object
// editor collaborators talk to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/docsmith/docsmith/internal/classifier"
	"github.com/docsmith/docsmith/internal/featureflags"
	"github.com/docsmith/docsmith/internal/health"
	"github.com/docsmith/docsmith/internal/kvstore"
	"github.com/docsmith/docsmith/internal/ledger"
	"github.com/docsmith/docsmith/internal/recovery"
	"github.com/docsmith/docsmith/internal/resilience"
	"github.com/docsmith/docsmith/internal/telemetry"
)

// StoreBreaker is the registry name of the breaker guarding the local store.
const StoreBreaker = "kvstore"

// Config holds configuration for the engine.
type Config struct {
	Logger zerolog.Logger

	// Store persists overrides and the ledger. When nil, StorePath selects a
	// SQLite file, and an empty StorePath keeps everything in memory.
	Store     kvstore.Store
	StorePath string

	// Features is the feature table. Defaults to featureflags.DefaultFeatures().
	Features []featureflags.FeatureConfig

	// Breaker holds defaults for breakers created by name.
	Breaker resilience.BreakerConfig

	// StoreRetry is the retry policy of the guarded store.
	StoreRetry resilience.RetryPolicy

	// Online reports connectivity. A nil func counts as online.
	Online func() bool

	// Meter receives engine metrics. Defaults to the global meter.
	Meter metric.Meter

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the resilience engine. It is safe for concurrent use.
type Engine struct {
	logger   zerolog.Logger
	store    kvstore.Store
	closer   io.Closer
	monitor  *health.Monitor
	gate     *featureflags.Gate
	ledger   *ledger.Ledger
	breakers *resilience.Registry
	executor *recovery.Executor
	metrics  *telemetry.EngineMetrics
}

// New builds an engine and loads its persisted state.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	e := &Engine{logger: cfg.Logger}

	base := cfg.Store
	if base == nil {
		if cfg.StorePath != "" {
			s, err := kvstore.NewSQLiteStore(cfg.StorePath)
			if err != nil {
				return nil, fmt.Errorf("open store: %w", err)
			}
			base, e.closer = s, s
		} else {
			base = kvstore.NewMemoryStore()
		}
	}

	defaults := cfg.Breaker
	defaults.Logger = cfg.Logger
	e.breakers = resilience.NewRegistry(defaults)

	e.monitor = health.NewMonitor(health.Config{Logger: cfg.Logger, Now: cfg.Now})

	meter := cfg.Meter
	if meter == nil {
		meter = telemetry.Meter(telemetry.MeterName)
	}
	metrics, err := telemetry.NewEngineMetrics(meter, e.monitor.Health)
	if err != nil {
		_ = e.closeStore()
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	e.metrics = metrics
	e.breakers.OnStateChange(e.onStateChange)

	e.store = kvstore.NewGuardedStore(base, kvstore.GuardedConfig{
		Breaker: e.breakers.Breaker(StoreBreaker),
		Retry:   cfg.StoreRetry,
		Logger:  cfg.Logger,
	})

	e.gate = featureflags.NewGate(ctx, featureflags.GateConfig{
		Repository: featureflags.NewStoreRepository(e.store),
		Logger:     cfg.Logger,
		Features:   cfg.Features,
		Health:     e.monitor,
		Online:     cfg.Online,
	})

	e.ledger = ledger.New(ctx, ledger.Config{
		Store:  e.store,
		Logger: cfg.Logger,
		Health: e.monitor,
		Now:    cfg.Now,
	})

	e.executor = recovery.NewExecutor(recovery.Config{
		Features: e.gate,
		Ledger:   e.ledger,
		Health:   e.monitor,
		Store:    e.store,
		Logger:   cfg.Logger,
		OnResult: e.onResult,
	})

	e.logger.Info().
		Int("features", len(e.gate.ListCritical())+len(e.gate.ListNonCritical())).
		Int("history", e.ledger.Len()).
		Bool("persistent", e.closer != nil || cfg.Store != nil).
		Msg("resilience engine initialized")
	return e, nil
}

// Classify maps a failure reported from site to a ClassifiedError.
func (e *Engine) Classify(err error, site string) classifier.ClassifiedError {
	ce := classifier.Classify(err, site)
	e.metrics.ErrorClassified(context.Background(), string(ce.Category), string(ce.Severity))
	return ce
}

// IsFeatureEnabled reports whether the feature is usable for role right now.
func (e *Engine) IsFeatureEnabled(ctx context.Context, name, role string) bool {
	return e.gate.IsEnabled(ctx, name, role)
}

// Breaker returns the breaker guarding the named operation.
func (e *Engine) Breaker(name string) *resilience.Breaker {
	return e.breakers.Breaker(name)
}

// Protect runs fn through the named breaker. Errors are returned unchanged;
// rejections are *resilience.RejectedError.
func (e *Engine) Protect(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	err := e.breakers.Breaker(name).Execute(func() error { return fn(ctx) })

	var rej *resilience.RejectedError
	if errors.As(err, &rej) {
		e.metrics.BreakerRejection(ctx, name, rej.CircuitOpen())
	}
	return err
}

// AttemptRecovery runs the best mitigation for ce reported from site.
func (e *Engine) AttemptRecovery(ctx context.Context, ce classifier.ClassifiedError, site string) recovery.Result {
	return e.executor.AttemptRecovery(ctx, ce, recovery.ParseScope(site))
}

// HandleFailure classifies err and attempts recovery.
func (e *Engine) HandleFailure(ctx context.Context, err error, site string) (classifier.ClassifiedError, recovery.Result) {
	return e.HandleFailureWithStack(ctx, err, site, "")
}

// HandleFailureWithStack is HandleFailure with a stack trace kept in the ledger.
func (e *Engine) HandleFailureWithStack(ctx context.Context, err error, site, stack string) (classifier.ClassifiedError, recovery.Result) {
	ce := e.Classify(err, site)
	res := e.executor.Attempt(ctx, recovery.Request{
		Error: ce,
		Scope: recovery.ParseScope(site),
		Stack: stack,
	})
	return ce, res
}

// RecordOccurrence writes a failure outcome to the ledger.
func (e *Engine) RecordOccurrence(ctx context.Context, r ledger.Record) ledger.Occurrence {
	return e.ledger.RecordOccurrence(ctx, r)
}

// RecordRecoveryOutcome records the outcome of a recovery run outside the
// engine.
func (e *Engine) RecordRecoveryOutcome(ctx context.Context, category classifier.Category, site string, succeeded bool) {
	e.ledger.RecordRecoveryOutcome(ctx, category, site, succeeded)
}

// Health returns the health monitor.
func (e *Engine) Health() *health.Monitor { return e.monitor }

// Features returns the feature gate.
func (e *Engine) Features() *featureflags.Gate { return e.gate }

// Ledger returns the recovery ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Breakers returns the breaker registry.
func (e *Engine) Breakers() *resilience.Registry { return e.breakers }

// Ping checks that the backing store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return kvstore.Ping(ctx, e.store)
}

// Reset returns every component to its initial state and clears persisted
// overrides and ledger records.
func (e *Engine) Reset(ctx context.Context) {
	e.ledger.Reset(ctx)
	e.gate.ClearAllOverrides(ctx)
	e.breakers.ResetAll()
	e.monitor.Reset()
	e.logger.Info().Msg("resilience engine reset")
}

// Close releases the metrics callback and the store, if the engine opened it.
func (e *Engine) Close() error {
	err := e.metrics.Close()
	if cerr := e.closeStore(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (e *Engine) closeStore() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

func (e *Engine) onStateChange(sc resilience.StateChange) {
	e.metrics.BreakerTransition(context.Background(), sc.Name, string(sc.From), string(sc.To))
}

func (e *Engine) onResult(req recovery.Request, res recovery.Result) {
	e.metrics.RecoveryAttempt(context.Background(), res.Strategy, string(res.Category), res.Succeeded)
	if !res.Succeeded && req.Error.Severity.AtLeast(classifier.SeverityHigh) {
		e.logger.Warn().
			Str("category", string(res.Category)).
			Str("context", req.Scope.Name).
			Str("severity", string(req.Error.Severity)).
			Msg("high severity failure was not mitigated")
	}
}
