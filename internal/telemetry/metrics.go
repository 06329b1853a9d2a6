package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the engine instruments.
const MeterName = "github.com/docsmith/docsmith/internal/engine"

// EngineMetrics holds the instruments reported by the resilience engine.
type EngineMetrics struct {
	breakerTransitions metric.Int64Counter
	breakerRejections  metric.Int64Counter
	recoveryAttempts   metric.Int64Counter
	errorsClassified   metric.Int64Counter
	healthScore        metric.Float64ObservableGauge
	registration       metric.Registration
}

// NewEngineMetrics creates the engine instruments on meter. health is sampled
// on every collection; pass nil to skip the health gauge.
func NewEngineMetrics(meter metric.Meter, health func() float64) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error

	m.breakerTransitions, err = meter.Int64Counter(
		"docsmith.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.breakerRejections, err = meter.Int64Counter(
		"docsmith.breaker.rejections",
		metric.WithDescription("Calls rejected by an open or saturated circuit breaker"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.recoveryAttempts, err = meter.Int64Counter(
		"docsmith.recovery.attempts",
		metric.WithDescription("Recovery attempts by strategy and outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.errorsClassified, err = meter.Int64Counter(
		"docsmith.errors.classified",
		metric.WithDescription("Failures classified by category and severity"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	if health == nil {
		return m, nil
	}

	m.healthScore, err = meter.Float64ObservableGauge(
		"docsmith.health.score",
		metric.WithDescription("Aggregate system health score between 0 and 100"),
	)
	if err != nil {
		return nil, err
	}
	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(m.healthScore, health())
		return nil
	}, m.healthScore)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// BreakerTransition counts one breaker state change.
func (m *EngineMetrics) BreakerTransition(ctx context.Context, breaker, from, to string) {
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// BreakerRejection counts one call refused by a breaker.
func (m *EngineMetrics) BreakerRejection(ctx context.Context, breaker string, open bool) {
	m.breakerRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.Bool("open", open),
	))
}

// RecoveryAttempt counts one recovery attempt.
func (m *EngineMetrics) RecoveryAttempt(ctx context.Context, strategy, category string, succeeded bool) {
	m.recoveryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("category", category),
		attribute.Bool("succeeded", succeeded),
	))
}

// ErrorClassified counts one classified failure.
func (m *EngineMetrics) ErrorClassified(ctx context.Context, category, severity string) {
	m.errorsClassified.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("severity", severity),
	))
}

// Close unregisters the health gauge callback.
func (m *EngineMetrics) Close() error {
	if m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}
