package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/docsmith/docsmith/internal/telemetry"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestEngineMetrics_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := telemetry.NewEngineMetrics(mp.Meter(telemetry.MeterName), func() float64 { return 42 })
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	m.BreakerTransition(ctx, "templates", "CLOSED", "OPEN")
	m.BreakerTransition(ctx, "templates", "OPEN", "HALF_OPEN")
	m.BreakerRejection(ctx, "templates", true)
	m.RecoveryAttempt(ctx, "template_degradation", "TIMEOUT", true)
	m.ErrorClassified(ctx, "TIMEOUT", "MEDIUM")
	m.ErrorClassified(ctx, "NETWORK", "MEDIUM")
	m.ErrorClassified(ctx, "NETWORK", "MEDIUM")

	data := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, data["docsmith.breaker.transitions"]))
	assert.Equal(t, int64(1), sum(t, data["docsmith.breaker.rejections"]))
	assert.Equal(t, int64(1), sum(t, data["docsmith.recovery.attempts"]))
	assert.Equal(t, int64(3), sum(t, data["docsmith.errors.classified"]))

	gauge, ok := data["docsmith.health.score"].(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 42.0, gauge.DataPoints[0].Value)
}

func TestEngineMetrics_WithoutHealth(t *testing.T) {
	m, err := telemetry.NewEngineMetrics(noop.NewMeterProvider().Meter("test"), nil)
	require.NoError(t, err)

	m.RecoveryAttempt(context.Background(), "none", "UNKNOWN", false)
	assert.NoError(t, m.Close())
}
