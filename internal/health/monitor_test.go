package health_test

import (
	"bytes"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmith/docsmith/internal/health"
)

func newMonitor() *health.Monitor {
	return health.NewMonitor(health.Config{Logger: zerolog.Nop()})
}

func TestMonitor_StartsHealthy(t *testing.T) {
	m := newMonitor()

	assert.Equal(t, 100.0, m.Health())
	assert.Equal(t, health.Aspects{
		Connectivity: 100, Performance: 100, Errors: 100, Resources: 100, Stability: 100,
	}, m.Aspects())
	assert.Empty(t, m.Trend())
}

func TestMonitor_UpdateHealth(t *testing.T) {
	m := newMonitor()

	assert.Equal(t, 70.0, m.UpdateHealth(-30))
	assert.Equal(t, 80.0, m.UpdateHealth(10))

	trend := m.Trend()
	require.Len(t, trend, 2)
	assert.Equal(t, 70.0, trend[0].Score)
	assert.Equal(t, 80.0, trend[1].Score)
}

func TestMonitor_UpdateAspectAppliesWeightedDelta(t *testing.T) {
	m := newMonitor()

	require.NoError(t, m.UpdateAspect(health.AspectErrors, 40))

	// (100*1.0 + 100*0.8 + 40*1.2 + 100*0.7 + 100*1.0) / 4.7
	expected := 398.0 / 4.7
	assert.InDelta(t, expected, m.Health(), 0.0001)
	assert.Equal(t, 40.0, m.Aspects().Errors)
}

func TestMonitor_AdjustAspect(t *testing.T) {
	m := newMonitor()

	require.NoError(t, m.AdjustAspect(health.AspectStability, -20))
	assert.Equal(t, 80.0, m.Aspects().Stability)

	require.NoError(t, m.AdjustAspect(health.AspectStability, 500))
	assert.Equal(t, 100.0, m.Aspects().Stability)
	assert.InDelta(t, 100.0, m.Health(), 0.0001)
}

func TestMonitor_UnknownAspect(t *testing.T) {
	m := newMonitor()
	err := m.UpdateAspect(health.Aspect("latency"), 10)
	assert.ErrorIs(t, err, health.ErrUnknownAspect)
	assert.Equal(t, 100.0, m.Health())
}

func TestMonitor_ClampsAdversarialInput(t *testing.T) {
	m := newMonitor()

	assert.Equal(t, 0.0, m.UpdateHealth(-1e12))
	assert.Equal(t, 100.0, m.UpdateHealth(math.Inf(1)))
	assert.Equal(t, 100.0, m.UpdateHealth(math.NaN()))

	require.NoError(t, m.UpdateAspect(health.AspectResources, -500))
	require.NoError(t, m.UpdateAspect(health.AspectConnectivity, 1e9))
	assert.Equal(t, 0.0, m.Aspects().Resources)
	assert.Equal(t, 100.0, m.Aspects().Connectivity)

	rng := rand.New(rand.NewSource(42))
	aspects := []health.Aspect{
		health.AspectConnectivity, health.AspectPerformance, health.AspectErrors,
		health.AspectResources, health.AspectStability,
	}
	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			m.UpdateHealth((rng.Float64() - 0.5) * 1e6)
		} else {
			_ = m.UpdateAspect(aspects[rng.Intn(len(aspects))], (rng.Float64()-0.5)*1e6)
		}
		score := m.Health()
		require.GreaterOrEqual(t, score, 0.0)
		require.LessOrEqual(t, score, 100.0)
	}
}

func TestMonitor_TrendIsBounded(t *testing.T) {
	m := newMonitor()
	for i := 0; i < 50; i++ {
		m.UpdateHealth(-1)
	}
	trend := m.Trend()
	require.Len(t, trend, 20)
	assert.Equal(t, 50.0, trend[len(trend)-1].Score)
}

func TestMonitor_Reset(t *testing.T) {
	m := newMonitor()
	m.UpdateHealth(-60)
	require.NoError(t, m.UpdateAspect(health.AspectErrors, 0))

	m.Reset()

	assert.Equal(t, 100.0, m.Health())
	assert.Equal(t, 100.0, m.Aspects().Errors)
	assert.Empty(t, m.Trend())
}

func TestMonitor_LogsThresholdCrossings(t *testing.T) {
	var buf bytes.Buffer
	m := health.NewMonitor(health.Config{Logger: zerolog.New(&buf)})

	m.UpdateHealth(-60)
	assert.Contains(t, buf.String(), "dropped below threshold")

	buf.Reset()
	m.UpdateHealth(5)
	assert.Empty(t, buf.String())

	m.UpdateHealth(30)
	assert.Contains(t, buf.String(), "recovered above threshold")
}

func TestMonitor_ConcurrentUpdates(t *testing.T) {
	m := newMonitor()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.UpdateHealth(-1)
			_ = m.AdjustAspect(health.AspectErrors, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, m.Aspects().Errors)
	assert.GreaterOrEqual(t, m.Health(), 0.0)
}
