// Package health tracks the aggregate 0-100 health score of the editor and the
// five aspect scores it is derived from.
package health

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownAspect is returned when an aspect name is not recognized.
var ErrUnknownAspect = errors.New("unknown health aspect")

// Aspect names one of the sub-scores feeding the aggregate.
type Aspect string

const (
	AspectConnectivity Aspect = "connectivity"
	AspectPerformance  Aspect = "performance"
	AspectErrors       Aspect = "errors"
	AspectResources    Aspect = "resources"
	AspectStability    Aspect = "stability"
)

const (
	// MaxScore is the best possible score.
	MaxScore = 100.0

	// DegradedThreshold is the score below which the system counts as degraded.
	DegradedThreshold = 50.0

	maxTrendEntries = 20
)

var aspectOrder = []Aspect{
	AspectConnectivity,
	AspectPerformance,
	AspectErrors,
	AspectResources,
	AspectStability,
}

// weights for the aggregate weighted mean.
var weights = map[Aspect]float64{
	AspectConnectivity: 1.0,
	AspectPerformance:  0.8,
	AspectErrors:       1.2,
	AspectResources:    0.7,
	AspectStability:    1.0,
}

// Aspects is a snapshot of all aspect scores.
type Aspects struct {
	Connectivity float64 `json:"connectivity"`
	Performance  float64 `json:"performance"`
	Errors       float64 `json:"errors"`
	Resources    float64 `json:"resources"`
	Stability    float64 `json:"stability"`
}

// TrendPoint is one entry of the score trend log.
type TrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}

// Config holds configuration for the health monitor.
type Config struct {
	Logger zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Monitor holds the aggregate health score. It is safe for concurrent use.
type Monitor struct {
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	score   float64
	aspects map[Aspect]float64
	trend   []TrendPoint
}

// NewMonitor creates a monitor with every aspect at full health.
func NewMonitor(cfg Config) *Monitor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	m := &Monitor{
		logger: cfg.Logger,
		now:    now,
	}
	m.resetLocked()
	return m
}

// Health returns the current aggregate score in [0,100].
func (m *Monitor) Health() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.score
}

// UpdateHealth applies a signed delta to the aggregate score and returns the
// new score. The result is clamped to [0,100].
func (m *Monitor) UpdateHealth(delta float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyDeltaLocked(delta)
}

// UpdateAspect sets one aspect to score (clamped) and moves the aggregate by
// the change in the weighted mean.
func (m *Monitor) UpdateAspect(name Aspect, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setAspectLocked(name, func(float64) float64 { return score })
}

// AdjustAspect moves one aspect by delta.
func (m *Monitor) AdjustAspect(name Aspect, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setAspectLocked(name, func(current float64) float64 { return current + delta })
}

func (m *Monitor) setAspectLocked(name Aspect, next func(current float64) float64) error {
	current, ok := m.aspects[name]
	if !ok {
		return ErrUnknownAspect
	}

	value := next(current)
	if math.IsNaN(value) {
		return nil
	}

	before := m.weightedMeanLocked()
	m.aspects[name] = clamp(value)
	after := m.weightedMeanLocked()

	m.applyDeltaLocked(after - before)
	return nil
}

// Aspects returns a snapshot of the aspect scores.
func (m *Monitor) Aspects() Aspects {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Aspects{
		Connectivity: m.aspects[AspectConnectivity],
		Performance:  m.aspects[AspectPerformance],
		Errors:       m.aspects[AspectErrors],
		Resources:    m.aspects[AspectResources],
		Stability:    m.aspects[AspectStability],
	}
}

// Trend returns the score trend log, oldest first.
func (m *Monitor) Trend() []TrendPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TrendPoint, len(m.trend))
	copy(out, m.trend)
	return out
}

// Reset restores every aspect and the aggregate to 100 and clears the trend.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Monitor) resetLocked() {
	m.score = MaxScore
	m.aspects = make(map[Aspect]float64, len(aspectOrder))
	for _, name := range aspectOrder {
		m.aspects[name] = MaxScore
	}
	m.trend = nil
}

func (m *Monitor) applyDeltaLocked(delta float64) float64 {
	previous := m.score
	if math.IsNaN(delta) {
		return previous
	}
	m.score = clamp(previous + delta)
	if m.score == previous {
		return m.score
	}

	m.trend = append(m.trend, TrendPoint{Timestamp: m.now(), Score: m.score})
	if len(m.trend) > maxTrendEntries {
		m.trend = m.trend[len(m.trend)-maxTrendEntries:]
	}

	switch {
	case previous >= DegradedThreshold && m.score < DegradedThreshold:
		m.logger.Warn().
			Float64("previous", previous).
			Float64("score", m.score).
			Msg("system health dropped below threshold")
	case previous < DegradedThreshold && m.score >= DegradedThreshold:
		m.logger.Info().
			Float64("previous", previous).
			Float64("score", m.score).
			Msg("system health recovered above threshold")
	}
	return m.score
}

func (m *Monitor) weightedMeanLocked() float64 {
	var sum, total float64
	for _, name := range aspectOrder {
		w := weights[name]
		sum += m.aspects[name] * w
		total += w
	}
	return sum / total
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > MaxScore:
		return MaxScore
	default:
		return v
	}
}
