package models

import (
	"time"

	"github.com/docsmith/docsmith/internal/featureflags"
	"github.com/docsmith/docsmith/internal/health"
)

// HealthStatus is the coarse health of the service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Timestamp is a time.Time that serializes as RFC3339.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(time.RFC3339) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 {
		return &time.ParseError{Layout: time.RFC3339, Value: string(data)}
	}
	parsed, err := time.Parse(time.RFC3339, string(data[1:len(data)-1]))
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// Health is the body of GET /v1/ops/health.
type Health struct {
	Status  HealthStatus        `json:"status"`
	Time    Timestamp           `json:"time"`
	Score   float64             `json:"score"`
	Aspects health.Aspects      `json:"aspects"`
	Trend   []health.TrendPoint `json:"trend"`
	Details map[string]any      `json:"details,omitempty"`
}

// SystemStatus is the body of GET /v1/ops/status.
type SystemStatus struct {
	Status           HealthStatus                     `json:"status"`
	Time             Timestamp                        `json:"time"`
	Score            float64                          `json:"score"`
	Breakers         []BreakerStatus                  `json:"breakers"`
	DegradedFeatures []string                         `json:"degradedFeatures"`
	Overrides        map[string]featureflags.Override `json:"overrides"`
}

// BreakerStatus is the state of one circuit breaker.
type BreakerStatus struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Failures      int        `json:"failures"`
	LastFailureAt *Timestamp `json:"lastFailureAt,omitempty"`
}

// StatusFromScore maps a health score to a HealthStatus.
func StatusFromScore(score float64) HealthStatus {
	switch {
	case score < 25:
		return HealthStatusFail
	case score < health.DegradedThreshold:
		return HealthStatusDegraded
	default:
		return HealthStatusOK
	}
}
