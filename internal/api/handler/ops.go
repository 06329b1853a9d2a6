// Package handler provides the HTTP handlers of the resilience ops API.
package handler

import (
	"net/http"
	"time"

	"github.com/docsmith/docsmith/internal/api/models"
	"github.com/docsmith/docsmith/internal/api/response"
	"github.com/docsmith/docsmith/internal/engine"
	"github.com/docsmith/docsmith/internal/featureflags"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	engine    *engine.Engine
	version   string
	buildTime string
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(e *engine.Engine, version, buildTime string) *OpsHandler {
	return &OpsHandler{
		engine:    e,
		version:   version,
		buildTime: buildTime,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness and health score.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	monitor := h.engine.Health()
	score := monitor.Health()

	health := models.Health{
		Status:  models.StatusFromScore(score),
		Time:    models.Timestamp(time.Now()),
		Score:   score,
		Aspects: monitor.Aspects(),
		Trend:   monitor.Trend(),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. The service is ready while the
// local store breaker admits calls.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	store := h.engine.Breakers().Health(engine.StoreBreaker)
	if store != nil && store.IsUnhealthy() {
		response.ServiceUnavailable(w, r, "state store circuit is open")
		return
	}
	if err := h.engine.Ping(r.Context()); err != nil {
		response.ServiceUnavailable(w, r, "state store is unreachable")
		return
	}

	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Score:  h.engine.Health().Health(),
	})
}

// SystemStatus handles GET /v1/ops/status - breakers and degraded features.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	score := h.engine.Health().Health()

	snapshot := h.engine.Breakers().Snapshot()
	breakers := make([]models.BreakerStatus, 0, len(snapshot))
	for _, b := range snapshot {
		bs := models.BreakerStatus{
			Name:     b.Name,
			State:    string(b.State),
			Failures: b.Failures,
		}
		if b.LastFailureAt != nil {
			ts := models.Timestamp(*b.LastFailureAt)
			bs.LastFailureAt = &ts
		}
		breakers = append(breakers, bs)
	}

	status := models.SystemStatus{
		Status:           models.StatusFromScore(score),
		Time:             models.Timestamp(time.Now()),
		Score:            score,
		Breakers:         breakers,
		DegradedFeatures: degradedFeatures(r, h.engine.Features()),
		Overrides:        h.engine.Features().Overrides(),
	}
	response.JSON(w, r, http.StatusOK, status)
}

// Reset handles POST /v1/admin/reset - return the engine to its initial state.
func (h *OpsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.engine.Reset(r.Context())
	response.NoContent(w, r)
}

// degradedFeatures lists features that are off for a reason other than their
// default.
func degradedFeatures(r *http.Request, gate *featureflags.Gate) []string {
	out := make([]string, 0)
	for _, d := range gate.ExplainAll(r.Context(), "") {
		if !d.Enabled && d.Reason != featureflags.ReasonDefault && d.Reason != featureflags.ReasonRole {
			out = append(out, d.Feature)
		}
	}
	return out
}
