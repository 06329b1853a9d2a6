package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docsmith/docsmith/internal/api/middleware"
	"github.com/docsmith/docsmith/internal/api/models"
	"github.com/docsmith/docsmith/internal/api/response"
	"github.com/docsmith/docsmith/internal/featureflags"
)

// FeaturesHandler handles feature gate endpoints.
type FeaturesHandler struct {
	gate *featureflags.Gate
}

// NewFeaturesHandler creates a new FeaturesHandler.
func NewFeaturesHandler(gate *featureflags.Gate) *FeaturesHandler {
	return &FeaturesHandler{gate: gate}
}

// ListFeatures handles GET /v1/features - evaluate every feature for a role.
// The role query parameter wins over the token's role claim.
func (h *FeaturesHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "" {
		role = middleware.GetRole(r.Context())
	}

	response.JSON(w, r, http.StatusOK, models.FeatureList{
		Role:     role,
		Enabled:  h.gate.SnapshotAll(r.Context(), role),
		Features: h.gate.ExplainAll(r.Context(), role),
	})
}

// SetOverride handles PUT /v1/admin/features/{name} - set or clear an override.
func (h *FeaturesHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req models.OverrideRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}

	if err := h.gate.SetOverride(r.Context(), name, req.Enabled); err != nil {
		if errors.Is(err, featureflags.ErrUnknownFeature) {
			response.NotFound(w, r, "unknown feature "+name)
			return
		}
		response.InternalError(w, r, "failed to update override")
		return
	}

	state := models.FeatureState{
		Feature:  name,
		Decision: h.gate.Explain(r.Context(), name, middleware.GetRole(r.Context())),
	}
	if o, ok := h.gate.Override(name); ok {
		state.Override = &o
	}
	response.JSON(w, r, http.StatusOK, state)
}
