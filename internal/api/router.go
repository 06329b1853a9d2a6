// Package api provides the HTTP ops API of the resilience engine.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/docsmith/docsmith/internal/api/handler"
	"github.com/docsmith/docsmith/internal/api/middleware"
	"github.com/docsmith/docsmith/internal/auth"
	"github.com/docsmith/docsmith/internal/engine"
)

// RoleAdmin is the role allowed to call /v1/admin endpoints.
const RoleAdmin = "admin"

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Engine      *engine.Engine

	// Tokens verifies bearer tokens. When nil every caller is anonymous and
	// /v1/admin is unreachable.
	Tokens *auth.TokenService
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "resilienced"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Authenticate(cfg.Tokens))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(cfg.Engine, cfg.Version, cfg.BuildTime)
	featuresHandler := handler.NewFeaturesHandler(cfg.Engine.Features())
	errorsHandler := handler.NewErrorsHandler(cfg.Engine)
	recoveryHandler := handler.NewRecoveryHandler(cfg.Engine.Ledger())

	readRateLimit := middleware.RateLimitByIP(middleware.ReadRateLimit)
	reportRateLimit := middleware.RateLimitByIP(middleware.ReportRateLimit)

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public, unlimited so health checks never trip the limiter)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(readRateLimit).Get("/status", opsHandler.SystemStatus)
		})

		r.With(readRateLimit, middleware.OnlineHint).Get("/features", featuresHandler.ListFeatures)

		r.With(reportRateLimit, middleware.RequireJSON).Post("/errors", errorsHandler.ReportError)

		r.Route("/recovery", func(r chi.Router) {
			r.Use(readRateLimit)
			r.Get("/categories", recoveryHandler.ListCategories)
			r.Get("/categories/{category}", recoveryHandler.GetCategory)
			r.Get("/errors", recoveryHandler.ListErrors)
			r.Get("/frequent", recoveryHandler.FrequentCategories)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(RoleAdmin))
			r.Use(middleware.RateLimitByRole(middleware.AdminRateLimit))
			r.With(middleware.RequireJSON).Put("/features/{name}", featuresHandler.SetOverride)
			r.Post("/reset", opsHandler.Reset)
		})
	})

	return r
}
