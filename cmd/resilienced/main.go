// Package main provides the entrypoint for the docsmith resilience service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/docsmith/docsmith/internal/api"
	"github.com/docsmith/docsmith/internal/api/middleware"
	"github.com/docsmith/docsmith/internal/auth"
	"github.com/docsmith/docsmith/internal/config"
	"github.com/docsmith/docsmith/internal/engine"
	"github.com/docsmith/docsmith/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "resilienced"

// devSigningKey signs ops tokens outside production when no key is set.
const devSigningKey = "local-dev-signing-key-change-in-production"

// CLI is the command line of the service.
type CLI struct {
	Serve ServeCmd `cmd:"" default:"1" help:"Run the resilience ops API"`
	Token TokenCmd `cmd:"" help:"Issue a signed bearer token for the ops API"`
}

// ServeCmd runs the HTTP server.
type ServeCmd struct{}

// Run starts the server and blocks until it is shut down.
func (ServeCmd) Run(log zerolog.Logger) error {
	if err := serve(log); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// TokenCmd prints a token signed with the configured key.
type TokenCmd struct {
	Subject string        `short:"s" required:"" help:"Subject claim, e.g. the operator's name"`
	Role    string        `short:"r" default:"admin" help:"Role claim"`
	TTL     time.Duration `help:"Token lifetime; defaults to DOCSMITH_JWT_EXPIRY"`
}

// Run writes the token to stdout.
func (c *TokenCmd) Run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.TTL > 0 {
		cfg.Auth.Expiry = c.TTL
	}
	token, expiresAt, err := tokenService(cfg, log).GenerateToken(c.Subject, c.Role)
	if err != nil {
		return err
	}
	log.Info().
		Str("subject", c.Subject).
		Str("role", c.Role).
		Time("expires_at", expiresAt).
		Msg("token issued")
	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}

func main() {
	log := zerolog.New(os.Stderr).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name(serviceName),
		kong.Description("Adaptive resilience engine for the docsmith editor."),
		kong.Bind(log),
	)
	if err := ctx.Run(); err != nil {
		log.Fatal().Err(err).Msg("resilienced exited")
	}
}

// tokenService builds the token service, falling back to a development key
// outside production.
func tokenService(cfg config.Config, log zerolog.Logger) *auth.TokenService {
	tc := cfg.Auth
	if tc.SigningKey == "" {
		tc.SigningKey = devSigningKey
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	return auth.NewTokenService(tc)
}

func serve(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Environment).
		Msg("starting resilience service")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryEnabled,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.TelemetryEnabled {
		log.Info().Str("otlp_endpoint", cfg.OTLPEndpoint).Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics(nil)
	if err != nil {
		return err
	}

	features, err := cfg.Features()
	if err != nil {
		return err
	}

	eng, err := engine.New(ctx, engine.Config{
		Logger:    log,
		StorePath: cfg.StorePath,
		Features:  features,
		Breaker:   cfg.Breaker,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := eng.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close engine")
		}
	}()
	log.Info().
		Str("store_path", cfg.StorePath).
		Str("features_file", cfg.FeaturesFile).
		Msg("resilience engine ready")

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Engine:      eng,
		Tokens:      tokenService(cfg, log),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
