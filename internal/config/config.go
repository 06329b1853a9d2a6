// Package config loads runtime configuration for the resilience engine from
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/docsmith/docsmith/internal/auth"
	"github.com/docsmith/docsmith/internal/featureflags"
	"github.com/docsmith/docsmith/internal/resilience"
)

// ErrMissingSigningKey is returned in production when no token signing key
// is configured.
var ErrMissingSigningKey = errors.New("DOCSMITH_JWT_SIGNING_KEY is required in production")

// Config holds the engine and server configuration.
type Config struct {
	Port        string
	Environment string

	// StorePath is the SQLite file backing the local store. Empty keeps all
	// state in memory.
	StorePath string

	// FeaturesFile is an optional YAML feature table replacing the defaults.
	FeaturesFile string

	Breaker resilience.BreakerConfig

	// Auth configures the bearer tokens that carry caller roles. An empty
	// SigningKey means no key was configured.
	Auth auth.TokenConfig

	OTLPEndpoint     string
	TelemetryEnabled bool

	// TraceSampleRatio is the fraction of root traces exported, in [0,1].
	TraceSampleRatio float64
}

// FromEnv creates a Config from environment variables.
func FromEnv() (Config, error) {
	threshold, err := parseUint(getEnvOrDefault("BREAKER_FAILURE_THRESHOLD", "5"))
	if err != nil {
		return Config{}, fmt.Errorf("BREAKER_FAILURE_THRESHOLD: %w", err)
	}
	halfOpen, err := parseUint(getEnvOrDefault("BREAKER_HALF_OPEN_CALLS", "1"))
	if err != nil {
		return Config{}, fmt.Errorf("BREAKER_HALF_OPEN_CALLS: %w", err)
	}
	reset, err := time.ParseDuration(getEnvOrDefault("BREAKER_RESET_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("BREAKER_RESET_TIMEOUT: %w", err)
	}
	ratio, err := strconv.ParseFloat(getEnvOrDefault("OTEL_TRACES_SAMPLER_ARG", "1"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG: %w", err)
	}
	if ratio < 0 || ratio > 1 {
		return Config{}, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG: %v is outside [0,1]", ratio)
	}
	expiry, err := time.ParseDuration(getEnvOrDefault("DOCSMITH_JWT_EXPIRY", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("DOCSMITH_JWT_EXPIRY: %w", err)
	}

	env := getEnvOrDefault("APP_ENV", "development")
	signingKey := os.Getenv("DOCSMITH_JWT_SIGNING_KEY")
	if signingKey == "" && env == "production" {
		return Config{}, ErrMissingSigningKey
	}

	return Config{
		Port:         getEnvOrDefault("APP_PORT", "8080"),
		Environment:  env,
		StorePath:    os.Getenv("DOCSMITH_STORE_PATH"),
		FeaturesFile: os.Getenv("DOCSMITH_FEATURES_FILE"),
		Breaker: resilience.BreakerConfig{
			FailureThreshold: threshold,
			ResetTimeout:     reset,
			HalfOpenCalls:    halfOpen,
		},
		Auth: auth.TokenConfig{
			SigningKey: signingKey,
			Issuer:     getEnvOrDefault("DOCSMITH_JWT_ISSUER", "docsmith-resilienced"),
			Audience:   getEnvOrDefault("DOCSMITH_JWT_AUDIENCE", "docsmith-ops"),
			Expiry:     expiry,
		},
		OTLPEndpoint:     getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled: os.Getenv("OTEL_ENABLED") == "true",
		TraceSampleRatio: ratio,
	}, nil
}

// Load reads the given .env files (".env" when none are named) into the
// environment and then builds a Config. Missing files are skipped; variables
// already set in the environment win.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// Features returns the configured feature table, or the defaults when no
// file is set.
func (c Config) Features() ([]featureflags.FeatureConfig, error) {
	if c.FeaturesFile == "" {
		return featureflags.DefaultFeatures(), nil
	}
	return featureflags.LoadFeatures(c.FeaturesFile)
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
