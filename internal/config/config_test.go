package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsmith/docsmith/internal/config"
	"github.com/docsmith/docsmith/internal/featureflags"
)

var envKeys = []string{
	"APP_PORT",
	"APP_ENV",
	"DOCSMITH_STORE_PATH",
	"DOCSMITH_FEATURES_FILE",
	"BREAKER_FAILURE_THRESHOLD",
	"BREAKER_RESET_TIMEOUT",
	"BREAKER_HALF_OPEN_CALLS",
	"OTEL_ENABLED",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_TRACES_SAMPLER_ARG",
	"DOCSMITH_JWT_SIGNING_KEY",
	"DOCSMITH_JWT_ISSUER",
	"DOCSMITH_JWT_AUDIENCE",
	"DOCSMITH_JWT_EXPIRY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Empty(t, cfg.StorePath)
	assert.Equal(t, uint32(5), cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, uint32(1), cfg.Breaker.HalfOpenCalls)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.False(t, cfg.TelemetryEnabled)
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
	assert.False(t, cfg.IsProduction())
	assert.Empty(t, cfg.Auth.SigningKey)
	assert.Equal(t, "docsmith-resilienced", cfg.Auth.Issuer)
	assert.Equal(t, "docsmith-ops", cfg.Auth.Audience)
	assert.Equal(t, time.Hour, cfg.Auth.Expiry)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("DOCSMITH_STORE_PATH", "/var/lib/docsmith/state.db")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "2")
	t.Setenv("BREAKER_RESET_TIMEOUT", "1s")
	t.Setenv("BREAKER_HALF_OPEN_CALLS", "3")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	t.Setenv("DOCSMITH_JWT_SIGNING_KEY", "prod-secret")
	t.Setenv("DOCSMITH_JWT_EXPIRY", "15m")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "/var/lib/docsmith/state.db", cfg.StorePath)
	assert.Equal(t, uint32(2), cfg.Breaker.FailureThreshold)
	assert.Equal(t, time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, uint32(3), cfg.Breaker.HalfOpenCalls)
	assert.True(t, cfg.TelemetryEnabled)
	assert.Equal(t, 0.25, cfg.TraceSampleRatio)
	assert.Equal(t, "prod-secret", cfg.Auth.SigningKey)
	assert.Equal(t, 15*time.Minute, cfg.Auth.Expiry)
}

func TestFromEnv_ProductionRequiresSigningKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")

	_, err := config.FromEnv()
	assert.ErrorIs(t, err, config.ErrMissingSigningKey)
}

func TestFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"BREAKER_FAILURE_THRESHOLD", "five"},
		{"BREAKER_FAILURE_THRESHOLD", "-1"},
		{"BREAKER_HALF_OPEN_CALLS", "1.5"},
		{"BREAKER_RESET_TIMEOUT", "30"},
		{"OTEL_TRACES_SAMPLER_ARG", "half"},
		{"OTEL_TRACES_SAMPLER_ARG", "1.5"},
		{"DOCSMITH_JWT_EXPIRY", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := config.FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("APP_PORT")
	os.Unsetenv("BREAKER_FAILURE_THRESHOLD")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("APP_PORT=7070\nBREAKER_FAILURE_THRESHOLD=4\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, uint32(4), cfg.Breaker.FailureThreshold)
	t.Cleanup(func() {
		os.Unsetenv("APP_PORT")
		os.Unsetenv("BREAKER_FAILURE_THRESHOLD")
	})
}

func TestLoad_MissingFileIsSkipped(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
}

func TestConfig_Features(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		features, err := config.Config{}.Features()
		require.NoError(t, err)
		assert.Equal(t, featureflags.DefaultFeatures(), features)
	})

	t.Run("yaml table", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "features.yaml")
		table := `features:
  - name: editing
    critical: true
    default_enabled: true
  - name: collaboration
    default_enabled: true
    requires_online: true
    min_system_health: 70
`
		require.NoError(t, os.WriteFile(path, []byte(table), 0o600))

		features, err := config.Config{FeaturesFile: path}.Features()
		require.NoError(t, err)
		require.Len(t, features, 2)
		assert.Equal(t, "collaboration", features[1].Name)
		assert.Equal(t, 70.0, features[1].MinSystemHealth)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Config{FeaturesFile: filepath.Join(t.TempDir(), "none.yaml")}.Features()
		assert.Error(t, err)
	})
}
