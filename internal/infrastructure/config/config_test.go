package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)

	// Sandbox config
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout())
	assert.Equal(t, 10000, cfg.Sandbox.MaxLogs)
	assert.Equal(t, 50, cfg.Sandbox.MaxChainDepth)
	assert.Equal(t, 100, cfg.Sandbox.MaxString)
	assert.Equal(t, "./env", cfg.Sandbox.EnvDir)
	assert.True(t, cfg.Sandbox.AutoReset)
	assert.False(t, cfg.Sandbox.EchoConsole)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                    "9000",
		"HOST":                    "127.0.0.1",
		"CORS_ORIGINS":            "http://a.test,http://b.test",
		"SANDBOX_TIMEOUT_MS":      "250",
		"SANDBOX_MAX_LOGS":        "500",
		"SANDBOX_MAX_CALL_STACK":  "128",
		"SANDBOX_ENV_DIR":         "/srv/env",
		"SANDBOX_AUTO_RESET":      "false",
		"SANDBOX_ECHO_CONSOLE":    "true",
		"SANDBOX_POOL_SIZE":       "4",
		"LOG_LEVEL":               "debug",
		"LOG_DEV":                 "true",
		"RATE_LIMIT_RPS":          "500",
		"RATE_LIMIT_BURST":        "1000",
		"RATE_LIMIT_ENABLED":      "false",
		"SANDBOX_MAX_CHAIN_DEPTH": "10",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)

	assert.Equal(t, 250*time.Millisecond, cfg.Sandbox.Timeout())
	assert.Equal(t, 500, cfg.Sandbox.MaxLogs)
	assert.Equal(t, 128, cfg.Sandbox.MaxCallStack)
	assert.Equal(t, 10, cfg.Sandbox.MaxChainDepth)
	assert.Equal(t, "/srv/env", cfg.Sandbox.EnvDir)
	assert.False(t, cfg.Sandbox.AutoReset)
	assert.True(t, cfg.Sandbox.EchoConsole)
	assert.Equal(t, 4, cfg.Sandbox.PoolSize)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non numeric timeout", "SANDBOX_TIMEOUT_MS", "soon"},
		{"zero timeout", "SANDBOX_TIMEOUT_MS", "0"},
		{"zero log size", "SANDBOX_MAX_LOGS", "0"},
		{"negative pool", "SANDBOX_POOL_SIZE", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}
