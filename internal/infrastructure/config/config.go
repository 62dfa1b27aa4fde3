package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Sandbox   SandboxConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" default:"3000"`
	Host        string   `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// SandboxConfig holds sandbox and storage settings.
type SandboxConfig struct {
	TimeoutMS     int    `envconfig:"SANDBOX_TIMEOUT_MS" default:"5000"`
	MaxLogs       int    `envconfig:"SANDBOX_MAX_LOGS" default:"10000"`
	MaxChainDepth int    `envconfig:"SANDBOX_MAX_CHAIN_DEPTH" default:"50"`
	MaxString     int    `envconfig:"SANDBOX_MAX_STRING" default:"100"`
	MaxCallStack  int    `envconfig:"SANDBOX_MAX_CALL_STACK" default:"4096"`
	EnvDir        string `envconfig:"SANDBOX_ENV_DIR" default:"./env"`
	SnapshotDir   string `envconfig:"SANDBOX_SNAPSHOT_DIR" default:"./snapshots"`
	MockRules     string `envconfig:"SANDBOX_MOCK_RULES" default:"./config/mock-rules.yaml"`
	SeedHTML      string `envconfig:"SANDBOX_SEED_HTML" default:""`
	AutoReset     bool   `envconfig:"SANDBOX_AUTO_RESET" default:"true"`
	WatchPatches  bool   `envconfig:"SANDBOX_WATCH_PATCHES" default:"true"`
	EchoConsole   bool   `envconfig:"SANDBOX_ECHO_CONSOLE" default:"false"`
	ApplyRules    bool   `envconfig:"SANDBOX_APPLY_MOCK_RULES" default:"true"`
	PoolSize      int    `envconfig:"SANDBOX_POOL_SIZE" default:"2"`
}

// Timeout returns the default execution timeout.
func (s SandboxConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings the sandbox cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Sandbox.TimeoutMS <= 0:
		return fmt.Errorf("SANDBOX_TIMEOUT_MS must be positive, got %d", c.Sandbox.TimeoutMS)
	case c.Sandbox.MaxLogs <= 0:
		return fmt.Errorf("SANDBOX_MAX_LOGS must be positive, got %d", c.Sandbox.MaxLogs)
	case c.Sandbox.PoolSize < 0:
		return fmt.Errorf("SANDBOX_POOL_SIZE must not be negative, got %d", c.Sandbox.PoolSize)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "3000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Sandbox: SandboxConfig{
			TimeoutMS:     5000,
			MaxLogs:       10000,
			MaxChainDepth: 50,
			MaxString:     100,
			MaxCallStack:  4096,
			EnvDir:        "./env",
			SnapshotDir:   "./snapshots",
			MockRules:     "./config/mock-rules.yaml",
			AutoReset:     true,
			WatchPatches:  true,
			ApplyRules:    true,
			PoolSize:      2,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
