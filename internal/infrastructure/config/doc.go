// Package config provides 12-factor configuration for the sandbox server
// and CLI.
//
// Configuration is loaded from environment variables with defaults. CLI
// flags override individual values.
//
// Configuration Sections:
//   - Server: HTTP listen address and allowed CORS origins
//   - Sandbox: execution limits, log sizes and storage locations
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting
//
// Environment Variables:
//   - PORT, HOST, CORS_ORIGINS
//   - SANDBOX_TIMEOUT_MS, SANDBOX_MAX_LOGS, SANDBOX_MAX_CHAIN_DEPTH,
//     SANDBOX_MAX_STRING, SANDBOX_MAX_CALL_STACK
//   - SANDBOX_ENV_DIR, SANDBOX_SNAPSHOT_DIR, SANDBOX_MOCK_RULES, SANDBOX_SEED_HTML
//   - SANDBOX_AUTO_RESET, SANDBOX_WATCH_PATCHES, SANDBOX_ECHO_CONSOLE,
//     SANDBOX_APPLY_MOCK_RULES, SANDBOX_POOL_SIZE
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
