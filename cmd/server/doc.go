// Package main is the entry point of the sandbox HTTP service.
//
// The server keeps one shared sandbox loaded with the environment stubs
// and exposes it over REST, with a WebSocket event stream on /stream and
// Prometheus metrics on /metrics.
//
// Configuration:
//   - Environment variables (PORT, SANDBOX_*, LOG_*, RATE_LIMIT_*, CORS_ORIGINS)
//   - CLI flags (override env vars)
//
// Usage:
//
//	./server -port 3000 -env-dir ./env
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
