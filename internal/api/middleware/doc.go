// Package middleware provides the HTTP middleware for the sandbox API.
//
//   - CORS: cross-origin resource sharing with configurable origins
//   - RateLimit: per-IP token bucket rate limiting with idle client expiry
//   - GlobalRateLimit: one bucket shared by every client
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.CORSConfigFor(cfg.Server.CORSOrigins)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
