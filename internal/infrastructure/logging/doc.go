// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for people
//
// The sandbox core takes a plain *zap.Logger; servers and the CLI build one
// here from the LOG_LEVEL and LOG_DEV settings and pass Logger.Logger down.
// Output of sandboxed console calls never reaches this logger unless
// SANDBOX_ECHO_CONSOLE is set.
//
// Example Usage:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
