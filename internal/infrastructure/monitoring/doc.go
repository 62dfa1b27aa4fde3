/*
Package monitoring provides Prometheus metrics for the sandbox service.

# Overview

Metrics tracks HTTP requests, sandbox executions, environment module loads,
undefined path discovery, resets and event stream connections. Each
collector owns its registry, so tests can create as many as they like.

# Usage

	metrics := monitoring.NewMetrics()

	// Count sandbox events
	manager.Observe(monitoring.NewSandboxObserver(metrics, nil))

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Expose the registry
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
