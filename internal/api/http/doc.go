// Package http provides the REST API of the sandbox service.
//
// Every route that touches the shared sandbox goes through a Runner, which
// serializes access, starts the sandbox lazily and rebuilds it after an
// interrupted run when auto reset is on.
//
// Endpoints:
//   - Health: / and /health, /api for the endpoint index
//   - Sandbox: /api/sandbox/run, isolated, inject, load-env, reset, status
//   - Logs: /api/sandbox/undefined, /api/sandbox/logs, /api/log/export
//   - Mocks: /api/sandbox/mocks for live mocks, /api/mock/* for stored rules
//   - Modules: /api/env/list, /api/env/file, /api/env/patches
//   - Snapshots: /api/snapshot/save, load, list, export, /:name
//
// Errors are answered as {"success": false, "error": "..."} with a status
// derived from the sentinel errors of the sandbox packages.
//
// Example Usage:
//
//	runner := http.NewRunner(sb, rules, http.RunnerOptions{AutoReset: true}, logger)
//	handlers := http.NewHandlers(http.Deps{Runner: runner, Catalogue: catalogue, Logger: logger})
//	handlers.Register(router)
package http
