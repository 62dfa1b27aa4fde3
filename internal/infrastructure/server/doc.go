// Package server assembles the sandbox service.
//
// Server Lifecycle:
//  1. Build the logger from LOG_* settings
//  2. Create metrics, tracer and the event hub
//  3. Open the stub catalogue, mock rule file and snapshot directory
//  4. Start the shared sandbox, load every module and apply the rules
//  5. Prime the isolated-run pool
//  6. Watch the overlay directory for patch edits
//  7. Mount middleware, API routes, /metrics and /stream
//  8. Serve until Close
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
