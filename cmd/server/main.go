package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags override environment variables
	flag.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "Server port")
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "Listen address")
	flag.StringVar(&cfg.Sandbox.EnvDir, "env-dir", cfg.Sandbox.EnvDir, "Overlay directory for environment modules")
	flag.StringVar(&cfg.Sandbox.SeedHTML, "seed", cfg.Sandbox.SeedHTML, "HTML document backing the DOM stubs")
	flag.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "Development logging")
	flag.Parse()

	srv, err := server.NewServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-sigChan:
		if err := srv.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	case err := <-errChan:
		_ = srv.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	}
}
