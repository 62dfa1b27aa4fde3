// Package cli provides the envsandbox command-line interface: one-off runs
// against a fresh sandbox, inspection of stubs and snapshots on disk, and
// remote control of a running server.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/config"
)

// Version information set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// App represents the CLI application.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config
}

// New creates a new CLI application. Directory flags default to the
// SANDBOX_* environment settings.
func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
		cfg:    config.LoadOrDefault(),
	}

	app.root = &cobra.Command{
		Use:   "envsandbox",
		Short: "Run code against an instrumented browser-like environment",
		Long: `envsandbox runs JavaScript inside a sandbox that imitates a browser
environment and records every property access, call and missing member.

Use "run" for one-off executions, "stubs" to inspect the environment modules
and "snapshots" to inspect saved sandbox states. "remote" drives a running
server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	app.root.AddCommand(
		app.newVersionCmd(),
		app.newRunCmd(),
		app.newStubsCmd(),
		app.newSnapshotsCmd(),
		app.newUndefinedCmd(),
		app.newRemoteCmd(),
	)

	return app
}

// WithOutput sets custom output writers.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the CLI application.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the CLI with specific arguments (useful for testing).
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(a.stdout, "envsandbox version %s\n", Version)
			_, _ = fmt.Fprintf(a.stdout, "  Git commit: %s\n", GitCommit)
			_, _ = fmt.Fprintf(a.stdout, "  Build date: %s\n", BuildDate)
		},
	}
}

// printJSON writes v indented.
func (a *App) printJSON(v any) error {
	data, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(a.stdout, string(data))
	return err
}
