package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/envsandbox/internal/envstubs"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/server"
	"github.com/GriffinCanCode/envsandbox/internal/mockrules"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox"
)

// runOptions holds options for the run command.
type runOptions struct {
	code       string
	envDir     string
	seed       string
	rules      string
	timeout    time.Duration
	noEnv      bool
	applyRules bool
	jsonOutput bool
	verbose    bool
}

func (a *App) newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Execute code in a fresh sandbox",
		Long: `Execute JavaScript in a fresh sandbox and print the result together with
the undefined members it touched.

The code comes from --code, from the file argument, or from stdin when the
argument is "-".

Examples:
  # Evaluate an expression
  envsandbox run --code "navigator.userAgent"

  # Run a script against a custom stub directory
  envsandbox run --env-dir ./env probe.js

  # Full result as JSON, with the stored mock rules applied
  envsandbox run --json --rules ./config/mock-rules.yaml probe.js`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := a.readCode(opts.code, args)
			if err != nil {
				return err
			}
			opts.code = code
			return a.run(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.code, "code", "e", "", "Code to execute")
	cmd.Flags().StringVar(&opts.envDir, "env-dir", a.cfg.Sandbox.EnvDir, "Overlay directory for environment modules")
	cmd.Flags().StringVar(&opts.seed, "seed", a.cfg.Sandbox.SeedHTML, "HTML document backing the DOM stubs")
	cmd.Flags().StringVar(&opts.rules, "rules", a.cfg.Sandbox.MockRules, "Mock rules file")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", a.cfg.Sandbox.Timeout(), "Execution timeout")
	cmd.Flags().BoolVar(&opts.noEnv, "no-env", false, "Skip loading the environment modules")
	cmd.Flags().BoolVar(&opts.applyRules, "apply-rules", false, "Apply the enabled mock rules before running")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the full result as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print console output and module failures")

	return cmd
}

func (a *App) readCode(flag string, args []string) (string, error) {
	switch {
	case flag != "":
		return flag, nil
	case len(args) == 0:
		return "", fmt.Errorf("no code given: use --code or a file argument")
	case args[0] == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), nil
}

func (a *App) run(cmd *cobra.Command, opts *runOptions) error {
	sandboxCfg := a.cfg.Sandbox
	sandboxCfg.SeedHTML = opts.seed
	sbCfg, err := server.SandboxConfig(sandboxCfg)
	if err != nil {
		return err
	}

	sb := sandbox.New(sbCfg, envstubs.New(opts.envDir, nil), nil)
	defer sb.Dispose()
	if err := sb.Init(); err != nil {
		return fmt.Errorf("start sandbox: %w", err)
	}

	if !opts.noEnv {
		results, err := sb.LoadAllEnvFiles()
		if err != nil {
			return fmt.Errorf("load environment: %w", err)
		}
		if opts.verbose {
			for _, r := range results {
				if !r.Success {
					_, _ = fmt.Fprintf(a.stderr, "module %s failed: %s\n", r.File, r.Error)
				}
			}
		}
	}

	if opts.applyRules {
		rep, err := mockrules.NewStore(opts.rules, nil).Apply(sb)
		if err != nil {
			return fmt.Errorf("apply mock rules: %w", err)
		}
		for _, f := range rep.Failed {
			_, _ = fmt.Fprintf(a.stderr, "mock rule %s (%s) failed: %s\n", f.ID, f.Path, f.Error)
		}
	}

	res, err := sb.Execute(cmd.Context(), opts.code, opts.timeout)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return a.printJSON(res)
	}

	if opts.verbose {
		for _, c := range res.Logs.Console {
			_, _ = fmt.Fprintf(a.stdout, "[%s] %s\n", c.Level, c.Message)
		}
	}
	if !res.Success {
		_, _ = fmt.Fprintf(a.stdout, "Error: %s\n", res.Error)
	} else {
		_, _ = fmt.Fprintln(a.stdout, res.Result)
	}
	if len(res.UndefinedPaths) > 0 {
		_, _ = fmt.Fprintf(a.stdout, "\nUndefined (%d):\n  %s\n", len(res.UndefinedPaths), strings.Join(res.UndefinedPaths, "\n  "))
	}
	_, _ = fmt.Fprintf(a.stdout, "\n%d ms, %d accesses, %d calls\n", res.DurationMs, len(res.Logs.Access), len(res.Logs.Calls))

	if !res.Success {
		return fmt.Errorf("execution failed")
	}
	return nil
}
