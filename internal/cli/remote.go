package cli

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/envsandbox/internal/client"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

type remoteOptions struct {
	server  string
	timeout time.Duration
	retries int
}

func (a *App) newRemoteCmd() *cobra.Command {
	opts := &remoteOptions{}

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Drive a running envsandbox server",
		Long: `Send commands to a running envsandbox server over its REST API.

Refused connections and rate-limited requests are retried. After repeated
server failures further calls fail fast until the server recovers.

Examples:
  envsandbox remote status
  envsandbox remote --server http://10.0.0.5:3000 run --code "navigator.vendor"
  envsandbox remote undefined --unfixed`,
	}

	host := a.cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", "http://"+net.JoinHostPort(host, a.cfg.Server.Port), "Server base URL")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "http-timeout", client.DefaultTimeout, "Timeout of one API call")
	cmd.PersistentFlags().IntVar(&opts.retries, "retries", client.DefaultRetries, "Retries for refused or rate-limited calls (negative disables)")

	cmd.AddCommand(
		a.newRemoteRunCmd(opts),
		a.newRemoteStatusCmd(opts),
		a.newRemoteUndefinedCmd(opts),
		a.newRemoteResetCmd(opts),
		a.newRemoteSnapshotCmd(opts),
	)
	return cmd
}

func (o *remoteOptions) client() *client.Client {
	return client.New(o.server, client.Options{Timeout: o.timeout, Retries: o.retries})
}

func (a *App) newRemoteRunCmd(opts *remoteOptions) *cobra.Command {
	var (
		code       string
		timeout    time.Duration
		reset      bool
		isolated   bool
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Execute code in the server sandbox",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.readCode(code, args)
			if err != nil {
				return err
			}
			c := opts.client()
			var res *client.RunResult
			if isolated {
				res, err = c.RunIsolated(cmd.Context(), src, timeout)
			} else {
				res, err = c.Run(cmd.Context(), src, timeout, reset)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return a.printJSON(res)
			}
			if !res.Success {
				_, _ = fmt.Fprintf(a.stdout, "Error: %s\n", res.Error)
			} else {
				_, _ = fmt.Fprintln(a.stdout, res.Result)
			}
			if len(res.UndefinedPaths) > 0 {
				_, _ = fmt.Fprintf(a.stdout, "\nUndefined (%d):\n  %s\n", len(res.UndefinedPaths), strings.Join(res.UndefinedPaths, "\n  "))
			}
			if !res.Success {
				return fmt.Errorf("execution failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&code, "code", "e", "", "Code to execute")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Execution timeout (0 uses the server default)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Reset the shared sandbox first")
	cmd.Flags().BoolVar(&isolated, "isolated", false, "Run in a throwaway pooled sandbox")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full result as JSON")
	return cmd
}

func (a *App) newRemoteStatusCmd(opts *remoteOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server sandbox statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			h, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return a.printJSON(st)
			}
			s := st.Stats
			_, _ = fmt.Fprintf(a.stdout, "Server:     %s (version %s, up %.0fs)\n", opts.server, h.Version, h.Uptime)
			_, _ = fmt.Fprintf(a.stdout, "State:      %s\n", s.State)
			_, _ = fmt.Fprintf(a.stdout, "Modules:    %d loaded\n", len(s.LoadedEnvFiles))
			_, _ = fmt.Fprintf(a.stdout, "Executions: %d (p50 %.1f ms, p95 %.1f ms)\n", s.Executions, s.DurationP50Ms, s.DurationP95Ms)
			_, _ = fmt.Fprintf(a.stdout, "Undefined:  %d (%d unfixed)\n", s.UndefinedCount, s.UnfixedCount)
			if st.NeedsReset {
				_, _ = fmt.Fprintln(a.stdout, "Needs reset")
			}
			if st.Pool != nil {
				_, _ = fmt.Fprintf(a.stdout, "Pool:       %d/%d in use\n", st.Pool.InUse, st.Pool.Size)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func (a *App) newRemoteUndefinedCmd(opts *remoteOptions) *cobra.Command {
	var (
		unfixed bool
		limit   int
		fix     string
	)
	cmd := &cobra.Command{
		Use:   "undefined",
		Short: "List undefined members, or mark one fixed with --fix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			if fix != "" {
				if err := c.MarkFixed(cmd.Context(), fix, proxylog.FixedManual); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(a.stdout, "Marked %s fixed\n", fix)
				return nil
			}
			list, err := c.Undefined(cmd.Context(), unfixed, limit)
			if err != nil {
				return err
			}
			for _, e := range list {
				_, _ = fmt.Fprintln(a.stdout, formatUndefined(e))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&unfixed, "unfixed", false, "Only list unfixed members")
	cmd.Flags().IntVar(&limit, "limit", 0, "Keep only the most recent entries")
	cmd.Flags().StringVar(&fix, "fix", "", "Mark this path fixed")
	return cmd
}

func (a *App) newRemoteResetCmd(opts *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Rebuild the server sandbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Reset(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.stdout, "Sandbox reset")
			return nil
		},
	}
}

func (a *App) newRemoteSnapshotCmd(opts *remoteOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save, load or list server snapshots",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "save <name>",
			Short: "Save the server sandbox state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := opts.client().SaveSnapshot(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(a.stdout, "Saved %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "load <name>",
			Short: "Restore the server sandbox from a snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := opts.client().LoadSnapshot(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(a.stdout, "Loaded %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List server snapshots",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				list, err := opts.client().Snapshots(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range list {
					_, _ = fmt.Fprintf(a.stdout, "%-24s %s  modules=%d undefined=%d\n",
						s.Name, s.CreatedAt.Format(time.RFC3339), s.EnvFilesCount, s.UndefinedCount)
				}
				return nil
			},
		},
	)
	return cmd
}
