package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/envsandbox/internal/envstubs"
)

type stubsOptions struct {
	envDir     string
	pattern    string
	jsonOutput bool
}

func (a *App) newStubsCmd() *cobra.Command {
	opts := &stubsOptions{}

	cmd := &cobra.Command{
		Use:   "stubs",
		Short: "List environment modules in load order",
		Long: `List the environment modules the sandbox loads: the built-in stubs
overlaid by the files in the environment directory.

Examples:
  envsandbox stubs
  envsandbox stubs --pattern "bom/*"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listStubs(opts)
		},
	}

	cmd.Flags().StringVar(&opts.envDir, "env-dir", a.cfg.Sandbox.EnvDir, "Overlay directory for environment modules")
	cmd.Flags().StringVarP(&opts.pattern, "pattern", "p", "", "Glob over module ids, e.g. bom/*")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func (a *App) listStubs(opts *stubsOptions) error {
	catalogue := envstubs.New(opts.envDir, nil)
	entries, err := catalogue.List()
	if err != nil {
		return err
	}
	if opts.pattern != "" {
		ids, err := catalogue.Match(opts.pattern)
		if err != nil {
			return err
		}
		keep := make(map[string]bool, len(ids))
		for _, id := range ids {
			keep[id] = true
		}
		filtered := entries[:0]
		for _, e := range entries {
			if keep[e.ID] {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	if opts.jsonOutput {
		return a.printJSON(entries)
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(a.stdout, "No environment modules.")
		return nil
	}
	_, _ = fmt.Fprintf(a.stdout, "Environment modules (%d):\n", len(entries))
	for _, e := range entries {
		_, _ = fmt.Fprintf(a.stdout, "  %-32s %8d  %s\n", e.ID, e.Size, e.Origin)
	}
	return nil
}
