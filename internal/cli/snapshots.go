package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/snapshot"
)

func (a *App) newSnapshotsCmd() *cobra.Command {
	var dir string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect saved snapshots",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", a.cfg.Sandbox.SnapshotDir, "Snapshot directory")

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := snapshot.NewStore(dir, nil).List()
			if err != nil {
				return err
			}
			if jsonOutput {
				return a.printJSON(summaries)
			}
			if len(summaries) == 0 {
				_, _ = fmt.Fprintln(a.stdout, "No snapshots.")
				return nil
			}
			for _, s := range summaries {
				_, _ = fmt.Fprintf(a.stdout, "  %-24s %s  %3d modules  %3d undefined\n",
					s.Name, s.CreatedAt.Format(time.RFC3339), s.EnvFilesCount, s.UndefinedCount)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := snapshot.NewStore(dir, nil).Delete(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

func (a *App) newUndefinedCmd() *cobra.Command {
	var dir string
	var unfixed bool

	cmd := &cobra.Command{
		Use:   "undefined <snapshot>",
		Short: "Print the undefined members recorded in a snapshot",
		Long: `Print the undefined members recorded in a snapshot, one per line, with
their fix state.

Examples:
  envsandbox undefined baseline
  envsandbox undefined baseline --unfixed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.NewStore(dir, nil).Load(args[0])
			if err != nil {
				return err
			}
			for _, e := range snap.UndefinedLogs {
				if unfixed && e.Fixed {
					continue
				}
				_, _ = fmt.Fprintln(a.stdout, formatUndefined(e))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", a.cfg.Sandbox.SnapshotDir, "Snapshot directory")
	cmd.Flags().BoolVar(&unfixed, "unfixed", false, "Only members not yet fixed")
	return cmd
}

func formatUndefined(e proxylog.UndefinedEntry) string {
	if !e.Fixed {
		return e.Path
	}
	return fmt.Sprintf("%s (fixed: %s)", e.Path, e.FixedBy)
}
