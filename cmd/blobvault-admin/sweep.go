package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(opts *options) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one orphan payload sweep on the active backend",
		Long: `Deletes payloads on the active storage backend that have no metadata
record and are older than sweeper.grace_period. Payloads without a
modification time are only marked on a first run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.Sweeper.DryRun = dryRun
			}

			a, err := opts.openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if result.Skipped {
				fmt.Fprintln(w, "sweep skipped: another process holds the sweep lock")
				return nil
			}

			verb := "deleted"
			if cfg.Sweeper.DryRun {
				verb = "would delete"
			}
			fmt.Fprintf(w, "scanned:     %d\n", result.Scanned)
			fmt.Fprintf(w, "orphans:     %d\n", result.Orphans)
			fmt.Fprintf(w, "%-12s %d (%d bytes)\n", verb+":", result.Deleted, result.BytesFreed)
			fmt.Fprintf(w, "pending:     %d\n", result.Pending)
			fmt.Fprintf(w, "errors:      %d\n", result.Errors)
			if result.Truncated {
				fmt.Fprintln(w, "batch limit reached; run again to continue")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log orphans without deleting them")
	return cmd
}
