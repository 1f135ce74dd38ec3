package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"clipsafe/internal/daemon"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var reclaim bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired results and stale workspaces once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				now := time.Now().UTC()
				maint := d.Maintenance()
				if reclaim {
					maint.Tick(cmd.Context(), now)
				}
				report, err := maint.Sweep(cmd.Context(), now)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				out := cmd.OutOrStdout()
				if report.Skipped {
					fmt.Fprintln(out, "Another sweep holds the lock; nothing done")
					return nil
				}
				fmt.Fprintf(out, "Artifacts removed: %d\n", report.Artifacts)
				fmt.Fprintf(out, "Jobs purged:       %d\n", report.JobsPurged)
				fmt.Fprintf(out, "Workspaces:        %d\n", report.Workspaces)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reclaim, "reclaim", false, "Also reclaim stale jobs and expire abandoned drafts")
	return cmd
}
