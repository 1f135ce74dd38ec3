package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clipsafe/internal/queue"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// Open applies pending migrations before returning.
			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()
			applied, err := store.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			version, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(applied) > 0 {
				fmt.Fprintf(out, "Applied migrations: %v\n", applied)
			}
			fmt.Fprintf(out, "Schema version %d (%s)\n", version, store.Driver())
			return nil
		},
	}
}
