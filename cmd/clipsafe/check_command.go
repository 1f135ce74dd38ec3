package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"clipsafe/internal/daemon"
	"clipsafe/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify tools, directories, database and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				results := d.Preflight(cmd.Context())
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Preflight", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, r := range results {
					fmt.Fprintln(out, renderStatusLine(r.Name, resultKind(r), r.Detail, colorize))
				}
				if failed := preflight.Failed(results); len(failed) > 0 {
					return fmt.Errorf("%d required check(s) failed", len(failed))
				}
				return nil
			})
		},
	}
}

func resultKind(r preflight.Result) statusKind {
	switch {
	case r.Passed:
		return statusOK
	case r.Optional:
		return statusWarn
	default:
		return statusError
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", title)
	rule := strings.Repeat("-", len(line))
	if colorize {
		return []string{statusKindColors(statusInfo).Sprint(line), statusKindColors(statusInfo).Sprint(rule)}
	}
	return []string{line, rule}
}
