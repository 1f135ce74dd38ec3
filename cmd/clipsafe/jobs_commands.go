package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipsafe/internal/api"
	"clipsafe/internal/daemon"
	"clipsafe/internal/ffmpeg"
	"clipsafe/internal/queue"
	"clipsafe/internal/textutil"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		user     string
		states   []string
		limit    int
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.Filter{OwnerID: strings.TrimSpace(user), Limit: limit}
			for _, raw := range states {
				state, ok := queue.ParseState(raw)
				if !ok {
					return fmt.Errorf("unknown state %q", raw)
				}
				filter.States = append(filter.States, state)
			}
			return ctx.withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				list, err := d.Store().List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				now := time.Now()
				if jsonMode {
					dtos := make([]api.Job, 0, len(list))
					for _, job := range list {
						dtos = append(dtos, api.FromJob(job, now))
					}
					return writeJSON(out, dtos)
				}
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs found")
					return nil
				}
				fmt.Fprintln(out, renderJobTable(list, now, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Only jobs owned by this user")
	cmd.Flags().StringSliceVar(&states, "state", nil, "Only jobs in these states (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Emit JSON")
	return cmd
}

func renderJobTable(list []*queue.Job, now time.Time, colorize bool) string {
	headers := []string{"ID", "Owner", "State", "Operation", "Source", "Size", "Updated"}
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		rows = append(rows, []string{
			shortID(job.ID),
			job.OwnerID,
			stateLabel(job.State, colorize),
			textutil.Label(string(job.Operation)),
			job.Source.Filename,
			humanSize(job.Source.SizeBytes),
			relativeAge(now, job.UpdatedAt),
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight})
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonMode bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job with its user-facing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				status, err := d.Jobs().GetJobStatus(cmd.Context(), args[0])
				if err != nil {
					return userFacing(err)
				}
				out := cmd.OutOrStdout()
				if jsonMode {
					return writeJSON(out, api.FromStatus(status))
				}
				job := status.Job
				colorize := shouldColorize(out)
				kind := statusInfo
				switch job.State {
				case queue.StateDone:
					kind = statusOK
				case queue.StateFailed:
					kind = statusError
				case queue.StateCancelled:
					kind = statusWarn
				}
				lines := []string{
					renderStatusLine("Job", statusInfo, job.ID, colorize),
					renderStatusLine("Owner", statusInfo, job.OwnerID, colorize),
					renderStatusLine("State", kind, status.Message, colorize),
					renderStatusLine("Source", statusInfo, describeSource(job), colorize),
				}
				if job.Operation != "" {
					lines = append(lines, renderStatusLine("Operation", statusInfo, describeOperation(job), colorize))
				}
				if job.FailureKind != "" {
					lines = append(lines, renderStatusLine("Failure", statusError, job.FailureKind+": "+job.FailureReason, colorize))
				}
				if job.Result != nil && !status.Expired {
					lines = append(lines, renderStatusLine("Result", statusOK,
						fmt.Sprintf("%s (%s)", job.Result.Name, humanSize(job.Result.SizeBytes)), colorize))
					if status.PublicURL != "" {
						lines = append(lines, renderStatusLine("Link", statusOK, status.PublicURL, colorize))
					}
				}
				if job.ExpiresAt != nil {
					lines = append(lines, renderStatusLine("Expires", statusInfo, job.ExpiresAt.Local().Format(time.RFC3339), colorize))
				}
				lines = append(lines, renderStatusLine("Attempts", statusInfo, fmt.Sprint(job.Attempts), colorize))
				fmt.Fprintln(out, strings.Join(lines, "\n"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Emit JSON")
	return cmd
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a draft or confirmed job on behalf of its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				job, err := d.Jobs().Cancel(cmd.Context(), args[0], user)
				if err != nil {
					return userFacing(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", job.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Owner of the job")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func describeSource(job *queue.Job) string {
	parts := []string{job.Source.Filename}
	if job.Source.URL != "" {
		parts = append(parts, job.Source.URL)
	}
	if job.Source.SizeBytes > 0 {
		parts = append(parts, humanSize(job.Source.SizeBytes))
	}
	if job.Source.DurationSeconds > 0 {
		parts = append(parts, ffmpeg.FormatTimecode(job.Source.DurationSeconds))
	}
	return strings.Join(parts, ", ")
}

func describeOperation(job *queue.Job) string {
	desc := textutil.Label(string(job.Operation))
	p := job.Params
	var details []string
	if p.Start != nil {
		details = append(details, "start "+ffmpeg.FormatTimecode(*p.Start))
	}
	if p.End != nil {
		details = append(details, "end "+ffmpeg.FormatTimecode(*p.End))
	}
	if p.Container != "" {
		details = append(details, "container "+p.Container)
	}
	if p.Offset != nil {
		details = append(details, "offset "+ffmpeg.FormatTimecode(*p.Offset))
	}
	if p.Frame != nil {
		details = append(details, fmt.Sprintf("frame %d", *p.Frame))
	}
	if p.Smart {
		details = append(details, "smart")
	}
	if len(details) == 0 {
		return desc
	}
	return desc + " (" + strings.Join(details, ", ") + ")"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func humanSize(n int64) string {
	if n <= 0 {
		return "-"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func relativeAge(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
