package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"clipsafe/internal/api"
	"clipsafe/internal/daemon"
	"clipsafe/internal/jobs"
	"clipsafe/internal/queue"
	"clipsafe/internal/services"
)

type submitOptions struct {
	user          string
	file          string
	url           string
	op            string
	start         string
	end           string
	container     string
	offset        string
	frame         *int
	smart         bool
	confirmRights bool
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var opts submitOptions
	var frame int
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create a job from a file or link and queue an operation",
		Example: `  clipsafe submit --user ops --file talk.mp4 --confirm-rights --op trim --start 1:00 --end 2:30
  clipsafe submit --user ops --url https://media.example/clip.mp4 --confirm-rights --op extract-audio`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.file == "") == (opts.url == "") {
				return errors.New("exactly one of --file or --url is required")
			}
			if cmd.Flags().Changed("frame") {
				opts.frame = &frame
			}
			return ctx.withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				return runSubmit(cmd, d.Jobs(), opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.user, "user", "", "Owner of the job")
	cmd.Flags().StringVar(&opts.file, "file", "", "Local media file to upload")
	cmd.Flags().StringVar(&opts.url, "url", "", "Direct or landing-page media link")
	cmd.Flags().StringVar(&opts.op, "op", "", "Operation: "+operationNames())
	cmd.Flags().StringVar(&opts.start, "start", "", "Trim start (seconds or [HH:]MM:SS)")
	cmd.Flags().StringVar(&opts.end, "end", "", "Trim end (seconds or [HH:]MM:SS)")
	cmd.Flags().StringVar(&opts.container, "container", "", "Target container for remux")
	cmd.Flags().StringVar(&opts.offset, "offset", "", "Thumbnail offset")
	cmd.Flags().IntVar(&frame, "frame", 0, "Thumbnail frame index, counted from --offset")
	cmd.Flags().BoolVar(&opts.smart, "smart", false, "Re-encode trim boundaries for frame accuracy")
	cmd.Flags().BoolVar(&opts.confirmRights, "confirm-rights", false, "Confirm you own or are licensed to use this media")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runSubmit(cmd *cobra.Command, svc *jobs.Service, opts submitOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	src := jobs.NewSource{URL: opts.url}
	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return fmt.Errorf("open %s: %w", opts.file, err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", opts.file, err)
		}
		src = jobs.NewSource{
			Filename:  filepath.Base(opts.file),
			Body:      f,
			SizeBytes: info.Size(),
			MIME:      mime.TypeByExtension(strings.ToLower(filepath.Ext(opts.file))),
		}
	}

	job, err := svc.CreateDraft(ctx, opts.user, src)
	if err != nil {
		return userFacing(err)
	}
	fmt.Fprintf(out, "Created draft %s for %s\n", job.ID, job.Source.Filename)

	if !opts.confirmRights {
		fmt.Fprintln(out, "Rights not confirmed; re-run with --confirm-rights or confirm through the API.")
		return nil
	}
	if _, err := svc.ConfirmRights(ctx, job.ID, true); err != nil {
		return userFacing(err)
	}
	if strings.TrimSpace(opts.op) == "" {
		fmt.Fprintln(out, "Rights confirmed; choose an operation with --op.")
		return nil
	}

	op, params, err := api.ToParams(api.OperationRequest{
		Operation: opts.op,
		Start:     opts.start,
		End:       opts.end,
		Container: opts.container,
		Smart:     opts.smart,
		Offset:    opts.offset,
		Frame:     opts.frame,
	})
	if err != nil {
		return userFacing(err)
	}
	queued, err := svc.SelectOperation(ctx, job.ID, op, params)
	if err != nil {
		return userFacing(err)
	}
	fmt.Fprintf(out, "Queued %s (%s)\n", queued.ID, queued.Operation)
	return nil
}

// userFacing keeps the taxonomy message for user errors and the full
// chain for everything else, which operators need to diagnose.
func userFacing(err error) error {
	if services.IsUserError(err) || errors.Is(err, services.ErrInvalidTransition) {
		body := api.FromError(err).Error
		return fmt.Errorf("%s (%s)", body.Message, body.Kind)
	}
	return err
}

func operationNames() string {
	ops := queue.AllOperations()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op)
	}
	return strings.Join(names, ", ")
}
