package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"clipsafe/internal/daemon"
	"clipsafe/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var skipPreflight bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, worker pool and maintenance loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), ctx, daemon.Options{API: true, Workers: true, SkipPreflight: skipPreflight})
		},
	}
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start even when required checks fail")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var skipPreflight bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run workers and maintenance without the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), ctx, daemon.Options{Workers: true, SkipPreflight: skipPreflight})
		},
	}
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start even when required checks fail")
	return cmd
}

func runDaemon(cmdCtx context.Context, ctx *commandContext, opts daemon.Options) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.serviceLogger()
	if err != nil {
		return err
	}

	d, err := daemon.New(signalCtx, cfg, logger, opts)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if addr := d.Status().Address; addr != "" {
		logger.Info("clipsafe ready", logging.String("address", addr))
	}

	<-signalCtx.Done()
	logger.Info("clipsafe shutting down")
	d.Stop()
	return nil
}
