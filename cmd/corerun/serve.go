package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that keeps the runtime resident, running the
// Checkpoint Manager's retention sweep on Checkpoint.SweepInterval until SIGINT/SIGTERM.
func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep the runtime resident and run the checkpoint retention sweep on a schedule",
		Long: `Serve builds the same runtime the run and sweep commands use, then blocks,
running the Checkpoint Manager's retention sweep on the cron schedule named by
checkpoint.sweep_interval until interrupted.

It does not open any network listener of its own: packaging this as a long-running service
(systemd unit, container, HTTP health endpoint) is left to the deployer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	sched := cron.New()
	if _, err := sched.AddFunc(rt.cfg.Checkpoint.SweepInterval, func() {
		pruned, err := rt.checkpoint.Sweep(ctx)
		if err != nil {
			slog.Error("checkpoint sweep failed", "error", err)
			return
		}
		if pruned > 0 {
			slog.Info("checkpoint sweep pruned checkpoints", "count", pruned)
		}
	}); err != nil {
		return fmt.Errorf("corerun: scheduling checkpoint sweep %q: %w", rt.cfg.Checkpoint.SweepInterval, err)
	}
	sched.Start()
	defer sched.Stop()

	slog.Info("corerun serving", "version", version, "commit", commit, "config", configPath,
		"sweep_interval", rt.cfg.Checkpoint.SweepInterval)

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}
