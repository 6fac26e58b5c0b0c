package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// buildSweepCmd creates the "sweep" command, a one-shot run of the Checkpoint Manager's
// retention sweep (the same work the "serve" command's cron schedule runs continuously).
func buildSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the checkpoint retention sweep once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context())
		},
	}
}

func runSweep(ctx context.Context) error {
	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	pruned, err := rt.checkpoint.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("corerun: sweep: %w", err)
	}
	fmt.Printf("pruned %d checkpoint(s)\n", pruned)
	return nil
}
