package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fenwick-ai/corerun/internal/engine"
	"github.com/fenwick-ai/corerun/pkg/models"
)

// buildRunCmd creates the "run" command that drives a single agent against the wired runtime.
func buildRunCmd() *cobra.Command {
	var (
		agentID       string
		role          string
		task          bool
		maxIterations int
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single turn or reason/act task against the wired runtime",
		Long: `Run loads the configured LLM provider, Tool Dispatcher and Conversation Manager,
spawns (or reuses) one agent, and drives either a single turn (the default) or a full
reason/act task loop (--task) against the given prompt.

This is a local smoke-test path, not a multi-agent orchestrator; use the Message Bus package
directly for multi-agent scenarios.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), runOptions{
				prompt:        args[0],
				agentID:       agentID,
				role:          role,
				task:          task,
				maxIterations: maxIterations,
			})
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "cli", "Agent ID to run the prompt against")
	cmd.Flags().StringVar(&role, "role", "assistant", "Role recorded for a freshly spawned agent")
	cmd.Flags().BoolVar(&task, "task", false, "Drive a run_task reason/act loop instead of a single turn")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 10, "Ceiling on run_task's reason/act loop")

	return cmd
}

type runOptions struct {
	prompt        string
	agentID       string
	role          string
	task          bool
	maxIterations int
}

func runRun(ctx context.Context, opts runOptions) error {
	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	if _, err := rt.conv.CreateAgentConversation(ctx, opts.agentID, opts.role); err != nil {
		return fmt.Errorf("corerun: creating agent conversation: %w", err)
	}
	drainEvents(rt.emitter)

	if opts.task {
		result, err := rt.engine.RunTask(ctx, opts.prompt, engine.TaskOptions{
			AgentID:       opts.agentID,
			AgentRole:     opts.role,
			MaxIterations: opts.maxIterations,
		})
		if err != nil {
			return fmt.Errorf("corerun: run_task: %w", err)
		}
		fmt.Printf("status: %s\niterations: %d\nexecution_time: %s\nresponse:\n%s\n",
			result.Status, result.Iterations, result.ExecutionTime, result.AssistantResponse)
		return nil
	}

	result, err := rt.engine.RunSingleTurn(ctx, opts.prompt, engine.TurnOptions{AgentID: opts.agentID})
	if err != nil {
		return fmt.Errorf("corerun: run_single_turn: %w", err)
	}
	fmt.Printf("response:\n%s\n", result.AssistantResponse)
	for _, ar := range result.ActionResults {
		fmt.Printf("action %s -> ok=%v\n", ar.Action.Name, ar.Result.OK)
	}
	return nil
}

// drainEvents starts a goroutine that prints emitted events to stdout as they arrive, for
// visibility into stream_chunk/status/tool_invocation traffic during a run. The subscription is
// never cancelled, so the goroutine runs until the process exits.
func drainEvents(emitter interface{ Subscribe(int) (<-chan models.Event, func()) }) {
	ch, _ := emitter.Subscribe(64)
	go func() {
		for evt := range ch {
			fmt.Printf("[%s] %s agent=%s\n", evt.Time.Format(time.RFC3339), evt.Type, evt.AgentID)
		}
	}()
}
