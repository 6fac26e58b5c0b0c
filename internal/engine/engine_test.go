package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fenwick-ai/corerun/internal/checkpoint"
	"github.com/fenwick-ai/corerun/internal/conversation"
	"github.com/fenwick-ai/corerun/internal/dispatcher"
	"github.com/fenwick-ai/corerun/internal/gateway"
	"github.com/fenwick-ai/corerun/internal/sessionstore"
	"github.com/fenwick-ai/corerun/pkg/models"
)

func newTestEngine(t *testing.T, gw gateway.Gateway) (*Engine, *conversation.Manager) {
	t.Helper()
	store := sessionstore.NewMemoryStore()
	cm := checkpoint.New(store, checkpoint.NewMemoryBackend())
	t.Cleanup(cm.Close)

	conv := conversation.New(store, cm, 32000)
	disp := dispatcher.New()
	_ = disp.Register(models.ToolDescriptor{Name: "search"}, func(ctx context.Context, input json.RawMessage) (*models.ToolExecResult, error) {
		return &models.ToolExecResult{OK: true, Value: json.RawMessage(`"result: ok"`)}, nil
	})

	eng := New(conv, gw, disp)
	return eng, conv
}

func TestRunSingleTurnAppendsAssistantMessageAndDispatchesAction(t *testing.T) {
	ctx := context.Background()
	gw := &gateway.Mock{Script: []gateway.ScriptedChunk{
		{Chunk: gateway.Chunk{Text: "Looking it up. <search>weather</search>"}},
	}, FinishReason: gateway.FinishStop}

	eng, conv := newTestEngine(t, gw)
	if _, err := conv.CreateAgentConversation(ctx, "agent-1", "worker"); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	result, err := eng.RunSingleTurn(ctx, "what's the weather", TurnOptions{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("run single turn: %v", err)
	}
	if len(result.ActionResults) != 1 || result.ActionResults[0].Action.Name != models.ActionSearch {
		t.Fatalf("expected one search action, got %+v", result.ActionResults)
	}

	msgs, err := conv.FormatForGateway(ctx, "agent-1")
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	foundAssistant := false
	for _, m := range msgs {
		if m.Role == models.RoleAssistant {
			foundAssistant = true
		}
	}
	if !foundAssistant {
		t.Fatalf("expected an appended assistant message, got %+v", msgs)
	}
}

func TestRunTaskDispatchesToolAndAppendsResult(t *testing.T) {
	ctx := context.Background()
	gw := &gateway.Mock{Script: []gateway.ScriptedChunk{
		{Chunk: gateway.Chunk{Text: "<search>weather</search>"}},
	}, FinishReason: gateway.FinishStop}

	eng, conv := newTestEngine(t, gw)
	conv.CreateAgentConversation(ctx, "agent-1", "worker")

	result, err := eng.RunTask(ctx, "find the weather", TaskOptions{
		AgentID:           "agent-1",
		MaxIterations:     1,
		CompletionPhrases: []string{"TASK_COMPLETE"},
	})
	if err != nil {
		t.Fatalf("run task: %v", err)
	}
	if result.Status != TaskMaxIter {
		t.Fatalf("expected max_iterations status at 1 iteration with a dispatched action, got %s", result.Status)
	}

	msgs, _ := conv.FormatForGateway(ctx, "agent-1")
	sawToolResult := false
	for _, m := range msgs {
		if m.Category == models.CategoryToolResult {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatalf("expected a TOOL_RESULT message appended after dispatch, got %+v", msgs)
	}
}

func TestRunTaskStopsOnCompletionPhrase(t *testing.T) {
	ctx := context.Background()
	gw := &gateway.Mock{Script: []gateway.ScriptedChunk{
		{Chunk: gateway.Chunk{Text: "All done. TASK_COMPLETE"}},
	}, FinishReason: gateway.FinishStop}

	eng, conv := newTestEngine(t, gw)
	conv.CreateAgentConversation(ctx, "agent-1", "worker")

	result, err := eng.RunTask(ctx, "do the thing", TaskOptions{
		AgentID:           "agent-1",
		MaxIterations:     10,
		CompletionPhrases: []string{"TASK_COMPLETE"},
	})
	if err != nil {
		t.Fatalf("run task: %v", err)
	}
	if result.Status != TaskCompleted || result.Iterations != 1 {
		t.Fatalf("expected completion on first iteration, got %+v", result)
	}
}

func TestRunTaskStopsWhenNoActionsRequested(t *testing.T) {
	ctx := context.Background()
	gw := &gateway.Mock{Script: []gateway.ScriptedChunk{
		{Chunk: gateway.Chunk{Text: "just a plain reply, nothing to do"}},
	}, FinishReason: gateway.FinishStop}

	eng, conv := newTestEngine(t, gw)
	conv.CreateAgentConversation(ctx, "agent-1", "worker")

	result, err := eng.RunTask(ctx, "chat", TaskOptions{AgentID: "agent-1", MaxIterations: 10})
	if err != nil {
		t.Fatalf("run task: %v", err)
	}
	if result.Status != TaskCompleted {
		t.Fatalf("expected completion when no actions are parsed, got %+v", result)
	}
}

func TestRunTaskCancellation(t *testing.T) {
	gw := &gateway.Mock{Script: []gateway.ScriptedChunk{
		{Chunk: gateway.Chunk{Text: "<search>weather</search>"}},
	}, FinishReason: gateway.FinishStop}

	eng, conv := newTestEngine(t, gw)
	ctx, cancel := context.WithCancel(context.Background())
	conv.CreateAgentConversation(ctx, "agent-1", "worker")
	cancel()

	result, err := eng.RunTask(ctx, "find the weather", TaskOptions{AgentID: "agent-1", MaxIterations: 10})
	if err != nil {
		t.Fatalf("run task: %v", err)
	}
	if result.Status != TaskCancelled {
		t.Fatalf("expected cancellation on a pre-cancelled context, got %s", result.Status)
	}
}

func TestRunSingleTurnSurfacesTruncationNote(t *testing.T) {
	ctx := context.Background()
	gw := &gateway.Mock{Script: []gateway.ScriptedChunk{
		{Chunk: gateway.Chunk{Text: "partial response cut off"}},
	}, FinishReason: gateway.FinishLength}

	eng, conv := newTestEngine(t, gw)
	conv.CreateAgentConversation(ctx, "agent-1", "worker")

	result, err := eng.RunSingleTurn(ctx, "hello", TurnOptions{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("run single turn: %v", err)
	}
	if result.FinishReason != gateway.FinishLength {
		t.Fatalf("expected FinishLength, got %s", result.FinishReason)
	}
	if !contains(result.AssistantResponse, "truncated") {
		t.Fatalf("expected a truncation note appended, got %q", result.AssistantResponse)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
