package gateway

import (
	"context"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// ScriptedChunk is one pre-programmed chunk a Mock gateway emits in sequence.
type ScriptedChunk struct {
	Chunk
	// Delay is currently unused by Mock (kept for callers that want to extend it with timed
	// playback in a future test); present so scripts read naturally.
	Delay int
}

// Mock is a scriptable Gateway for unit tests that exercise the Engine/Conversation Manager
// without a network call. It plays back a fixed chunk sequence and honors the same interrupt
// semantics real adapters must: InterruptOnAction is checked after every text chunk,
// InterruptOnToolCall after every tool-call chunk.
type Mock struct {
	ProviderName string
	Script       []ScriptedChunk
	Usage        Usage
	FinishReason FinishReason
	// Err, if set, is returned as Result.Err with FinishReason forced to FinishError after the
	// script plays out (simulates a provider-side failure at end of stream).
	Err error
}

// NewMock creates a Mock that streams text as a single chunk, useful for the common case of a
// test that only cares about the final assembled message.
func NewMock(text string) *Mock {
	return &Mock{
		ProviderName: "mock",
		Script:       []ScriptedChunk{{Chunk: Chunk{Text: text}}},
		FinishReason: FinishStop,
	}
}

func (m *Mock) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *Mock) Chat(ctx context.Context, messages []models.Message, opts ChatOptions) (*Result, error) {
	if err := Validate(messages); err != nil {
		return nil, err
	}

	var accumulated string
	for _, sc := range m.Script {
		select {
		case <-ctx.Done():
			return &Result{FinishReason: FinishError, Err: ctx.Err()}, nil
		default:
		}

		accumulated += sc.Text
		if opts.OnChunk != nil {
			if err := opts.OnChunk(sc.Chunk); err != nil {
				return &Result{FinishReason: FinishError, Err: err}, nil
			}
		}

		if sc.Text != "" && opts.InterruptOnAction != nil && opts.InterruptOnAction(accumulated) {
			return &Result{FinishReason: FinishStop, Interrupted: true}, nil
		}
		if len(sc.ToolCalls) > 0 && opts.InterruptOnToolCall {
			return &Result{FinishReason: FinishToolCall, Interrupted: true}, nil
		}
	}

	finish := m.FinishReason
	if finish == "" {
		finish = FinishStop
	}
	if m.Err != nil {
		return &Result{FinishReason: FinishError, Usage: m.Usage, Err: m.Err}, nil
	}
	return &Result{FinishReason: finish, Usage: m.Usage}, nil
}
