// Package gateway implements the LLM Gateway contract: a provider-agnostic
// streaming chat interface with an optional reasoning channel, tool-call requests, and
// mid-stream interrupt semantics for action tags and tool-call deltas.
//
// Every adapter (anthropic.go, openai.go, bedrock.go) implements Gateway against its SDK's
// native streaming shape and funnels chunks through the same Chunk/Result types, so the Engine
// never branches on provider.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// ErrNoMessages is returned when Chat is called with an empty message slice.
var ErrNoMessages = errors.New("gateway: at least one message is required")

// FinishReason explains why a Chat call stopped producing chunks.
type FinishReason string

const (
	FinishStop     FinishReason = "stop"
	FinishLength   FinishReason = "length"
	FinishToolCall FinishReason = "tool_call"
	FinishError    FinishReason = "error"
)

// Usage reports token accounting for a completed Chat call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chunk is one unit of streamed output. Exactly one of Text/Reasoning is normally non-empty on
// a given chunk, except the final chunk, which may carry only Usage/FinishReason/ToolCalls.
type Chunk struct {
	// Text is partial assistant-visible response text.
	Text string
	// Reasoning is partial extended-thinking/reasoning text, delivered on a separate channel
	// from Text so a caller that does not want to render it by default can simply ignore it.
	Reasoning string
	// ReasoningStart/ReasoningEnd bracket a contiguous reasoning block, mirroring the
	// thinking_start/thinking_end signals provider SDKs emit.
	ReasoningStart bool
	ReasoningEnd   bool
	// ToolCalls carries complete tool-call requests. A provider may emit several in one chunk
	// (parallel tool calls) or none.
	ToolCalls []models.ToolCall
}

// Result is the outcome of a fully-drained Chat call.
type Result struct {
	FinishReason FinishReason
	Usage        Usage
	// Interrupted is true if streaming stopped early because of a complete action tag or a
	// tool-call delta rather than the provider's own end-of-turn signal.
	Interrupted bool
	// Err is set when FinishReason is FinishError.
	Err error
}

// ChatOptions configures one Chat call.
type ChatOptions struct {
	Model                string
	System               string
	Tools                []models.ToolDescriptor
	MaxTokens            int
	EnableReasoning      bool
	ReasoningBudgetTokens int

	// InterruptOnAction, when set, is consulted after every accumulated-text chunk; if it
	// returns true the stream is cancelled and Result.Interrupted is true. The Engine wires
	// this to internal/actions.Parser.ContainsCompleteAction.
	InterruptOnAction func(accumulatedText string) bool

	// InterruptOnToolCall stops the stream as soon as any tool call chunk arrives. Defaults to
	// true in practice; callers that want to collect several parallel tool calls before
	// interrupting should set it false.
	InterruptOnToolCall bool

	// OnChunk is invoked synchronously for every chunk before Chat returns control to the
	// caller's own loop; returning an error aborts the stream early with that error as
	// Result.Err (FinishError).
	OnChunk func(Chunk) error
}

// Gateway is the provider-agnostic streaming chat contract.
type Gateway interface {
	// Name identifies the provider ("anthropic", "openai", "bedrock", "mock").
	Name() string
	// Chat streams a completion for messages, invoking opts.OnChunk per chunk and returning
	// once the stream ends, is interrupted, or fails.
	Chat(ctx context.Context, messages []models.Message, opts ChatOptions) (*Result, error)
}

// Validate checks the invariants Chat implementations may assume already hold.
func Validate(messages []models.Message) error {
	if len(messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// InterruptedError wraps the reason a stream was stopped early, for adapters that need to
// distinguish a caller-requested interrupt from a transport failure when building Result.
type InterruptedError struct {
	Reason string
}

func (e *InterruptedError) Error() string { return fmt.Sprintf("gateway: interrupted (%s)", e.Reason) }

// streamError formats a mid-stream provider error, appended to whatever text had already
// streamed so the partial response is never silently discarded.
func streamError(accumulated, provider string, err error) string {
	return fmt.Sprintf("%s\n\n[Error: Stream interrupted by %s: %s]", accumulated, provider, err.Error())
}
