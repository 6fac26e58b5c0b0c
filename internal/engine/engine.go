// Package engine implements the Engine: orchestration of a single turn or a
// reason/act task loop, bridging the Conversation Manager, LLM Gateway, and Tool Dispatcher.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fenwick-ai/corerun/internal/actions"
	"github.com/fenwick-ai/corerun/internal/conversation"
	"github.com/fenwick-ai/corerun/internal/dispatcher"
	"github.com/fenwick-ai/corerun/internal/events"
	"github.com/fenwick-ai/corerun/internal/gateway"
	"github.com/fenwick-ai/corerun/internal/observability"
	"github.com/fenwick-ai/corerun/pkg/models"
)

// DefaultToolDeadline bounds a single action dispatch within run_task's reason/act loop.
const DefaultToolDeadline = 60 * time.Second

// TurnOptions configures run_single_turn.
type TurnOptions struct {
	AgentID        string
	ImageRef       string
	Model          string
	Tools          []models.ToolDescriptor
	StreamCallback func(chunk, channel string)
}

// TurnResult is run_single_turn's outcome.
type TurnResult struct {
	AssistantResponse string
	ActionResults     []ActionResult
	Usage             gateway.Usage
	FinishReason      gateway.FinishReason
}

// ActionResult pairs a parsed action with its dispatched outcome.
type ActionResult struct {
	Action models.Action
	Result *models.ToolExecResult
}

// TaskOptions configures run_task's reason/act loop.
type TaskOptions struct {
	AgentID           string
	AgentRole         string
	MaxIterations     int
	CompletionPhrases []string
	ToolDeadline      time.Duration
	Tools             []models.ToolDescriptor
	MessageCallback   func(msg *models.Message)
}

// TaskStatus is run_task's terminal state.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskMaxIter   TaskStatus = "max_iterations"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskResult is run_task's outcome.
type TaskResult struct {
	Status            TaskStatus
	AssistantResponse string
	Iterations        int
	ExecutionTime     time.Duration
}

// Engine orchestrates turns against one Conversation Manager, one Gateway, and one Dispatcher.
type Engine struct {
	conv    *conversation.Manager
	gw      gateway.Gateway
	disp    *dispatcher.Dispatcher
	parser  *actions.Parser
	sink    events.Sink
	tracer  trace.Tracer
	metrics *observability.Metrics

	interruptOnAction   bool
	interruptOnToolCall bool
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithEventSink installs the sink the Engine emits `message`, `stream_chunk`, `status`, and
// `error` events through.
func WithEventSink(sink events.Sink) Option { return func(e *Engine) { e.sink = sink } }

// WithInterruptOnAction controls whether the gateway stream is interrupted as soon as the
// accumulated assistant text contains a complete action tag.
func WithInterruptOnAction(v bool) Option { return func(e *Engine) { e.interruptOnAction = v } }

// WithInterruptOnToolCall controls whether the stream is interrupted as soon as a tool-call
// delta arrives.
func WithInterruptOnToolCall(v bool) Option { return func(e *Engine) { e.interruptOnToolCall = v } }

// WithMetrics installs the Prometheus collectors run_single_turn and run_task report against.
// Metrics registration is the caller's responsibility (see observability.NewMetrics); a nil
// Metrics, the default, disables instrumentation entirely.
func WithMetrics(m *observability.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New creates an Engine. Interrupt-on-action and interrupt-on-tool-call both default to true.
// Spans are always emitted through
// observability.Tracer("corerun/engine"), the global OTel tracer name for this package; with no
// provider installed they simply go nowhere.
func New(conv *conversation.Manager, gw gateway.Gateway, disp *dispatcher.Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		conv:                conv,
		gw:                  gw,
		disp:                disp,
		parser:              actions.New(),
		tracer:              observability.Tracer("corerun/engine"),
		interruptOnAction:   true,
		interruptOnToolCall: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunSingleTurn prepares the user input, streams one gateway call, appends the resulting
// assistant message, dispatches every parsed action, and returns without looping further.
func (e *Engine) RunSingleTurn(ctx context.Context, prompt string, opts TurnOptions) (*TurnResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.run_single_turn", trace.WithAttributes(
		attribute.String("agent_id", opts.AgentID),
	))
	defer span.End()

	result, err := e.runSingleTurn(ctx, prompt, opts)
	status := "ok"
	if err != nil {
		status = "error"
		observability.RecordError(span, err)
	}
	e.metrics.ObserveTurn("single_turn", status, time.Since(start))
	return result, err
}

func (e *Engine) runSingleTurn(ctx context.Context, prompt string, opts TurnOptions) (*TurnResult, error) {
	if _, err := e.conv.Prepare(ctx, opts.AgentID, prompt, opts.ImageRef); err != nil {
		return nil, err
	}
	result, err := e.step(ctx, opts.AgentID, opts.Model, opts.Tools, opts.StreamCallback)
	if err != nil {
		return nil, err
	}
	if len(result.ActionResults) > 0 {
		if err := e.appendToolResults(ctx, opts.AgentID, result.ActionResults, DefaultToolDeadline); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// RunTask runs the reason/act loop: prepare → stream → append assistant
// message → parse + dispatch actions → loop until max_iterations, a completion phrase, or
// cancellation.
func (e *Engine) RunTask(ctx context.Context, prompt string, opts TaskOptions) (*TaskResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.run_task", trace.WithAttributes(
		attribute.String("agent_id", opts.AgentID),
		attribute.Int("max_iterations", opts.MaxIterations),
	))
	defer span.End()

	result, err := e.runTask(ctx, prompt, opts)
	status := "ok"
	if err != nil {
		status = "error"
		observability.RecordError(span, err)
	} else {
		status = string(result.Status)
		span.SetAttributes(attribute.Int("iterations", result.Iterations))
	}
	e.metrics.ObserveTurn("task", status, time.Since(start))
	return result, err
}

func (e *Engine) runTask(ctx context.Context, prompt string, opts TaskOptions) (*TaskResult, error) {
	start := time.Now()
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 25
	}
	deadline := opts.ToolDeadline
	if deadline <= 0 {
		deadline = DefaultToolDeadline
	}

	if _, err := e.conv.Prepare(ctx, opts.AgentID, prompt, ""); err != nil {
		return nil, err
	}

	var lastResponse string
	iterations := 0

	for iterations < maxIter {
		select {
		case <-ctx.Done():
			e.emitStatus(opts.AgentID, "cancelled", "")
			return &TaskResult{Status: TaskCancelled, AssistantResponse: lastResponse, Iterations: iterations, ExecutionTime: time.Since(start)}, nil
		default:
		}

		iterations++
		e.metrics.IncTaskIteration()
		result, err := e.step(ctx, opts.AgentID, "", opts.Tools, nil)
		if err != nil {
			return nil, err
		}
		lastResponse = result.AssistantResponse

		if opts.MessageCallback != nil {
			opts.MessageCallback(&models.Message{AgentID: opts.AgentID, Role: models.RoleAssistant, Category: models.CategoryDialog, Content: result.AssistantResponse})
		}

		if containsCompletionPhrase(result.AssistantResponse, opts.CompletionPhrases) {
			e.emitStatus(opts.AgentID, "completed", "")
			return &TaskResult{Status: TaskCompleted, AssistantResponse: lastResponse, Iterations: iterations, ExecutionTime: time.Since(start)}, nil
		}

		if len(result.ActionResults) == 0 {
			e.emitStatus(opts.AgentID, "completed", "no further actions requested")
			return &TaskResult{Status: TaskCompleted, AssistantResponse: lastResponse, Iterations: iterations, ExecutionTime: time.Since(start)}, nil
		}

		if err := e.appendToolResults(ctx, opts.AgentID, result.ActionResults, deadline); err != nil {
			return nil, err
		}
	}

	e.emitStatus(opts.AgentID, "max_iterations", fmt.Sprintf("stopped after %d iterations", iterations))
	return &TaskResult{Status: TaskMaxIter, AssistantResponse: lastResponse, Iterations: iterations, ExecutionTime: time.Since(start)}, nil
}

// step performs one gateway→append→parse pass shared by RunSingleTurn and each RunTask
// iteration. It does not prepare input or dispatch the parsed actions; its callers do both.
func (e *Engine) step(ctx context.Context, agentID, model string, tools []models.ToolDescriptor, streamCB func(chunk, channel string)) (*TurnResult, error) {
	messages, err := e.conv.FormatForGateway(ctx, agentID)
	if err != nil {
		return nil, err
	}

	flat := make([]models.Message, len(messages))
	for i, m := range messages {
		flat[i] = *m
	}

	var assistantText strings.Builder
	var toolCalls []models.ToolCall

	chatOpts := gateway.ChatOptions{
		Model: model,
		Tools: tools,
		OnChunk: func(c gateway.Chunk) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if c.Text != "" {
				assistantText.WriteString(c.Text)
				e.emitStreamChunk(agentID, c.Text, "assistant", false)
				if streamCB != nil {
					streamCB(c.Text, "assistant")
				}
			}
			if c.Reasoning != "" {
				e.emitStreamChunk(agentID, c.Reasoning, "reasoning", false)
				if streamCB != nil {
					streamCB(c.Reasoning, "reasoning")
				}
			}
			toolCalls = append(toolCalls, c.ToolCalls...)
			return nil
		},
	}
	if e.interruptOnAction {
		chatOpts.InterruptOnAction = e.parser.ContainsCompleteAction
	}
	chatOpts.InterruptOnToolCall = e.interruptOnToolCall

	gwCtx, gwSpan := e.tracer.Start(ctx, "engine.gateway_chat", trace.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("model", model),
	))
	result, err := e.gw.Chat(gwCtx, flat, chatOpts)
	if err != nil {
		observability.RecordError(gwSpan, err)
		gwSpan.End()
		return nil, fmt.Errorf("engine: gateway chat: %w", err)
	}
	gwSpan.End()
	e.emitStreamChunk(agentID, "", "assistant", true)

	text := e.parser.StripIncompleteTags(assistantText.String())
	if result.FinishReason == gateway.FinishLength {
		text += "\n\n[Note: response was truncated due to length limits]"
	}

	metadata := map[string]any{}
	if result.FinishReason == gateway.FinishError && result.Err != nil {
		metadata["partial"] = text != ""
		e.emitError(agentID, "GatewayError", result.Err)
	}

	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Category:  models.CategoryDialog,
		Content:   text,
		ToolCalls: toolCalls,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if text != "" || len(toolCalls) > 0 {
		if err := e.conv.Append(ctx, agentID, assistantMsg); err != nil {
			return nil, err
		}
	}

	actionList, _ := e.parser.Parse(text)
	var actionResults []ActionResult
	for _, act := range actionList {
		actionResults = append(actionResults, ActionResult{Action: act})
	}
	for _, tc := range toolCalls {
		actionResults = append(actionResults, ActionResult{Action: models.Action{Name: models.ActionName(tc.Name), Payload: string(tc.Input)}})
	}

	return &TurnResult{
		AssistantResponse: text,
		ActionResults:     actionResults,
		Usage:             result.Usage,
		FinishReason:      result.FinishReason,
	}, nil
}

func (e *Engine) appendToolResults(ctx context.Context, agentID string, results []ActionResult, deadline time.Duration) error {
	for i := range results {
		toolName := string(results[i].Action.Name)
		spanCtx, span := e.tracer.Start(ctx, "engine.tool_call", trace.WithAttributes(
			attribute.String("agent_id", agentID),
			attribute.String("tool_name", toolName),
		))

		runCtx, cancel := context.WithTimeout(spanCtx, deadline)
		input := map[string]any{"payload": results[i].Action.Payload}
		res := e.disp.Execute(runCtx, toolName, input)
		cancel()
		results[i].Result = res

		if !res.OK {
			span.SetAttributes(attribute.String("error", res.Error))
		}
		// Tool-call counters/histograms are recorded once, by the Dispatcher itself
		// (every Execute path, not just this one, should account for them).
		span.End()

		content := string(res.Value)
		if content == "" {
			content = res.Error
		}
		msg := &models.Message{
			ID:       uuid.NewString(),
			Role:     models.RoleTool,
			Category: models.CategoryToolResult,
			Content:  content,
			ToolResults: []models.ToolResult{{
				Content:    content,
				IsError:    !res.OK,
				TimedOut:   res.TimedOut,
				ReturnCode: res.ReturnCode,
			}},
			CreatedAt: time.Now(),
		}
		if err := e.conv.Append(ctx, agentID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) emitStreamChunk(agentID, chunk, channel string, isFinal bool) {
	if e.sink != nil {
		e.sink.Emit(events.StreamChunk(agentID, chunk, channel, isFinal))
	}
}

func (e *Engine) emitStatus(agentID, phase, detail string) {
	if e.sink != nil {
		e.sink.Emit(events.Status(agentID, phase, detail))
	}
}

func (e *Engine) emitError(agentID, kind string, err error) {
	if e.sink != nil {
		e.sink.Emit(events.Error(agentID, "", kind, err))
	}
}

func containsCompletionPhrase(text string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}
