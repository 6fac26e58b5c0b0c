package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// AnthropicConfig configures an Anthropic adapter.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Anthropic is a Gateway backed by Claude models via anthropic-sdk-go. Chunk emission goes
// through opts.OnChunk with interrupt checks after every text delta, rather than an
// unconditionally-drained channel.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropic constructs an Anthropic adapter. APIKey is required; all other fields take
// sensible defaults (model, retry count, retry delay) when left zero.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gateway: anthropic requires an API key")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) model(requested string) string {
	if requested != "" {
		return requested
	}
	return a.defaultModel
}

func (a *Anthropic) Chat(ctx context.Context, messages []models.Message, opts ChatOptions) (*Result, error) {
	if err := Validate(messages); err != nil {
		return nil, err
	}

	converted, err := convertMessagesToAnthropic(messages)
	if err != nil {
		return nil, fmt.Errorf("gateway: anthropic: converting messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model(opts.Model)),
		Messages:  converted,
		MaxTokens: int64(maxTokensOrDefault(opts.MaxTokens)),
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: opts.System}}
	}
	if len(opts.Tools) > 0 {
		tools, err := convertToolsToAnthropic(opts.Tools)
		if err != nil {
			return nil, fmt.Errorf("gateway: anthropic: converting tools: %w", err)
		}
		params.Tools = tools
	}
	if opts.EnableReasoning {
		budget := int64(opts.ReasoningBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &Result{FinishReason: FinishError, Err: ctx.Err()}, nil
			case <-time.After(a.retryDelay * time.Duration(attempt)):
			}
		}

		stream := a.client.Messages.NewStreaming(ctx, params)
		result, retryable, err := a.consumeStream(stream, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return &Result{FinishReason: FinishError, Err: err}, nil
		}
	}
	return &Result{FinishReason: FinishError, Err: fmt.Errorf("gateway: anthropic: max retries exceeded: %w", lastErr)}, nil
}

// consumeStream drains one Anthropic SSE stream, invoking opts.OnChunk per delta and honoring
// InterruptOnAction/InterruptOnToolCall. The bool return indicates whether the caller should
// retry (transport-level stream error) versus surface the error as terminal.
func (a *Anthropic) consumeStream(stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, opts ChatOptions) (*Result, bool, error) {
	var accumulated strings.Builder
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				if opts.OnChunk != nil {
					if err := opts.OnChunk(Chunk{ReasoningStart: true}); err != nil {
						return nil, false, err
					}
				}
			case "tool_use":
				tu := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: tu.ID, Name: tu.Name}
				currentToolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					continue
				}
				accumulated.WriteString(delta.Text)
				if opts.OnChunk != nil {
					if err := opts.OnChunk(Chunk{Text: delta.Text}); err != nil {
						return nil, false, err
					}
				}
				if opts.InterruptOnAction != nil && opts.InterruptOnAction(accumulated.String()) {
					return &Result{FinishReason: FinishStop, Interrupted: true, Usage: Usage{InputTokens: inputTokens, OutputTokens: outputTokens}}, false, nil
				}
			case "thinking_delta":
				if delta.Thinking != "" && opts.OnChunk != nil {
					if err := opts.OnChunk(Chunk{Reasoning: delta.Thinking}); err != nil {
						return nil, false, err
					}
				}
			case "input_json_delta":
				currentToolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				call := *currentToolCall
				currentToolCall = nil
				if opts.OnChunk != nil {
					if err := opts.OnChunk(Chunk{ToolCalls: []models.ToolCall{call}}); err != nil {
						return nil, false, err
					}
				}
				if opts.InterruptOnToolCall {
					return &Result{FinishReason: FinishToolCall, Interrupted: true, Usage: Usage{InputTokens: inputTokens, OutputTokens: outputTokens}}, false, nil
				}
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			return &Result{FinishReason: FinishStop, Usage: Usage{InputTokens: inputTokens, OutputTokens: outputTokens}}, false, nil

		case "error":
			return nil, true, fmt.Errorf("gateway: anthropic: stream error")
		}
	}

	if err := stream.Err(); err != nil {
		return nil, true, err
	}
	return &Result{FinishReason: FinishStop, Usage: Usage{InputTokens: inputTokens, OutputTokens: outputTokens}}, false, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func convertMessagesToAnthropic(messages []models.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("tool call %s: %w", tc.ID, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertToolsToAnthropic(tools []models.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema map[string]any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: %w", t.Name, err)
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
				},
			},
		})
	}
	return out, nil
}
