package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// OpenAIConfig configures an OpenAI adapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAI is a Gateway backed by sashabaranov/go-openai.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenAI constructs an OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gateway: openai requires an API key")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) model(requested string) string {
	if requested != "" {
		return requested
	}
	return o.defaultModel
}

func (o *OpenAI) Chat(ctx context.Context, messages []models.Message, opts ChatOptions) (*Result, error) {
	if err := Validate(messages); err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model(opts.Model),
		Messages: convertMessagesToOpenAI(messages, opts.System),
		Stream:   true,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if len(opts.Tools) > 0 {
		req.Tools = convertToolsToOpenAI(opts.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &Result{FinishReason: FinishError, Err: ctx.Err()}, nil
			case <-time.After(o.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = o.client.CreateChatCompletionStream(ctx, req)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return &Result{FinishReason: FinishError, Err: fmt.Errorf("gateway: openai: max retries exceeded: %w", lastErr)}, nil
	}
	defer stream.Close()

	return o.consumeStream(stream, opts)
}

func (o *OpenAI) consumeStream(stream *openai.ChatCompletionStream, opts ChatOptions) (*Result, error) {
	toolCalls := make(map[int]*models.ToolCall)
	var accumulated strings.Builder
	var outputTokens int

	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return o.flushToolCalls(toolCalls, opts, Usage{OutputTokens: outputTokens})
			}
			return &Result{FinishReason: FinishError, Err: err}, nil
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			accumulated.WriteString(delta.Content)
			if opts.OnChunk != nil {
				if err := opts.OnChunk(Chunk{Text: delta.Content}); err != nil {
					return &Result{FinishReason: FinishError, Err: err}, nil
				}
			}
			if opts.InterruptOnAction != nil && opts.InterruptOnAction(accumulated.String()) {
				return &Result{FinishReason: FinishStop, Interrupted: true}, nil
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = json.RawMessage(string(toolCalls[index].Input) + tc.Function.Arguments)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			return o.flushToolCalls(toolCalls, opts, Usage{OutputTokens: outputTokens})
		}
	}
}

func (o *OpenAI) flushToolCalls(toolCalls map[int]*models.ToolCall, opts ChatOptions, usage Usage) (*Result, error) {
	var complete []models.ToolCall
	for _, tc := range toolCalls {
		if tc.ID != "" && tc.Name != "" {
			complete = append(complete, *tc)
		}
	}
	if len(complete) == 0 {
		return &Result{FinishReason: FinishStop, Usage: usage}, nil
	}
	if opts.OnChunk != nil {
		if err := opts.OnChunk(Chunk{ToolCalls: complete}); err != nil {
			return &Result{FinishReason: FinishError, Err: err}, nil
		}
	}
	if opts.InterruptOnToolCall {
		return &Result{FinishReason: FinishToolCall, Interrupted: true, Usage: usage}, nil
	}
	return &Result{FinishReason: FinishToolCall, Usage: usage}, nil
}

func convertMessagesToOpenAI(messages []models.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		oaiMsg := openai.ChatCompletionMessage{Role: role, Content: msg.Content}
		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}
		out = append(out, oaiMsg)
		for _, tr := range msg.ToolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
	}
	return out
}

func convertToolsToOpenAI(tools []models.ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.InputSchema),
			},
		}
	}
	return out
}
