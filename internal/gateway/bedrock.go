package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// BedrockConfig configures a Bedrock adapter.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// Bedrock is a Gateway backed by the Bedrock Converse streaming API.
type Bedrock struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewBedrock constructs a Bedrock adapter, loading AWS config from explicit static credentials
// if provided or the default credential chain otherwise.
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("gateway: bedrock: loading AWS config: %w", err)
	}

	return &Bedrock{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (b *Bedrock) Name() string { return "bedrock" }

func (b *Bedrock) model(requested string) string {
	if requested != "" {
		return requested
	}
	return b.defaultModel
}

func (b *Bedrock) Chat(ctx context.Context, messages []models.Message, opts ChatOptions) (*Result, error) {
	if err := Validate(messages); err != nil {
		return nil, err
	}

	converted, err := convertMessagesToBedrock(messages)
	if err != nil {
		return nil, fmt.Errorf("gateway: bedrock: converting messages: %w", err)
	}

	req := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(b.model(opts.Model)),
		Messages: converted,
	}
	if opts.System != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: opts.System}}
	}
	if opts.MaxTokens > 0 {
		req.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(opts.MaxTokens))}
	}
	if len(opts.Tools) > 0 {
		req.ToolConfig = convertToolsToBedrock(opts.Tools)
	}

	var stream *bedrockruntime.ConverseStreamOutput
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &Result{FinishReason: FinishError, Err: ctx.Err()}, nil
			case <-time.After(b.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = b.client.ConverseStream(ctx, req)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return &Result{FinishReason: FinishError, Err: fmt.Errorf("gateway: bedrock: max retries exceeded: %w", lastErr)}, nil
	}

	return b.consumeStream(ctx, stream, opts)
}

func (b *Bedrock) consumeStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, opts ChatOptions) (*Result, error) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentToolCall *models.ToolCall
	var toolInput strings.Builder
	var accumulated strings.Builder

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			return &Result{FinishReason: FinishError, Err: ctx.Err()}, nil
		case event, ok := <-eventChan:
			if !ok {
				if err := eventStream.Err(); err != nil {
					return &Result{FinishReason: FinishError, Err: err}, nil
				}
				return &Result{FinishReason: FinishStop}, nil
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						accumulated.WriteString(delta.Value)
						if opts.OnChunk != nil {
							if err := opts.OnChunk(Chunk{Text: delta.Value}); err != nil {
								return &Result{FinishReason: FinishError, Err: err}, nil
							}
						}
						if opts.InterruptOnAction != nil && opts.InterruptOnAction(accumulated.String()) {
							return &Result{FinishReason: FinishStop, Interrupted: true}, nil
						}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil && currentToolCall.ID != "" {
					currentToolCall.Input = json.RawMessage(toolInput.String())
					call := *currentToolCall
					currentToolCall = nil
					if opts.OnChunk != nil {
						if err := opts.OnChunk(Chunk{ToolCalls: []models.ToolCall{call}}); err != nil {
							return &Result{FinishReason: FinishError, Err: err}, nil
						}
					}
					if opts.InterruptOnToolCall {
						return &Result{FinishReason: FinishToolCall, Interrupted: true}, nil
					}
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				return &Result{FinishReason: FinishStop}, nil
			}
		}
	}
}

func convertMessagesToBedrock(messages []models.Message) ([]types.Message, error) {
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		var blocks []types.ContentBlock
		if msg.Content != "" {
			blocks = append(blocks, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tr := range msg.ToolResults {
			status := types.ToolResultStatusSuccess
			if tr.IsError {
				status = types.ToolResultStatusError
			}
			blocks = append(blocks, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Content}},
					Status:    status,
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("tool call %s: %w", tc.ID, err)
				}
			}
			blocks = append(blocks, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{ToolUseId: aws.String(tc.ID), Name: aws.String(tc.Name), Input: document.NewLazyDocument(input)},
			})
		}
		if len(blocks) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out, nil
}

func convertToolsToBedrock(tools []models.ToolDescriptor) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}
