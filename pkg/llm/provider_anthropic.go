package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend implements Backend for Anthropic Claude
type AnthropicBackend struct {
	client anthropic.Client
}

// NewAnthropicBackend creates a backend for the endpoint.
func NewAnthropicBackend(endpoint Endpoint, timeout time.Duration) *AnthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(endpoint.APIKey),
		option.WithMaxRetries(0),
	}
	if endpoint.APIBase != "" {
		opts = append(opts, option.WithBaseURL(endpoint.APIBase))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &AnthropicBackend{client: anthropic.NewClient(opts...)}
}

// Provider returns the provider name
func (b *AnthropicBackend) Provider() string {
	return "anthropic"
}

// Call makes an API call to Anthropic Claude
func (b *AnthropicBackend) Call(ctx context.Context, request CallRequest) (*Response, error) {
	params := anthropicParams(request)

	if request.OnDelta != nil {
		return b.stream(ctx, params, request.OnDelta)
	}

	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}
	return fromAnthropicMessage(message), nil
}

// anthropicParams splits system messages out of the transcript and builds
// the request. Temperature is always sent so a configured 0 reaches the model.
func anthropicParams(request CallRequest) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	messages := []anthropic.MessageParam{}

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleSystem:
			// Seed messages (prompt, environment, tool prompt) become system blocks.
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case RoleTool:
			if msg.ToolCallID == "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			} else {
				messages = append(messages, anthropic.NewUserMessage(
					anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
				))
			}
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]interface{}
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(request.MaxTokens),
	}
	if len(system) > 0 {
		params.System = system
	}
	params.Temperature = anthropic.Float(request.Temperature)
	if request.TopP > 0 {
		params.TopP = anthropic.Float(request.TopP)
	}

	if len(request.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(request.Tools))
		for _, tool := range request.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			}
			if required, ok := tool.Parameters["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}
	return params
}

func (b *AnthropicBackend) stream(ctx context.Context, params anthropic.MessageNewParams, onDelta func(string)) (*Response, error) {
	stream := b.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, err
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return fromAnthropicMessage(&message), nil
}

func fromAnthropicMessage(message *anthropic.Message) *Response {
	var text strings.Builder
	toolCalls := []ToolCall{}

	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: b.JSON.Input.Raw(),
			})
		}
	}

	return &Response{
		Text:      text.String(),
		ToolCalls: toolCalls,
		Usage: TokenUsage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		},
		Raw: message,
	}
}
