package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend talks to any OpenAI-compatible chat-completion endpoint.
type OpenAIBackend struct {
	client openai.Client
}

// NewOpenAIBackend creates a backend for the endpoint. The SDK's own
// retries are disabled; the Client owns the retry policy.
func NewOpenAIBackend(endpoint Endpoint, timeout time.Duration) *OpenAIBackend {
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
	return &OpenAIBackend{client: openai.NewClient(opts...)}
}

// Provider returns the provider name
func (b *OpenAIBackend) Provider() string {
	return "openai"
}

// Call makes an API call to the endpoint
func (b *OpenAIBackend) Call(ctx context.Context, request CallRequest) (*Response, error) {
	params := openAIParams(request)

	if request.OnDelta != nil {
		return b.stream(ctx, params, request.OnDelta)
	}

	completion, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	return fromOpenAICompletion(completion)
}

// openAIParams builds the completion request. Temperature is always sent so
// a configured 0 reaches the model.
func openAIParams(request CallRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: toOpenAIMessages(request.Messages),
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	params.Temperature = openai.Float(request.Temperature)
	if request.TopP > 0 {
		params.TopP = openai.Float(request.TopP)
	}
	if request.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(request.FrequencyPenalty)
	}

	if len(request.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(request.Tools))
		for _, tool := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
	}
	return params
}

func (b *OpenAIBackend) stream(ctx context.Context, params openai.ChatCompletionNewParams, onDelta func(string)) (*Response, error) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := b.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			delta := chunk.Choices[0].Delta.Content
			text.WriteString(delta)
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	resp, err := fromOpenAICompletion(&acc.ChatCompletion)
	if err != nil {
		return nil, err
	}
	if resp.Text == "" {
		resp.Text = text.String()
	}
	return resp, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
				for _, tc := range msg.ToolCalls {
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					})
				}
				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				out = append(out, assistantMsg.ToParam())
			} else {
				out = append(out, openai.AssistantMessage(msg.Content))
			}
		case RoleTool:
			// Observations from text-format actions have no call id to answer.
			if msg.ToolCallID == "" {
				out = append(out, openai.UserMessage(msg.Content))
			} else {
				out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
			}
		}
	}
	return out
}

func fromOpenAICompletion(completion *openai.ChatCompletion) (*Response, error) {
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned: %w", ErrEmptyReply)
	}

	choice := completion.Choices[0]
	toolCalls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return &Response{
		Text:      choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
		},
		Raw: completion,
	}, nil
}
