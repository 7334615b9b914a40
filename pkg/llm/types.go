package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one role-tagged conversation entry.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a structured tool invocation reported on the response envelope.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec describes a tool for backends that accept structured tool schemas.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is what callers hand to the client.
type Request struct {
	Messages []Message
	Tools    []ToolSpec
	Stream   bool
}

// Response is one successful backend reply.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     TokenUsage
	Provider  string
	Endpoint  string
	Raw       interface{}
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Sampling holds the fixed sampling parameters sent with every request.
type Sampling struct {
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
}

// CallRequest is what the client hands to a backend for one attempt.
type CallRequest struct {
	Sampling
	Messages []Message
	Tools    []ToolSpec
	// OnDelta is set for streaming calls.
	OnDelta func(delta string)
}

// Backend is a chat-completion endpoint.
type Backend interface {
	// Call makes a single API call without retrying.
	Call(ctx context.Context, request CallRequest) (*Response, error)

	// Provider returns the provider name.
	Provider() string
}

// BackendFactory creates a backend for an endpoint.
type BackendFactory interface {
	NewBackend(endpoint Endpoint) (Backend, error)
}

// Decoder validates reply text. A decoder error makes the client re-query.
type Decoder func(text string) error

// ContentSender receives reply text as it arrives.
type ContentSender interface {
	Send(content string)
}

// ContentSenderFunc adapts a function to ContentSender.
type ContentSenderFunc func(content string)

// Send calls f.
func (f ContentSenderFunc) Send(content string) { f(content) }

// Sleeper waits between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Config holds client configuration.
type Config struct {
	Sampling

	// Endpoints is the pool to pick from; one is chosen per attempt.
	Endpoints []Endpoint
	// Default is used when Endpoints is empty.
	Default Endpoint

	MaxAttempts       int
	RetryBudget       int
	BudgetGrowthAfter int
	ServerErrorReset  int
	BackoffStep       time.Duration
	MinBackoff        time.Duration
	MaxBackoff        time.Duration

	Factory BackendFactory
	Sleeper Sleeper
	// Pick returns an index in [0, n). Defaults to uniform random.
	Pick   func(n int) int
	Logger zerolog.Logger
}

// DefaultConfig returns the retry policy and sampling defaults.
func DefaultConfig() Config {
	return Config{
		Sampling: Sampling{
			Model:            "DeepSeek-V3.1-Terminus",
			MaxTokens:        8000,
			Temperature:      0.3,
			TopP:             0.97,
			FrequencyPenalty: 0,
		},
		MaxAttempts:       100,
		RetryBudget:       10,
		BudgetGrowthAfter: 7,
		ServerErrorReset:  5,
		BackoffStep:       5 * time.Second,
		MinBackoff:        3 * time.Second,
		MaxBackoff:        120 * time.Second,
		Logger:            zerolog.Nop(),
	}
}
