package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/rs/zerolog"
)

// ErrRetriesExhausted is returned when every allowed attempt failed.
var ErrRetriesExhausted = errors.New("chat to model failed")

// TokenStats accumulates backend-reported usage over the client's lifetime.
type TokenStats struct {
	Calls            int `json:"calls"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Client sends conversations to a pool of chat endpoints and retries
// transient failures.
type Client struct {
	cfg     Config
	pool    *endpointPool
	sleeper Sleeper
	logger  zerolog.Logger

	sendersMu sync.RWMutex
	senders   []ContentSender

	statsMu sync.Mutex
	stats   TokenStats
}

// NewClient creates a client. Zero-valued policy fields take DefaultConfig values.
func NewClient(cfg Config) (*Client, error) {
	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = defaults.RetryBudget
	}
	if cfg.BudgetGrowthAfter <= 0 {
		cfg.BudgetGrowthAfter = defaults.BudgetGrowthAfter
	}
	if cfg.ServerErrorReset <= 0 {
		cfg.ServerErrorReset = defaults.ServerErrorReset
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = defaults.BackoffStep
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaults.MinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.MinBackoff > cfg.MaxBackoff {
		return nil, fmt.Errorf("min backoff %v exceeds max backoff %v", cfg.MinBackoff, cfg.MaxBackoff)
	}

	factory := cfg.Factory
	if factory == nil {
		factory = &ProviderFactory{}
	}
	sleeper := cfg.Sleeper
	if sleeper == nil {
		sleeper = timerSleeper{}
	}

	observability.EnsureRegistered()

	return &Client{
		cfg:     cfg,
		pool:    newEndpointPool(cfg.Endpoints, cfg.Default, factory, cfg.Pick),
		sleeper: sleeper,
		logger:  cfg.Logger,
	}, nil
}

// Sampling returns the sampling parameters in use.
func (c *Client) Sampling() Sampling {
	return c.cfg.Sampling
}

// WithSampling returns a client sharing this client's pool but sending
// different sampling parameters. Senders are not shared.
func (c *Client) WithSampling(s Sampling) *Client {
	clone := &Client{
		cfg:     c.cfg,
		pool:    c.pool,
		sleeper: c.sleeper,
		logger:  c.logger,
	}
	clone.cfg.Sampling = s
	return clone
}

// AddSender registers an observer for reply text.
func (c *Client) AddSender(s ContentSender) {
	c.sendersMu.Lock()
	defer c.sendersMu.Unlock()
	c.senders = append(c.senders, s)
}

// Stats returns accumulated token usage.
func (c *Client) Stats() TokenStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Backoff returns the wait before the given attempt under the given budget.
func (c *Client) Backoff(attempt, budget int) time.Duration {
	d := time.Duration(attempt%budget) * c.cfg.BackoffStep
	if d < c.cfg.MinBackoff {
		d = c.cfg.MinBackoff
	}
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	return d
}

// Chat sends the request and returns the first reply that the decoder
// accepts. A nil decoder accepts any non-empty reply.
//
// Attempts stop at MaxAttempts and at the retry budget, which grows by one
// for each rate-limit, server, connection or timeout failure seen after
// BudgetGrowthAfter attempts.
func (c *Client) Chat(ctx context.Context, req Request, decode Decoder) (*Response, error) {
	logger := tracing.LoggerFromContext(ctx, c.logger)

	budget := c.cfg.RetryBudget
	serverErrors := 0
	attempts := 0
	var last Outcome

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > budget {
			break
		}

		if attempt > 0 {
			wait := c.Backoff(attempt, budget)
			logger.Warn().
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Blocking before retrying model request")
			if err := c.sleeper.Sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("model request interrupted: %w", err)
			}
		}

		attempts++
		resp, provider, err := c.attempt(ctx, req, decode)
		out := Classify(ctx, err)
		last = out

		if out.Status == StatusSuccess {
			return resp, nil
		}

		event := logger.Warn()
		if out.Kind == KindBadRequest || out.Kind == KindContextLength {
			event = logger.Error()
		}
		event.
			Int("attempt", attempt).
			Str("provider", provider).
			Str("outcome", out.String()).
			Err(err).
			Msg("Model request failed")

		if out.Status == StatusFatal {
			return nil, fmt.Errorf("model request failed: %w", err)
		}

		if out.Kind == KindContextLength {
			logger.Error().Msg("Conversation exceeds the backend context window; retrying without truncation")
		}

		if out.ExtendsBudget() && attempt > c.cfg.BudgetGrowthAfter && budget < c.cfg.MaxAttempts-1 {
			budget++
		}

		if out.Kind == KindServer {
			serverErrors++
			if serverErrors > c.cfg.ServerErrorReset {
				logger.Warn().Int("server_errors", serverErrors).Msg("Re-acquiring backend handles")
				c.pool.reset()
				observability.RecordEndpointReset()
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, last.Err)
}

// attempt performs one backend call and validates the reply.
func (c *Client) attempt(ctx context.Context, req Request, decode Decoder) (*Response, string, error) {
	h, err := c.pool.acquire()
	if err != nil {
		return nil, "", err
	}
	provider := h.backend.Provider()

	sampling := c.cfg.Sampling
	if h.endpoint.Model != "" {
		sampling.Model = h.endpoint.Model
	}

	call := CallRequest{
		Sampling: sampling,
		Messages: req.Messages,
		Tools:    req.Tools,
	}
	if req.Stream {
		call.OnDelta = c.send
	}

	start := time.Now()
	resp, err := h.backend.Call(ctx, call)
	if err == nil {
		err = normalizeReply(resp)
	}
	if err == nil && decode != nil {
		if decodeErr := decode(resp.Text); decodeErr != nil {
			err = &DecodeError{Err: decodeErr}
		}
	}

	outcome := "success"
	if err != nil {
		outcome = string(Classify(ctx, err).Kind)
	}
	observability.RecordModelAttempt(provider, outcome, time.Since(start))

	if err != nil {
		return nil, provider, err
	}

	resp.Provider = provider
	resp.Endpoint = h.endpoint.Label()
	c.record(resp.Usage)
	if !req.Stream {
		c.send(resp.Text)
	}
	return resp, provider, nil
}

func (c *Client) send(content string) {
	if content == "" {
		return
	}
	c.sendersMu.RLock()
	defer c.sendersMu.RUnlock()
	for _, s := range c.senders {
		s.Send(content)
	}
}

func (c *Client) record(usage TokenUsage) {
	c.statsMu.Lock()
	c.stats.Calls++
	c.stats.PromptTokens += usage.PromptTokens
	c.stats.CompletionTokens += usage.CompletionTokens
	c.statsMu.Unlock()
	observability.RecordModelTokens(usage.PromptTokens, usage.CompletionTokens)
}

// normalizeReply trims the text and, when a backend answered only with
// structured tool calls, renders them as action steps so the reply still
// decodes as a step list.
func normalizeReply(resp *Response) error {
	if resp == nil {
		return ErrEmptyReply
	}
	resp.Text = strings.TrimSpace(resp.Text)
	if resp.Text != "" {
		return nil
	}
	if len(resp.ToolCalls) == 0 {
		return ErrEmptyReply
	}

	actions := make([]map[string]interface{}, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		args := map[string]interface{}{}
		if strings.TrimSpace(tc.Arguments) != "" {
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
		}
		actions = append(actions, map[string]interface{}{
			"step_name": "action",
			"tool_call": tc.Name,
			"tool_args": args,
		})
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to render tool calls: %w", err)
	}
	resp.Text = string(data)
	return nil
}

// ChatStream is Chat with streaming enabled; deltas reach every sender.
func (c *Client) ChatStream(ctx context.Context, req Request, decode Decoder) (*Response, error) {
	req.Stream = true
	return c.Chat(ctx, req, decode)
}
