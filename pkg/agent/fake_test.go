package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/stepwise/pkg/history"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/harun/stepwise/pkg/modes"
	"github.com/harun/stepwise/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeBackend answers with respond, or replays replies in order and repeats
// the last one.
type fakeBackend struct {
	mu      sync.Mutex
	replies []*llm.Response
	respond func(req llm.CallRequest) *llm.Response
	delay   time.Duration
	seen    []llm.CallRequest

	inflight int32
	peak     int32
}

func (b *fakeBackend) Provider() string { return "fake" }

func (b *fakeBackend) Call(ctx context.Context, req llm.CallRequest) (*llm.Response, error) {
	cur := atomic.AddInt32(&b.inflight, 1)
	defer atomic.AddInt32(&b.inflight, -1)
	for {
		old := atomic.LoadInt32(&b.peak)
		if cur <= old || atomic.CompareAndSwapInt32(&b.peak, old, cur) {
			break
		}
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	idx := len(b.seen)
	b.seen = append(b.seen, req)
	b.mu.Unlock()

	if b.respond != nil {
		return b.respond(req), nil
	}
	if idx >= len(b.replies) {
		idx = len(b.replies) - 1
	}
	cp := *b.replies[idx]
	return &cp, nil
}

func (b *fakeBackend) Requests() []llm.CallRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.CallRequest(nil), b.seen...)
}

func (b *fakeBackend) Peak() int32 {
	return atomic.LoadInt32(&b.peak)
}

type fixedFactory struct {
	backend llm.Backend
}

func (f fixedFactory) NewBackend(llm.Endpoint) (llm.Backend, error) {
	return f.backend, nil
}

func text(s string) *llm.Response {
	return &llm.Response{Text: s, Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 2}}
}

func newTestClient(t *testing.T, backend llm.Backend, sampling llm.Sampling) *llm.Client {
	t.Helper()
	client, err := llm.NewClient(llm.Config{
		Sampling:    sampling,
		MaxAttempts: 3,
		Factory:     fixedFactory{backend: backend},
		Sleeper: llm.SleeperFunc(func(ctx context.Context, d time.Duration) error {
			return nil
		}),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return client
}

func echoTools(t *testing.T) *toolexecutor.ToolExecutor {
	t.Helper()
	te := toolexecutor.New()
	require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "echo",
		Description: "Echo a message",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "msg", Type: "string", Description: "Message", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["msg"], nil
		},
	}))
	return te
}

// captureHook keeps the conversation it observes.
type captureHook struct {
	mu   sync.Mutex
	conv *history.Conversation
}

func (h *captureHook) Name() string { return "capture" }

func (h *captureHook) AfterAppend(ctx context.Context, conv *history.Conversation) error {
	h.mu.Lock()
	h.conv = conv
	h.mu.Unlock()
	return nil
}

func (h *captureHook) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conv == nil {
		return nil
	}
	return h.conv.Messages()
}

// stallMode continues without producing any message.
type stallMode struct{}

func (stallMode) Name() string { return "stall" }

func (stallMode) Execute(ctx context.Context, turn *modes.Turn, index int) modes.Outcome {
	return modes.Outcome{Code: modes.Continue}
}

type staticHistory []llm.Message

func (h staticHistory) GetMessagesBySession(ctx context.Context, sessionID string) ([]llm.Message, error) {
	return h, nil
}

func testEnv() string { return "# Environment\nCurrentDate: test" }

func quietLogger() zerolog.Logger {
	return zerolog.Nop()
}
