package llm

import (
	"context"
	"sync"
	"time"
)

// scriptedBackend replays results in order and repeats the last one.
type scriptedBackend struct {
	mu      sync.Mutex
	results []scriptedResult
	calls   int
	seen    []CallRequest
}

type scriptedResult struct {
	resp   *Response
	err    error
	deltas []string
}

func (b *scriptedBackend) Provider() string { return "fake" }

func (b *scriptedBackend) Call(ctx context.Context, req CallRequest) (*Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.calls
	if idx >= len(b.results) {
		idx = len(b.results) - 1
	}
	b.calls++
	b.seen = append(b.seen, req)

	r := b.results[idx]
	if req.OnDelta != nil {
		for _, d := range r.deltas {
			req.OnDelta(d)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	cp := *r.resp
	return &cp, nil
}

func (b *scriptedBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// countingFactory always returns the same backend and counts constructions.
type countingFactory struct {
	backend Backend
	err     error
	created int
}

func (f *countingFactory) NewBackend(endpoint Endpoint) (Backend, error) {
	f.created++
	if f.err != nil {
		return nil, f.err
	}
	return f.backend, nil
}

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func textReply(text string) scriptedResult {
	return scriptedResult{resp: &Response{Text: text, Usage: TokenUsage{PromptTokens: 10, CompletionTokens: 2}}}
}

func failure(err error) scriptedResult {
	return scriptedResult{err: err}
}

func newTestClient(backend Backend) (*Client, *countingFactory, *recordingSleeper) {
	factory := &countingFactory{backend: backend}
	sleeper := &recordingSleeper{}
	cfg := DefaultConfig()
	cfg.Default = Endpoint{APIKey: "sk-test"}
	cfg.Factory = factory
	cfg.Sleeper = sleeper
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client, factory, sleeper
}
