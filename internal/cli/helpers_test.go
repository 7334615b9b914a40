package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/harun/stepwise/pkg/history"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// scriptedBackend replays replies in order and repeats the last one.
type scriptedBackend struct {
	mu      sync.Mutex
	replies []string
	seen    []llm.CallRequest
}

func (b *scriptedBackend) Provider() string { return "scripted" }

func (b *scriptedBackend) Call(ctx context.Context, req llm.CallRequest) (*llm.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.seen)
	b.seen = append(b.seen, req)
	if idx >= len(b.replies) {
		idx = len(b.replies) - 1
	}
	return &llm.Response{Text: b.replies[idx], Usage: llm.TokenUsage{PromptTokens: 5, CompletionTokens: 1}}, nil
}

func (b *scriptedBackend) Requests() []llm.CallRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.CallRequest(nil), b.seen...)
}

type scriptedFactory struct {
	backend llm.Backend
}

func (f scriptedFactory) NewBackend(llm.Endpoint) (llm.Backend, error) {
	return f.backend, nil
}

// testEnv points configuration at a temp data dir and a fake model.
type testEnv struct {
	dataDir string
	config  string
	backend *scriptedBackend
}

func newTestEnv(t *testing.T, replies ...string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{
		"OPENAI_MODEL", "OPENAI_API_BASE", "MODEL_SETTINGS", "MAX_TOKENS", "TEMPERATURE",
		"TOP_P", "FREQUENCY_PENALTY", "DEBUG", "USE_TOOL_CALLS",
		"CONTEXT_MESSAGES_SLIM_THRESHOLD_LENGTH", "ENV_PROMPT", "PLUGIN_TOOLS",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("STEPWISE_DATA_DIR", dir)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	backend := &scriptedBackend{replies: replies}
	prevFactory, prevCounter := backendFactory, newCounter
	backendFactory = scriptedFactory{backend: backend}
	newCounter = func() history.Counter {
		return history.CounterFunc(func(text string) int { return len(text) / 4 })
	}
	t.Cleanup(func() {
		backendFactory, newCounter = prevFactory, prevCounter
	})

	return &testEnv{
		dataDir: dir,
		config:  filepath.Join(dir, "stepwise.json"),
		backend: backend,
	}
}

// execute runs the root command with fresh flags and returns stdout and stderr.
func (e *testEnv) execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	return executeCommand(t, stdin, append([]string{"--config", e.config}, args...)...)
}

func executeCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := GetRootCmd()
	resetFlags(cmd)

	var stdout, stderr bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// resetFlags restores every flag of the tree to its default, since cobra
// keeps parsed values between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

var sessionLine = regexp.MustCompile(`session_id: (\S+)`)

func sessionIDFrom(t *testing.T, stderr string) string {
	t.Helper()
	m := sessionLine.FindStringSubmatch(stderr)
	require.Len(t, m, 2, "stderr: %s", stderr)
	return m[1]
}
