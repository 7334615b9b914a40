package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/commandqueue"
	"github.com/harun/stepwise/pkg/history"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/harun/stepwise/pkg/modes"
	"github.com/harun/stepwise/pkg/step"
	"github.com/harun/stepwise/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, backend *fakeBackend, mutate func(cfg *Config)) *Runner {
	t.Helper()
	cfg := Config{
		SystemPrompt: "You are a test agent.",
		Client:       newTestClient(t, backend, llm.Sampling{}),
		Tools:        echoTools(t),
		Env:          testEnv,
		Logger:       quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	runner, err := NewRunner(cfg)
	require.NoError(t, err)
	return runner
}

func countRole(msgs []llm.Message, role string) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

func TestNewRunner(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{text("[]")}}

	t.Run("should require a client", func(t *testing.T) {
		_, err := NewRunner(Config{Tools: toolexecutor.New()})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "client")
	})

	t.Run("should require tools", func(t *testing.T) {
		_, err := NewRunner(Config{Client: newTestClient(t, backend, llm.Sampling{})})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "tool executor")
	})

	t.Run("should require history to resume", func(t *testing.T) {
		_, err := NewRunner(Config{
			Client: newTestClient(t, backend, llm.Sampling{}),
			Tools:  toolexecutor.New(),
			Resume: true,
		})
		assert.Error(t, err)
	})

	t.Run("should default to reason-act-observe", func(t *testing.T) {
		runner := newTestRunner(t, backend, nil)
		assert.Equal(t, modes.ReActName, runner.Mode().Name())
	})
}

func TestRunner_FinalAnswer(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{
		text(`[{"step_name":"thought","raw_text":"trivial"},{"step_name":"final_answer","raw_text":"4"}]`),
	}}
	runner := newTestRunner(t, backend, nil)

	result, err := runner.Run(context.Background(), "what is 2+2")
	require.NoError(t, err)
	assert.Equal(t, Result{Text: "4", OK: true}, result)

	reqs := backend.Requests()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You are a test agent.", msgs[0].Content)
	assert.Equal(t, testEnv(), msgs[history.EnvSlot].Content)
	assert.True(t, strings.HasPrefix(msgs[2].Content, "# Tools\n"))
	assert.Contains(t, msgs[2].Content, "echo")
	assert.Equal(t, llm.RoleUser, msgs[3].Role)

	steps, err := step.Parse(msgs[3].Content)
	require.NoError(t, err)
	assert.Equal(t, []step.Step{step.New(step.NameTask, "what is 2+2")}, steps)
}

func TestRunner_ToolRoundTrip(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{
		text(`[{"step_name":"action","tool_call":"echo","tool_args":{"msg":"hi"}}]`),
		text(`[{"step_name":"final_answer","raw_text":"hi"}]`),
	}}
	capture := &captureHook{}
	envCalls := 0
	runner := newTestRunner(t, backend, func(cfg *Config) {
		cfg.Hooks = []history.Hook{capture}
		cfg.Env = func() string {
			envCalls++
			return testEnv()
		}
	})

	result, err := runner.Run(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, Result{Text: "hi", OK: true}, result)

	msgs := capture.Messages()
	assert.Equal(t, 1, countRole(msgs, llm.RoleTool))
	for _, m := range msgs {
		if m.Role == llm.RoleTool {
			assert.Equal(t, "hi", m.Content)
		}
	}

	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "hi", last.Content)

	// seeded once, refreshed after the first turn
	assert.Equal(t, 2, envCalls)
}

func TestRunner_NoProgressStopsAfterOneTurn(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{
		text(`[{"step_name":"thought","raw_text":"hmm"}]`),
	}}
	runner := newTestRunner(t, backend, func(cfg *Config) {
		cfg.Mode = stallMode{}
	})

	result, err := runner.Run(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Len(t, backend.Requests(), 1)
}

func TestRunner_PassOnlyTurnIsNoProgress(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{
		text(`[{"step_name":"thought","raw_text":"a"},{"step_name":"thought","raw_text":"b"}]`),
	}}
	runner := newTestRunner(t, backend, nil)

	result, err := runner.Run(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, Failure, result)
	assert.Len(t, backend.Requests(), 1)
}

func TestRunner_LoneThoughtNudges(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{
		text(`[{"step_name":"thought","raw_text":"thinking"}]`),
		text(`[{"step_name":"final_answer","raw_text":"done"}]`),
	}}
	runner := newTestRunner(t, backend, nil)

	result, err := runner.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.True(t, result.OK)

	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, modes.MsgNoAction, last.Content)
}

func TestRunner_EmptyAnswerIsSuccess(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{
		text(`[{"step_name":"final_answer","raw_text":""}]`),
	}}
	runner := newTestRunner(t, backend, nil)

	result, err := runner.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, Result{Text: "", OK: true}, result)
	assert.NotEqual(t, Failure, result)
}

func TestRunner_TerminalFailure(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{
		text(`[{"step_name":"execute-subtask","tool_call":"nope","tool_args":{}}]`),
	}}
	runner := newTestRunner(t, backend, func(cfg *Config) {
		cfg.Mode = &modes.PlanAndExecute{}
	})

	result, err := runner.Run(context.Background(), "plan it")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Contains(t, result.Text, "nope")
}

func TestRunner_FatalClientError(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{text("not json at all {")}}
	runner := newTestRunner(t, backend, nil)

	result, err := runner.Run(context.Background(), "task")
	assert.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrRetriesExhausted)
	assert.False(t, result.OK)
}

func TestRunner_StructuredToolCalls(t *testing.T) {
	t.Run("should keep only the first call and answer it", func(t *testing.T) {
		backend := &fakeBackend{replies: []*llm.Response{
			{ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "echo", Arguments: `{"msg":"one"}`},
				{ID: "c2", Name: "echo", Arguments: `{"msg":"two"}`},
			}},
			text(`[{"step_name":"final_answer","raw_text":"ok"}]`),
		}}
		capture := &captureHook{}
		runner := newTestRunner(t, backend, func(cfg *Config) {
			cfg.Hooks = []history.Hook{capture}
			cfg.UseToolCalls = true
		})

		result, err := runner.Run(context.Background(), "task")
		require.NoError(t, err)
		assert.True(t, result.OK)

		reqs := backend.Requests()
		require.NotEmpty(t, reqs[0].Tools)
		assert.Equal(t, "echo", reqs[0].Tools[0].Name)
		// tool schemas replace the rendered tool prompt
		assert.Equal(t, 2, countRole(reqs[0].Messages, llm.RoleSystem))

		msgs := capture.Messages()
		var assistant, tool *llm.Message
		for i := range msgs {
			switch {
			case msgs[i].Role == llm.RoleAssistant && assistant == nil:
				assistant = &msgs[i]
			case msgs[i].Role == llm.RoleTool:
				tool = &msgs[i]
			}
		}
		require.NotNil(t, assistant)
		require.NotNil(t, tool)
		require.Len(t, assistant.ToolCalls, 1)
		assert.Equal(t, "c1", assistant.ToolCalls[0].ID)
		assert.Equal(t, "c1", tool.ToolCallID)
		assert.Equal(t, "one", tool.Content)
	})

	t.Run("should drop a call no tool message answers", func(t *testing.T) {
		backend := &fakeBackend{replies: []*llm.Response{
			{
				Text:      `[{"step_name":"thought","raw_text":"not yet"}]`,
				ToolCalls: []llm.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"msg":"x"}`}},
			},
			text(`[{"step_name":"final_answer","raw_text":"ok"}]`),
		}}
		capture := &captureHook{}
		runner := newTestRunner(t, backend, func(cfg *Config) {
			cfg.Hooks = []history.Hook{capture}
		})

		_, err := runner.Run(context.Background(), "task")
		require.NoError(t, err)

		msgs := capture.Messages()
		for _, m := range msgs {
			if m.Role == llm.RoleAssistant {
				assert.Empty(t, m.ToolCalls)
			}
		}
		assert.Equal(t, 0, countRole(msgs, llm.RoleTool))
	})
}

func TestRunner_Resume(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{
		text(`[{"step_name":"final_answer","raw_text":"again"}]`),
	}}
	stored := staticHistory{
		{Role: llm.RoleUser, Content: step.MustMarshal(step.New(step.NameTask, "first"))},
		{Role: llm.RoleAssistant, Content: step.MustMarshal(step.New(step.NameFinalAnswer, "one"))},
	}
	runner := newTestRunner(t, backend, func(cfg *Config) {
		cfg.SessionID = "s1"
		cfg.Resume = true
		cfg.History = stored
		cfg.UseToolCalls = true
	})

	result, err := runner.Run(context.Background(), "second")
	require.NoError(t, err)
	assert.True(t, result.OK)

	msgs := backend.Requests()[0].Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.RoleSystem, msgs[1].Role)
	assert.Equal(t, stored[0], msgs[2])
	assert.Equal(t, stored[1], msgs[3])
	assert.Contains(t, msgs[4].Content, "second")
}

func TestRunner_SessionLaneSerializesRuns(t *testing.T) {
	backend := &fakeBackend{
		replies: []*llm.Response{text(`[{"step_name":"final_answer","raw_text":"ok"}]`)},
		delay:   20 * time.Millisecond,
	}
	queue := commandqueue.New()
	defer queue.Close()

	runner := newTestRunner(t, backend, func(cfg *Config) {
		cfg.SessionID = "shared"
		cfg.Queue = queue
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := runner.Run(context.Background(), "task")
			assert.NoError(t, err)
			assert.True(t, result.OK)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), backend.Peak())
	assert.Len(t, backend.Requests(), 4)
}

func TestRunner_DumpMessages(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{
		text(`[{"step_name":"final_answer","raw_text":"4"}]`),
	}}
	dir := t.TempDir()
	runner := newTestRunner(t, backend, func(cfg *Config) {
		cfg.SessionID = "s-dump"
		cfg.DumpDir = dir
	})

	_, err := runner.Run(context.Background(), "what is 2+2")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "s-dump.json"))
	require.NoError(t, err)

	var msgs []llm.Message
	require.NoError(t, json.Unmarshal(data, &msgs))
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleAssistant, msgs[4].Role)
}

func TestRunner_UsesExecutionContext(t *testing.T) {
	backend := &fakeBackend{replies: []*llm.Response{
		text(`[{"step_name":"action","tool_call":"whoami","tool_args":{}}]`),
		text(`[{"step_name":"final_answer","raw_text":"ok"}]`),
	}}
	tools := toolexecutor.New()
	var seenSession, seenAgent string
	require.NoError(t, tools.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "whoami",
		Description: "Report the calling agent",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			seenSession = tracing.GetSessionID(ctx)
			seenAgent = tracing.GetAgentName(ctx)
			return "me", nil
		},
	}))
	runner := newTestRunner(t, backend, func(cfg *Config) {
		cfg.Name = "tester"
		cfg.SessionID = "s-ctx"
		cfg.Tools = tools
	})

	_, err := runner.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, "s-ctx", seenSession)
	assert.Equal(t, "tester", seenAgent)
}
