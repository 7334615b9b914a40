package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/history"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/harun/stepwise/pkg/modes"
	"github.com/harun/stepwise/pkg/step"
	"github.com/harun/stepwise/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Runner drives one agent from a task to a terminal result.
type Runner struct {
	cfg    Config
	mode   modes.Mode
	logger zerolog.Logger
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Resume && cfg.History == nil {
		return nil, fmt.Errorf("resuming a session requires a message history")
	}
	if cfg.Name == "" {
		cfg.Name = "main"
	}
	if cfg.Env == nil {
		cfg.Env = func() string { return history.EnvBlock(history.EnvOptions{}) }
	}

	mode := cfg.Mode
	if mode == nil {
		mode = &modes.ReAct{}
	}

	return &Runner{
		cfg:    cfg,
		mode:   mode,
		logger: cfg.Logger,
	}, nil
}

// Mode returns the step state machine in use.
func (r *Runner) Mode() modes.Mode {
	return r.mode
}

// Run executes task and returns the terminal result. A non-nil error means
// the model client failed fatally or ctx ended.
//
// Top-level runs of a session are serialized through the session lane.
// Nested runs execute inline, since their parent already holds the lane.
func (r *Runner) Run(ctx context.Context, task string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	exec := tracing.FromContext(ctx)
	if exec == nil {
		exec = tracing.NewExecContext(r.cfg.Name, r.cfg.SessionID)
	}
	ctx = tracing.WithExec(ctx, exec.WithHandle(r))

	if exec.Depth > 0 || r.cfg.Queue == nil || exec.SessionID == "" {
		return r.execute(ctx, task)
	}

	lane := fmt.Sprintf("session-%s", exec.SessionID)
	value, err := r.cfg.Queue.Enqueue(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
		return r.execute(taskCtx, task)
	})
	if err != nil {
		return Failure, err
	}
	return value.(Result), nil
}

func (r *Runner) execute(ctx context.Context, task string) (Result, error) {
	start := time.Now()
	exec := tracing.FromContext(ctx)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	conv := history.New(r.logger, r.cfg.Hooks...)
	conv.Seed(r.seed()...)

	if r.cfg.Resume {
		stored, err := r.cfg.History.GetMessagesBySession(ctx, exec.SessionID)
		if err != nil {
			return Failure, fmt.Errorf("failed to load session %s: %w", exec.SessionID, err)
		}
		conv.Seed(stored...)
		logger.Info().Int("messages", len(stored)).Msg("Resumed session")
	}

	if task != "" {
		conv.Append(ctx, llm.Message{
			Role:    llm.RoleUser,
			Content: step.MustMarshal(step.New(step.NameTask, task)),
		})
	}

	result, err := r.loop(ctx, conv)

	duration := time.Since(start)
	observability.RecordRun(r.mode.Name(), duration, result.OK)
	r.dump(ctx, conv)

	stats := r.cfg.Client.Stats()
	logger.Info().
		Str("mode", r.mode.Name()).
		Bool("ok", result.OK).
		Dur("duration", duration).
		Int("messages", conv.Len()).
		Int("model_calls", stats.Calls).
		Int("prompt_tokens", stats.PromptTokens).
		Int("completion_tokens", stats.CompletionTokens).
		Msg("Agent run finished")

	return result, err
}

// seed builds the system prompt, the environment slot and the tool prompt.
func (r *Runner) seed() []llm.Message {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: r.cfg.SystemPrompt},
		{Role: llm.RoleSystem, Content: r.cfg.Env()},
	}
	if prompt := r.toolPrompt(); prompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompt})
	}
	return msgs
}

func (r *Runner) toolPrompt() string {
	prompt := r.cfg.ToolPrompt
	if r.cfg.UseToolCalls || r.cfg.Tools.GetToolCount() == 0 {
		return prompt
	}
	tools := "# Tools\n" + r.cfg.Tools.Describe()
	if prompt == "" {
		return tools
	}
	return prompt + "\n\n" + tools
}

func (r *Runner) loop(ctx context.Context, conv *history.Conversation) (Result, error) {
	exec := tracing.FromContext(ctx)
	logger := tracing.LoggerFromContext(ctx, r.logger)
	modeName := r.mode.Name()

	toolCtx := &toolexecutor.ExecutionContext{
		SessionID:  exec.SessionID,
		AgentName:  exec.AgentName,
		WorkingDir: r.cfg.WorkingDir,
		Timeout:    r.cfg.ToolTimeout,
	}

	for turn := 1; ; turn++ {
		if err := ctx.Err(); err != nil {
			return Failure, err
		}

		steps, resp, err := r.chat(ctx, conv)
		if err != nil {
			observability.RecordTurn(modeName, "error")
			logger.Error().Err(err).Int("turn", turn).Msg("Chat to model failed")
			return Failure, err
		}
		if len(steps) == 0 {
			observability.RecordTurn(modeName, "empty")
			logger.Error().Int("turn", turn).Msg("Model replied without steps")
			return Failure, nil
		}

		calls := resp.ToolCalls
		if len(calls) > 1 {
			calls = calls[:1]
		}
		content, err := step.Marshal(steps)
		if err != nil {
			return Failure, fmt.Errorf("failed to encode steps: %w", err)
		}
		conv.Append(ctx, llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: calls})
		assistantAt := conv.Len() - 1
		before := conv.Len()

		t := &modes.Turn{Steps: steps, ToolCalls: calls, Tools: r.cfg.Tools, ExecCtx: toolCtx}
	dispatch:
		for i := range steps {
			out := r.mode.Execute(ctx, t, i)
			switch out.Code {
			case modes.TerminalOK:
				observability.RecordTurn(modeName, "terminal_ok")
				return Result{Text: out.Result, OK: true}, nil

			case modes.TerminalFailed:
				observability.RecordTurn(modeName, "terminal_failed")
				logger.Warn().Str("reason", out.Result).Int("turn", turn).Msg("Task failed")
				return Result{Text: out.Result}, nil

			case modes.Continue:
				for _, msg := range out.Messages() {
					conv.Append(ctx, msg)
				}
				break dispatch
			}
		}

		// The environment refresh below rewrites a slot in place and is not
		// progress, so the count is taken before it.
		if conv.Len() == before {
			observability.RecordTurn(modeName, "no_progress")
			logger.Error().Int("turn", turn).Msg("No progress made in this iteration, exiting")
			return Failure, nil
		}
		observability.RecordTurn(modeName, "continue")

		if len(calls) > 0 && !answered(conv, before, calls[0].ID) {
			if err := conv.SetToolCalls(assistantAt, nil); err != nil {
				logger.Warn().Err(err).Msg("Failed to drop unanswered tool call")
			}
		}

		if err := conv.SetEnv(r.cfg.Env()); err != nil {
			logger.Warn().Err(err).Msg("Failed to refresh environment")
		}
	}
}

// chat sends the conversation and returns the reply decoded as steps.
// Replies that do not decode are re-queried by the client.
func (r *Runner) chat(ctx context.Context, conv *history.Conversation) ([]step.Step, *llm.Response, error) {
	var steps []step.Step
	decode := func(text string) error {
		parsed, err := step.Parse(text)
		if err != nil {
			return err
		}
		steps = parsed
		return nil
	}

	req := llm.Request{Messages: conv.Messages()}
	if r.cfg.UseToolCalls {
		req.Tools = r.cfg.Tools.Specs()
	}

	var (
		resp *llm.Response
		err  error
	)
	if r.cfg.Stream {
		resp, err = r.cfg.Client.ChatStream(ctx, req, decode)
	} else {
		resp, err = r.cfg.Client.Chat(ctx, req, decode)
	}
	if err != nil {
		return nil, nil, err
	}
	return steps, resp, nil
}

// answered reports whether a tool message from index from on answers id.
func answered(conv *history.Conversation, from int, id string) bool {
	for i := from; i < conv.Len(); i++ {
		msg := conv.At(i)
		if msg.Role == llm.RoleTool && msg.ToolCallID == id {
			return true
		}
	}
	return false
}

// dump writes the final message log. Nested runs are keyed by run id so
// they never overwrite their parent's dump.
func (r *Runner) dump(ctx context.Context, conv *history.Conversation) {
	if r.cfg.DumpDir == "" {
		return
	}
	logger := tracing.LoggerFromContext(ctx, r.logger)
	exec := tracing.FromContext(ctx)

	name := exec.SessionID
	if name == "" || exec.Depth > 0 {
		name = exec.RunID
	}

	data, err := json.MarshalIndent(conv.Messages(), "", "  ")
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to encode messages for dump")
		return
	}
	if err := os.MkdirAll(r.cfg.DumpDir, 0o755); err != nil {
		logger.Warn().Err(err).Msg("Failed to create dump directory")
		return
	}
	path := filepath.Join(r.cfg.DumpDir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to dump messages")
		return
	}
	logger.Debug().Str("path", path).Msg("Dumped messages")
}
