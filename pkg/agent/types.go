package agent

import (
	"context"
	"time"

	"github.com/harun/stepwise/pkg/commandqueue"
	"github.com/harun/stepwise/pkg/history"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/harun/stepwise/pkg/modes"
	"github.com/harun/stepwise/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Result is the outcome of one run. OK is false for the failure sentinel,
// so an empty answer and a failed run stay distinguishable.
type Result struct {
	Text string `json:"text"`
	OK   bool   `json:"ok"`
}

// Failure is the result of a run that produced no answer.
var Failure = Result{}

// History loads stored messages of a session for resuming.
type History interface {
	GetMessagesBySession(ctx context.Context, sessionID string) ([]llm.Message, error)
}

// Config holds runner configuration
type Config struct {
	// Name identifies the agent in logs.
	Name         string
	SystemPrompt string
	// ToolPrompt is an optional system message describing tool usage.
	ToolPrompt string
	// Mode defaults to Reason-Act-Observe.
	Mode modes.Mode

	Client *llm.Client
	Tools  *toolexecutor.ToolExecutor
	// UseToolCalls sends tool schemas to the backend. Otherwise the tool
	// descriptions are rendered into the tool prompt.
	UseToolCalls bool
	Stream       bool

	// Hooks observe the conversation after every append.
	Hooks []history.Hook
	// Env renders the environment slot. Defaults to history.EnvBlock.
	Env func() string

	SessionID  string
	WorkingDir string
	// ToolTimeout bounds tools that declare no timeout of their own.
	ToolTimeout time.Duration

	// Queue serializes top-level runs per session.
	Queue *commandqueue.CommandQueue
	// Resume reloads the session's stored messages before the task.
	Resume  bool
	History History

	// DumpDir receives the final message log as <session>.json when set.
	DumpDir string

	Logger zerolog.Logger
}
