package tracing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxDepth is the deepest an agent may nest other agents.
const MaxDepth = 3

// ErrMaxDepth is returned when a nested agent would exceed MaxDepth.
var ErrMaxDepth = errors.New("agent nesting too deep")

// ContextKey is the type for context keys
type ContextKey string

const (
	// ExecKey is the context key for the execution context
	ExecKey ContextKey = "exec_context"
)

// ExecContext identifies the agent a call is made on behalf of.
// It is immutable; derive children with Nested.
type ExecContext struct {
	AgentName string
	SessionID string
	RunID     string
	// Handle is the running agent, opaque to this package.
	Handle interface{}
	Depth  int
	Parent *ExecContext
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// NewExecContext creates a root execution context with a fresh run ID.
func NewExecContext(agentName, sessionID string) *ExecContext {
	return &ExecContext{
		AgentName: agentName,
		SessionID: sessionID,
		RunID:     NewRunID(),
	}
}

// Nested derives the context for a child agent. The session is inherited.
func (e *ExecContext) Nested(agentName string) (*ExecContext, error) {
	if e.Depth+1 > MaxDepth {
		return nil, fmt.Errorf("%w: %s at depth %d", ErrMaxDepth, agentName, e.Depth+1)
	}
	return &ExecContext{
		AgentName: agentName,
		SessionID: e.SessionID,
		RunID:     NewRunID(),
		Depth:     e.Depth + 1,
		Parent:    e,
	}, nil
}

// WithHandle returns a copy bound to the given agent handle.
func (e *ExecContext) WithHandle(handle interface{}) *ExecContext {
	c := *e
	c.Handle = handle
	return &c
}

// Path returns agent names from the root down, e.g. "main/agent_writer".
func (e *ExecContext) Path() string {
	if e.Parent == nil {
		return e.AgentName
	}
	return e.Parent.Path() + "/" + e.AgentName
}

// WithExec adds an execution context to the context
func WithExec(ctx context.Context, e *ExecContext) context.Context {
	return context.WithValue(ctx, ExecKey, e)
}

// FromContext returns the execution context, or nil.
func FromContext(ctx context.Context) *ExecContext {
	if e, ok := ctx.Value(ExecKey).(*ExecContext); ok {
		return e
	}
	return nil
}

// GetAgentName retrieves the agent name from the context
func GetAgentName(ctx context.Context) string {
	if e := FromContext(ctx); e != nil {
		return e.AgentName
	}
	return ""
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	if e := FromContext(ctx); e != nil {
		return e.SessionID
	}
	return ""
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if e := FromContext(ctx); e != nil {
		return e.RunID
	}
	return ""
}

// GetDepth retrieves the nesting depth from the context
func GetDepth(ctx context.Context) int {
	if e := FromContext(ctx); e != nil {
		return e.Depth
	}
	return 0
}
