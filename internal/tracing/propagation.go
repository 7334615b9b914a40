package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToNested derives a context for a nested agent run.
// A context without an execution context is treated as depth 0.
func PropagateToNested(ctx context.Context, agentName string) (context.Context, *ExecContext, error) {
	parent := FromContext(ctx)
	if parent == nil {
		parent = NewExecContext("main", "")
	}
	child, err := parent.Nested(agentName)
	if err != nil {
		return ctx, nil, err
	}
	return WithExec(ctx, child), child, nil
}

// PropagateToLogger adds execution context fields to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	e := FromContext(ctx)
	if e == nil {
		return logger
	}

	lc := logger.With().Str("agent", e.AgentName)
	if e.SessionID != "" {
		lc = lc.Str("session_id", e.SessionID)
	}
	if e.RunID != "" {
		lc = lc.Str("run_id", e.RunID)
	}
	if e.Depth > 0 {
		lc = lc.Int("depth", e.Depth)
	}
	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
