package session

import (
	"context"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/history"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/rs/zerolog"
)

// Hook forwards each appended message to a MessageStore while the context
// carries a session id.
type Hook struct {
	store  MessageStore
	logger zerolog.Logger
}

// NewHook returns a session persistence hook.
func NewHook(store MessageStore, logger zerolog.Logger) *Hook {
	return &Hook{store: store, logger: logger}
}

// Name implements history.Hook.
func (h *Hook) Name() string { return "session" }

// AfterAppend implements history.Hook. System messages are rebuilt on resume
// and are not stored. Nested runs share the session id but keep their own
// logs, so only the top-level conversation is persisted.
func (h *Hook) AfterAppend(ctx context.Context, conv *history.Conversation) error {
	sessionID := tracing.GetSessionID(ctx)
	if sessionID == "" || tracing.GetDepth(ctx) > 0 {
		return nil
	}
	last, ok := conv.Last()
	if !ok || last.Role == llm.RoleSystem {
		return nil
	}

	err := h.store.AddSessionMessage(ctx, sessionID, last)
	observability.RecordSessionMessage(err == nil)
	return err
}
