package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/rs/zerolog"
)

// EnvSlot is the index of the environment block.
const EnvSlot = 1

// ErrNoEnvSlot is returned by SetEnv before the log is seeded.
var ErrNoEnvSlot = errors.New("conversation has no environment slot")

// Hook observes the conversation after every append.
type Hook interface {
	Name() string
	AfterAppend(ctx context.Context, conv *Conversation) error
}

// HookFunc adapts a function to Hook.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, conv *Conversation) error
}

// Name implements Hook.
func (h HookFunc) Name() string { return h.HookName }

// AfterAppend implements Hook.
func (h HookFunc) AfterAppend(ctx context.Context, conv *Conversation) error {
	return h.Fn(ctx, conv)
}

// Conversation is the ordered message log. It is not safe for concurrent use;
// parallel runs each own their own Conversation.
type Conversation struct {
	messages []llm.Message
	hooks    []Hook
	logger   zerolog.Logger
}

// New creates an empty conversation.
func New(logger zerolog.Logger, hooks ...Hook) *Conversation {
	return &Conversation{
		logger: logger,
		hooks:  hooks,
	}
}

// AddHook registers a hook after the existing ones.
func (c *Conversation) AddHook(h Hook) {
	c.hooks = append(c.hooks, h)
}

// Append pushes msg and runs the hooks.
func (c *Conversation) Append(ctx context.Context, msg llm.Message) {
	c.messages = append(c.messages, msg)

	log := tracing.LoggerFromContext(ctx, c.logger)
	log.Debug().
		Str("role", msg.Role).
		Int("index", len(c.messages)-1).
		Int("size", len(msg.Content)).
		Msg("Message appended")

	for _, h := range c.hooks {
		if err := h.AfterAppend(ctx, c); err != nil {
			log.Error().Err(err).Str("hook", h.Name()).Msg("History hook failed")
		}
	}
}

// Seed appends messages without running hooks. Used for replayed sessions.
func (c *Conversation) Seed(msgs ...llm.Message) {
	c.messages = append(c.messages, msgs...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// At returns the message at i.
func (c *Conversation) At(i int) llm.Message {
	return c.messages[i]
}

// Last returns the most recent message.
func (c *Conversation) Last() (llm.Message, bool) {
	if len(c.messages) == 0 {
		return llm.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []llm.Message {
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SetContent overwrites the content of message i. Role and position are kept.
func (c *Conversation) SetContent(i int, content string) error {
	if i < 0 || i >= len(c.messages) {
		return fmt.Errorf("message index %d out of range [0,%d)", i, len(c.messages))
	}
	c.messages[i].Content = content
	return nil
}

// SetToolCalls overwrites the structured tool calls of message i.
func (c *Conversation) SetToolCalls(i int, calls []llm.ToolCall) error {
	if i < 0 || i >= len(c.messages) {
		return fmt.Errorf("message index %d out of range [0,%d)", i, len(c.messages))
	}
	c.messages[i].ToolCalls = calls
	return nil
}

// SetEnv refreshes the environment slot in place.
func (c *Conversation) SetEnv(content string) error {
	if len(c.messages) <= EnvSlot {
		return ErrNoEnvSlot
	}
	c.messages[EnvSlot] = llm.Message{Role: llm.RoleSystem, Content: content}
	return nil
}

// Reset drops every message. Hooks stay registered.
func (c *Conversation) Reset() {
	c.messages = nil
}
