package modes

import (
	"context"
	"fmt"

	"github.com/harun/stepwise/pkg/llm"
	"github.com/harun/stepwise/pkg/step"
	"github.com/harun/stepwise/pkg/toolexecutor"
)

// Code is the control decision for one step.
type Code int

const (
	// Pass leaves the decision to the next step of the turn.
	Pass Code = iota
	// Continue appends the outcome's messages and re-queries the model.
	Continue
	// TerminalOK ends the run with Result as the answer.
	TerminalOK
	// TerminalFailed ends the run with Result as the diagnostic.
	TerminalFailed
)

func (c Code) String() string {
	switch c {
	case Pass:
		return "pass"
	case Continue:
		return "continue"
	case TerminalOK:
		return "terminal_ok"
	case TerminalFailed:
		return "terminal_failed"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Outcome is what a mode decided for one step.
type Outcome struct {
	Code Code
	// UserMessage and ToolMessage are appended in that order on Continue.
	UserMessage *string
	ToolMessage *string
	// ToolCallID answers a structured tool call.
	ToolCallID string
	Result     string
}

// Messages returns the messages to append for a Continue outcome.
func (o Outcome) Messages() []llm.Message {
	var msgs []llm.Message
	if o.UserMessage != nil {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: *o.UserMessage})
	}
	if o.ToolMessage != nil {
		msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: *o.ToolMessage, ToolCallID: o.ToolCallID})
	}
	return msgs
}

// WithUser continues with a user message.
func WithUser(content string) Outcome {
	return Outcome{Code: Continue, UserMessage: &content}
}

// WithTool continues with a tool message.
func WithTool(content, toolCallID string) Outcome {
	return Outcome{Code: Continue, ToolMessage: &content, ToolCallID: toolCallID}
}

// Done ends the run successfully.
func Done(result string) Outcome {
	return Outcome{Code: TerminalOK, Result: result}
}

// Failed ends the run as a failure.
func Failed(reason string) Outcome {
	return Outcome{Code: TerminalFailed, Result: reason}
}

// Tools is the dispatcher a mode calls.
type Tools interface {
	HasTool(name string) bool
	Dispatch(ctx context.Context, name string, args map[string]interface{}, execCtx *toolexecutor.ExecutionContext) string
}

// Turn is one parsed model reply.
type Turn struct {
	Steps []step.Step
	// ToolCalls are structured calls from the response envelope.
	ToolCalls []llm.ToolCall
	Tools     Tools
	ExecCtx   *toolexecutor.ExecutionContext
}

// IsLast reports whether index is the final step of the turn.
func (t *Turn) IsLast(index int) bool {
	return index == len(t.Steps)-1
}

func (t *Turn) structured() []step.StructuredCall {
	calls := make([]step.StructuredCall, 0, len(t.ToolCalls))
	for _, tc := range t.ToolCalls {
		calls = append(calls, step.StructuredCall{Name: tc.Name, Arguments: tc.Arguments})
	}
	return calls
}

// callID returns the id of the first structured call when it names the tool.
func (t *Turn) callID(name string) string {
	if len(t.ToolCalls) > 0 && t.ToolCalls[0].Name == name {
		return t.ToolCalls[0].ID
	}
	return ""
}

// Mode is a step state machine.
type Mode interface {
	// Name identifies the mode in logs and configuration.
	Name() string
	// Execute decides what to do with turn.Steps[index].
	Execute(ctx context.Context, turn *Turn, index int) Outcome
}

// New returns the mode registered under name.
func New(name string, interactive bool, input HumanInput) (Mode, error) {
	switch name {
	case "", ReActName:
		return &ReAct{Interactive: interactive, Input: input}, nil
	case PlanAndExecuteName:
		return &PlanAndExecute{Input: input}, nil
	default:
		return nil, fmt.Errorf("unknown mode: %s", name)
	}
}
