package modes

import (
	"context"

	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/step"
	"github.com/rs/zerolog/log"
)

// ReActName is the reason-act-observe mode.
const ReActName = "react"

// Synthetic messages fed back for model mistakes.
const (
	MsgMissingToolCall = "missing tool_call"
	MsgNoAction        = "no found action"
	MsgCannotHandle    = "I can not handle it"
	msgUnknownTool     = "no found such as tool: "
)

// ReAct handles thought, action and final_answer steps.
type ReAct struct {
	Interactive bool
	Input       HumanInput
}

// Name implements Mode.
func (m *ReAct) Name() string { return ReActName }

// Execute implements Mode.
func (m *ReAct) Execute(ctx context.Context, turn *Turn, index int) Outcome {
	s := turn.Steps[index]

	switch s.Name {
	case step.NameAction:
		return m.action(ctx, turn, s)

	case step.NameThought:
		if len(turn.Steps) != 1 {
			return Outcome{}
		}
		if !m.Interactive {
			return WithUser(MsgNoAction)
		}
		return WithUser(taskMessage(m.ask(ctx, s.RawText)))

	case step.NameFinalAnswer:
		return Done(s.RawText)
	}

	if turn.IsLast(index) {
		log.Error().Str("step_name", s.Name).Msg("Model emitted a step the agent can not handle")
		return WithUser(MsgCannotHandle)
	}
	return Outcome{}
}

func (m *ReAct) action(ctx context.Context, turn *Turn, s step.Step) Outcome {
	info, ok := step.ExtractToolCall(s, turn.structured())
	if !ok {
		return WithTool(MsgMissingToolCall, "")
	}

	id := turn.callID(info.FuncName)
	if !turn.Tools.HasTool(info.FuncName) {
		return WithTool(msgUnknownTool+info.FuncName, id)
	}
	return WithTool(turn.Tools.Dispatch(ctx, info.FuncName, info.FuncArgs, turn.ExecCtx), id)
}

// ask blocks for a human reply. Nested agents cannot prompt and continue.
func (m *ReAct) ask(ctx context.Context, prompt string) string {
	if m.Input == nil || tracing.GetDepth(ctx) > 0 {
		return "continue"
	}
	for {
		reply, err := m.Input.Ask(ctx, prompt)
		if err != nil {
			log.Warn().Err(err).Msg("Human input unavailable, continuing")
			return "continue"
		}
		if reply != "" {
			return reply
		}
	}
}
