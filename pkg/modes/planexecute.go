package modes

import (
	"context"
	"fmt"

	"github.com/harun/stepwise/pkg/step"
)

// PlanAndExecuteName is the plan-and-execute mode.
const PlanAndExecuteName = "plan-and-execute"

// PlanAndExecute handles task-ask, execute-subtask and final steps.
// Planning tags pass through.
type PlanAndExecute struct {
	Input HumanInput
}

// Name implements Mode.
func (m *PlanAndExecute) Name() string { return PlanAndExecuteName }

// Execute implements Mode.
func (m *PlanAndExecute) Execute(ctx context.Context, turn *Turn, index int) Outcome {
	s := turn.Steps[index]

	switch s.Name {
	case step.NameFinal:
		return Done(s.RawText)

	case step.NameTaskAsk:
		if m.Input == nil {
			return Failed("task-ask needs a human but input is not interactive")
		}
		reply, err := m.Input.Ask(ctx, s.RawText)
		if err != nil {
			return Failed(fmt.Sprintf("failed to read human input: %v", err))
		}
		return WithUser(taskMessage(reply))

	case step.NameExecuteSubtask:
		if s.ToolCall == "" || !turn.Tools.HasTool(s.ToolCall) {
			return Failed(fmt.Sprintf("Unknown tool call %s.", s.ToolCall))
		}
		args := s.ToolArgs
		if args == nil {
			args = map[string]interface{}{}
		}
		return WithTool(turn.Tools.Dispatch(ctx, s.ToolCall, args, turn.ExecCtx), turn.callID(s.ToolCall))
	}

	return Outcome{}
}
