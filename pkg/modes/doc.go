// Package modes holds the step state machines.
//
// A Mode looks at one step of a parsed model turn and returns an Outcome:
// Pass to look at the next step, Continue to append messages and query the
// model again, or one of the terminal codes.
//
// ReAct never fails a run on model mistakes; missing or unknown tools come
// back as observations and stray tags as a corrective user message.
// PlanAndExecute fails the run on an unresolvable subtask.
package modes
