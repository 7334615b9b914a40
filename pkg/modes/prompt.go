package modes

// Output format shared by both modes.
const formatPrompt = `# Output Format
Reply with a JSON list of steps and nothing else:
[{"step_name": "<name>", "raw_text": "<text>"}]
A step that calls a tool carries "tool_call" (the tool name) and "tool_args" (an object of arguments).
Call at most one tool per reply and wait for its observation.
`

const reactPrompt = `# Work Mode: ReAct
Solve the task by alternating thought, action and observation.
Steps you may emit:
- thought: your reasoning about what to do next.
- action: a tool call, with "tool_call" and "tool_args".
- final_answer: the answer to the task. Emit it only when the task is done.
Observations are produced by the tools; never write them yourself.
Large earlier steps may be replaced by "retrieve_msg by msg_id=<id>"; call the retrieve_msg tool to read them back.
`

const planAndExecutePrompt = `# Work Mode: Plan and Execute
First analyse the task, then plan it as a list of subtasks, then execute the subtasks one by one.
Steps you may emit:
- plan-analysis: your analysis of the task.
- plan-list: the ordered subtasks.
- replan-list: a revised plan after a subtask result changes it.
- task-ask: a question for the human when the task is ambiguous.
- execute-subtask: run one subtask with a tool, with "tool_call" and "tool_args".
- final: the result of the whole task.
`

// SystemPrompt returns the instructions for the named mode, or an empty
// string for an unknown mode.
func SystemPrompt(name string) string {
	switch name {
	case "", ReActName:
		return reactPrompt + "\n" + formatPrompt
	case PlanAndExecuteName:
		return planAndExecutePrompt + "\n" + formatPrompt
	}
	return ""
}
