package step

import (
	"encoding/json"
	"strings"
)

// LinePrefix marks a step header in the line-tagged reply format:
//
//	stepwise.thought
//	I should list the directory first.
//	stepwise.action
//	{"tool_call": "exec_cmd", "tool_args": {"cmd": "ls"}}
const LinePrefix = "stepwise."

// IsLineFormat reports whether text uses the line-tagged format.
func IsLineFormat(text string) bool {
	return strings.HasPrefix(text, LinePrefix) || strings.Contains(text, "\n"+LinePrefix)
}

// ParseLineFormat splits a line-tagged reply into steps. Lines before the
// first header are ignored. An action body holding a tool_call object is
// lifted into ToolCall and ToolArgs.
func ParseLineFormat(text string) []Step {
	var (
		steps   []Step
		current *Step
		body    []string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.RawText = strings.TrimSpace(strings.Join(body, "\n"))
		liftToolCall(current)
		steps = append(steps, *current)
	}

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if strings.HasPrefix(line, LinePrefix) {
			flush()
			current = &Step{Name: strings.TrimSpace(line[len(LinePrefix):])}
			body = body[:0]
			continue
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()

	return steps
}

// FormatLines renders steps in the line-tagged format.
func FormatLines(steps []Step) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(LinePrefix)
		b.WriteString(s.Name)
		b.WriteByte('\n')
		if s.RawText != "" {
			b.WriteString(s.RawText)
			b.WriteByte('\n')
		}
		if s.ToolCall != "" || s.ToolArgs != nil || len(s.Extra) > 0 {
			rest := s
			rest.Name = ""
			rest.RawText = ""
			data, err := json.Marshal(rest)
			if err == nil {
				// drop the empty step_name key written first
				b.WriteString("{" + strings.TrimPrefix(string(data), `{"step_name":"",`))
				b.WriteByte('\n')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func liftToolCall(s *Step) {
	if s.Name != NameAction && s.Name != NameExecuteSubtask {
		return
	}
	body := s.RawText
	if converted, ok := ConvertCodeBlock(body); ok {
		body = converted
	}
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "{") {
		return
	}
	var call struct {
		ToolCall string                 `json:"tool_call"`
		ToolArgs map[string]interface{} `json:"tool_args"`
	}
	if err := json.Unmarshal([]byte(body), &call); err != nil || call.ToolCall == "" {
		return
	}
	s.ToolCall = call.ToolCall
	s.ToolArgs = call.ToolArgs
	s.RawText = ""
}
