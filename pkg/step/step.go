package step

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Control tags emitted by the model.
const (
	NameTask           = "task"
	NameThought        = "thought"
	NameAction         = "action"
	NameObservation    = "observation"
	NameFinalAnswer    = "final_answer"
	NameArchive        = "archive"
	NameTaskAsk        = "task-ask"
	NameExecuteSubtask = "execute-subtask"
	NameFinal          = "final"
	NamePlanAnalysis   = "plan-analysis"
	NamePlanList       = "plan-list"
	NameReplanList     = "replan-list"
)

// Step is one tagged unit of model output.
//
// Unknown keys are kept in Extra so a step survives a decode/encode cycle
// without losing fields a particular prompt asked the model for.
type Step struct {
	Name     string                     `json:"step_name"`
	RawText  string                     `json:"raw_text,omitempty"`
	ToolCall string                     `json:"tool_call,omitempty"`
	ToolArgs map[string]interface{}     `json:"tool_args,omitempty"`
	Extra    map[string]json.RawMessage `json:"-"`
}

// New returns a step carrying only a tag and text.
func New(name, rawText string) Step {
	return Step{Name: name, RawText: rawText}
}

// FieldCount reports how many keys the step serializes to.
func (s Step) FieldCount() int {
	n := 1
	if s.RawText != "" {
		n++
	}
	if s.ToolCall != "" {
		n++
	}
	if s.ToolArgs != nil {
		n++
	}
	return n + len(s.Extra)
}

// MarshalJSON writes step_name first, then the known fields, then extras in key order.
func (s Step) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, value interface{}) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		v, err := marshalNoEscape(value)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
		buf.Write(v)
		return nil
	}

	if err := write("step_name", s.Name); err != nil {
		return nil, err
	}
	if s.RawText != "" {
		if err := write("raw_text", s.RawText); err != nil {
			return nil, err
		}
	}
	if s.ToolCall != "" {
		if err := write("tool_call", s.ToolCall); err != nil {
			return nil, err
		}
	}
	if s.ToolArgs != nil {
		if err := write("tool_args", s.ToolArgs); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(s.Extra))
	for k := range s.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, s.Extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts raw_text of any JSON type; non-string values are kept as compact JSON.
func (s *Step) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*s = Step{}
	for key, raw := range fields {
		switch key {
		case "step_name":
			if err := json.Unmarshal(raw, &s.Name); err != nil {
				return fmt.Errorf("step_name must be a string: %w", err)
			}
		case "raw_text":
			s.RawText = textOf(raw)
		case "tool_call":
			s.ToolCall = textOf(raw)
		case "tool_args":
			if isNull(raw) {
				continue
			}
			args := map[string]interface{}{}
			if err := json.Unmarshal(raw, &args); err != nil {
				// some models send the arguments as an encoded string
				var encoded string
				if json.Unmarshal(raw, &encoded) != nil || json.Unmarshal([]byte(encoded), &args) != nil {
					return fmt.Errorf("tool_args must be an object: %w", err)
				}
			}
			s.ToolArgs = args
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]json.RawMessage)
			}
			s.Extra[key] = append(json.RawMessage(nil), raw...)
		}
	}

	if s.Name == "" {
		return fmt.Errorf("step_name is required")
	}
	return nil
}

// Marshal serializes a step list the way it is stored in a message.
func Marshal(steps []Step) (string, error) {
	if steps == nil {
		steps = []Step{}
	}
	data, err := marshalNoEscape(steps)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MustMarshal is Marshal for steps built in code.
func MustMarshal(steps ...Step) string {
	s, err := Marshal(steps)
	if err != nil {
		panic(err)
	}
	return s
}

func textOf(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// JSON serializes a single step as an object.
func (s Step) JSON() string {
	data, err := marshalNoEscape(s)
	if err != nil {
		return fmt.Sprintf(`{"step_name":%q}`, s.Name)
	}
	return string(data)
}
