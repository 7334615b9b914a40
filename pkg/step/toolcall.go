package step

import (
	"encoding/json"
	"strings"
)

// ToolCallInfo is a normalized tool invocation request.
type ToolCallInfo struct {
	FuncName string
	FuncArgs map[string]interface{}
}

// StructuredCall is a tool call carried on the response envelope rather than
// inside the step text.
type StructuredCall struct {
	Name      string
	Arguments string
}

// ExtractToolCall resolves a tool call with a fixed precedence: the first
// structured call on the response, then the step's tool_call/tool_args, then a
// JSON object (optionally fenced) inside raw_text. The first source that yields
// a function name wins.
func ExtractToolCall(s Step, structured []StructuredCall) (ToolCallInfo, bool) {
	if info, ok := fromStructured(structured); ok {
		return info, true
	}
	if info, ok := fromFields(s); ok {
		return info, true
	}
	return fromRawText(s.RawText)
}

func fromStructured(calls []StructuredCall) (ToolCallInfo, bool) {
	if len(calls) == 0 || calls[0].Name == "" {
		return ToolCallInfo{}, false
	}
	args := map[string]interface{}{}
	if strings.TrimSpace(calls[0].Arguments) != "" {
		if err := json.Unmarshal([]byte(calls[0].Arguments), &args); err != nil {
			args = map[string]interface{}{}
		}
	}
	return ToolCallInfo{FuncName: calls[0].Name, FuncArgs: args}, true
}

func fromFields(s Step) (ToolCallInfo, bool) {
	if s.ToolCall == "" {
		return ToolCallInfo{}, false
	}
	return ToolCallInfo{FuncName: s.ToolCall, FuncArgs: orEmpty(s.ToolArgs)}, true
}

func fromRawText(raw string) (ToolCallInfo, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ToolCallInfo{}, false
	}
	if converted, ok := ConvertCodeBlock(text); ok {
		text = converted
	}

	candidates, err := decodeCandidates(text)
	if err != nil {
		repaired := Repair(text)
		if repaired == text {
			return ToolCallInfo{}, false
		}
		if candidates, err = decodeCandidates(repaired); err != nil {
			return ToolCallInfo{}, false
		}
	}

	for _, c := range candidates {
		name := textOf(c["tool_call"])
		if name == "" {
			continue
		}
		args := map[string]interface{}{}
		if raw, ok := c["tool_args"]; ok && !isNull(raw) {
			_ = json.Unmarshal(raw, &args)
		}
		return ToolCallInfo{FuncName: name, FuncArgs: args}, true
	}
	return ToolCallInfo{}, false
}

// decodeCandidates reads text as one object or a list of objects.
func decodeCandidates(text string) ([]map[string]json.RawMessage, error) {
	if strings.HasPrefix(text, "[") {
		var list []map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var single map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &single); err != nil {
		return nil, err
	}
	return []map[string]json.RawMessage{single}, nil
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
