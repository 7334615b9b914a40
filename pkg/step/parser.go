package step

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrDecode is returned when model output cannot be turned into steps.
var ErrDecode = errors.New("invalid step output")

// ErrEmpty is returned for a blank reply.
var ErrEmpty = errors.New("empty step output")

// MaxDecodeAttempts bounds decoding, the strict decode included.
const MaxDecodeAttempts = 3

// Parse converts raw model text into an ordered list of steps.
//
// The strict decode is the first of MaxDecodeAttempts attempts. Each further
// attempt applies the repair heuristics cumulatively and decodes again. A
// line-tagged reply is parsed without repair.
func Parse(rawText string) ([]Step, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return nil, ErrEmpty
	}

	if IsLineFormat(text) {
		steps := ParseLineFormat(text)
		if len(steps) == 0 {
			return nil, fmt.Errorf("%w: no tagged steps", ErrDecode)
		}
		return steps, nil
	}

	steps, err := decode(text)
	if err == nil {
		return steps, nil
	}

	lastErr := err
	for attempt := 1; attempt < MaxDecodeAttempts; attempt++ {
		repaired := Repair(text)
		if repaired == text {
			break
		}
		text = repaired

		steps, err = decode(text)
		if err == nil {
			return steps, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrDecode, lastErr)
}

// FromValue normalizes an already decoded value (a mapping or a list of
// mappings) into steps.
func FromValue(v interface{}) ([]Step, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return decode(string(data))
}

func decode(text string) ([]Step, error) {
	data := bytes.TrimSpace([]byte(text))
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	switch data[0] {
	case '{':
		var s Step
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return []Step{s}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		steps := make([]Step, 0, len(items))
		for _, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) > 0 && item[0] == '[' {
				// a fenced block that already held a list
				nested, err := decode(string(item))
				if err != nil {
					return nil, err
				}
				steps = append(steps, nested...)
				continue
			}
			var s Step
			if err := json.Unmarshal(item, &s); err != nil {
				return nil, err
			}
			steps = append(steps, s)
		}
		return steps, nil
	default:
		return nil, fmt.Errorf("unexpected leading character %q", data[0])
	}
}
