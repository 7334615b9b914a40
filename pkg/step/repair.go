package step

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxTailFragment is the longest trailing fragment after a list close that is
// considered noise.
const maxTailFragment = 11

// ConvertCodeBlock turns one or more ```json fenced blocks into a single JSON
// list. It reports false when the text does not start with a json fence.
func ConvertCodeBlock(content string) (string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```json") {
		return "", false
	}

	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", ",")
	content = strings.TrimSpace(content)
	if !strings.HasSuffix(content, ",") {
		return "", false
	}
	return "[" + content[:len(content)-1] + "]", true
}

// Repair applies the first matching fix for a known model mistake and returns
// the transformed text. Text that matches no heuristic is returned trimmed.
func Repair(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return content
	}

	// unclosed list
	if content[0] == '[' && !strings.HasSuffix(content, "]") && !strings.Contains(content, "]\n") {
		log.Debug().Msg("Repairing model output: missing list close")
		if strings.HasSuffix(content, "\n}") {
			candidate := content + "}]"
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
		return content + "]"
	}

	// list closed early, followed by a newline and junk
	if content[0] == '[' && strings.Contains(content, "]\n") {
		if i := strings.Index(content, "\n]"); i > 0 {
			log.Debug().Msg("Repairing model output: text after list close")
			return content[:i+2]
		}
	}

	if converted, ok := ConvertCodeBlock(content); ok {
		log.Debug().Msg("Repairing model output: fenced code block")
		return converted
	}

	if content[0] == '[' {
		// object closed one brace short
		i := strings.Index(content, "\n}\n]")
		fixed := strings.Index(content, "\n}\n}\n]")
		if i > 0 && fixed < 0 {
			log.Debug().Msg("Repairing model output: missing object close")
			return content[:i] + "\n}" + content[i:]
		}

		// short trailing fragment
		if i := strings.Index(content, "\n]"); i > 0 {
			tail := strings.TrimSpace(content[i+2:])
			if tail != "" && len(tail) < maxTailFragment {
				log.Debug().Str("tail", tail).Msg("Repairing model output: trailing fragment")
				return content[:i+2]
			}
		}
	}

	return content
}
