package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor scrubs credentials from log output. Endpoint pool strings carry
// api keys inline, so both bare keys and key=value pairs are covered.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// API keys
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{16,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{16,}`),

			// Bearer tokens
			regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]+`),

			// api_key=K in endpoint settings, "api_key":"K" in JSON
			regexp.MustCompile(`(?i)(api[_-]?key\\?"?\s*[:=]\s*\\?"?)[^\s",;\\]+`),

			// Generic secrets
			regexp.MustCompile(`(?i)(secret|password)(\\?"?\s*[:=]\s*\\?"?)[^\s",;\\]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces sensitive values. Key names in key=value pairs are kept.
func (r *Redactor) Redact(s string) string {
	for _, re := range r.patterns {
		switch re.NumSubexp() {
		case 0:
			s = re.ReplaceAllString(s, redacted)
		case 1:
			s = re.ReplaceAllString(s, "${1}"+redacted)
		default:
			s = re.ReplaceAllString(s, "${1}${2}"+redacted)
		}
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers never see a short write for
// text that shrank.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
