package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Kind names an error class.
type Kind string

const (
	KindNone          Kind = ""
	KindDecode        Kind = "decode"
	KindEmpty         Kind = "empty_reply"
	KindRateLimit     Kind = "rate_limit"
	KindServer        Kind = "server_error"
	KindConnection    Kind = "connection"
	KindTimeout       Kind = "timeout"
	KindPermission    Kind = "permission_denied"
	KindBadRequest    Kind = "bad_request"
	KindContextLength Kind = "context_length"
	KindCanceled      Kind = "canceled"
	KindUnknown       Kind = "unknown"
)

// Status is the coarse result of one attempt.
type Status int

const (
	StatusSuccess Status = iota
	StatusRetryable
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Outcome is a classified attempt result.
type Outcome struct {
	Status Status
	Kind   Kind
	Err    error
}

// ExtendsBudget reports whether a late failure of this kind earns one more attempt.
func (o Outcome) ExtendsBudget() bool {
	switch o.Kind {
	case KindRateLimit, KindServer, KindConnection, KindTimeout:
		return o.Status == StatusRetryable
	}
	return false
}

func (o Outcome) String() string {
	if o.Kind == KindNone {
		return o.Status.String()
	}
	return fmt.Sprintf("%s(%s)", o.Status, o.Kind)
}

// StatusError is an HTTP status failure from a backend without an SDK error type.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// DecodeError wraps a Decoder failure.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode reply: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrEmptyReply is returned when the backend answers with no text and no tool calls.
var ErrEmptyReply = errors.New("null of response")

// Classify maps an attempt error to an outcome. ctx is the caller's context;
// its cancellation is fatal while a per-request deadline is a retryable timeout.
func Classify(ctx context.Context, err error) Outcome {
	if err == nil {
		return Outcome{Status: StatusSuccess}
	}
	if ctx != nil && ctx.Err() != nil {
		return Outcome{Status: StatusFatal, Kind: KindCanceled, Err: err}
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return retryable(KindDecode, err)
	}
	if errors.Is(err, ErrEmptyReply) {
		return retryable(KindEmpty, err)
	}

	if code, msg, ok := statusOf(err); ok {
		return classifyStatus(code, msg, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return retryable(KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return retryable(KindTimeout, err)
		}
		return retryable(KindConnection, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return retryable(KindConnection, err)
	}

	return Outcome{Status: StatusFatal, Kind: KindUnknown, Err: err}
}

func classifyStatus(code int, msg string, err error) Outcome {
	switch {
	case code == 429:
		return retryable(KindRateLimit, err)
	case code == 408:
		return retryable(KindTimeout, err)
	case code >= 500:
		return retryable(KindServer, err)
	case code == 403:
		return retryable(KindPermission, err)
	case code == 400:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "exceed") || strings.Contains(lower, "maximum context") {
			return retryable(KindContextLength, err)
		}
		return retryable(KindBadRequest, err)
	default:
		return Outcome{Status: StatusFatal, Kind: KindUnknown, Err: err}
	}
}

func statusOf(err error) (int, string, bool) {
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode, openaiErr.Error(), true
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, anthropicErr.Error(), true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, statusErr.Message, true
	}
	return 0, "", false
}

func retryable(kind Kind, err error) Outcome {
	return Outcome{Status: StatusRetryable, Kind: kind, Err: err}
}
