package llm

import (
	"fmt"
	"strings"
	"time"
)

// Provider names accepted in an endpoint's provider field.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ProviderFactory builds SDK-backed backends, choosing the SDK by the
// endpoint's provider field. An empty provider means OpenAI-compatible.
type ProviderFactory struct {
	// Timeout bounds one request. Zero leaves the SDK default.
	Timeout time.Duration
}

// NewBackend implements BackendFactory.
func (f *ProviderFactory) NewBackend(endpoint Endpoint) (Backend, error) {
	if endpoint.APIKey == "" {
		return nil, fmt.Errorf("endpoint %s has no api key", endpoint.APIBase)
	}
	switch strings.ToLower(endpoint.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAIBackend(endpoint, f.Timeout), nil
	case ProviderAnthropic:
		return NewAnthropicBackend(endpoint, f.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", endpoint.Provider)
	}
}
