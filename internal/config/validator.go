package config

import (
	"fmt"
	"strings"

	"github.com/harun/stepwise/pkg/llm"
	"github.com/harun/stepwise/pkg/modes"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	if provider == llm.ProviderAnthropic && !strings.HasPrefix(key, "sk-ant-") {
		return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
	}

	// OpenAI-compatible gateways issue keys in many formats.
	return nil
}

// ValidateProvider validates an endpoint provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch strings.ToLower(provider) {
	case "", llm.ProviderOpenAI, llm.ProviderAnthropic:
		return nil
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s, %s)", provider, llm.ProviderOpenAI, llm.ProviderAnthropic)
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateTopP validates nucleus sampling
func (v *Validator) ValidateTopP(topP float64) error {
	if topP <= 0 || topP > 1 {
		return fmt.Errorf("top_p must be in (0,1], got %f", topP)
	}
	return nil
}

// ValidateFrequencyPenalty validates the frequency penalty
func (v *Validator) ValidateFrequencyPenalty(p float64) error {
	if p < -2 || p > 2 {
		return fmt.Errorf("frequency_penalty must be between -2 and 2, got %f", p)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	if _, err := zerolog.ParseLevel(level); err != nil || level == "" {
		return fmt.Errorf("invalid log level: %q (must be one of: debug, info, warn, error)", level)
	}
	return nil
}

// ValidateMode validates the run loop mode
func (v *Validator) ValidateMode(mode string) error {
	switch mode {
	case "", modes.ReActName, modes.PlanAndExecuteName:
		return nil
	}
	return fmt.Errorf("invalid mode: %s (must be one of: %s, %s)", mode, modes.ReActName, modes.PlanAndExecuteName)
}

// ValidateSchedule validates a janitor cron schedule
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil // Use default
	}
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid archive schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, e := range cfg.Endpoints() {
		if err := v.ValidateProvider(e.Provider); err != nil {
			errors = append(errors, fmt.Errorf("model endpoint %d: %w", i, err))
		}
	}
	if err := v.ValidateProvider(cfg.Model.Provider); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxTokens(cfg.Model.MaxTokens); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTemperature(cfg.Model.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTopP(cfg.Model.TopP); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateFrequencyPenalty(cfg.Model.FrequencyPenalty); err != nil {
		errors = append(errors, err)
	}

	if err := cfg.History().Validate(); err != nil {
		errors = append(errors, fmt.Errorf("context: %w", err))
	}

	if err := v.ValidateMode(cfg.Agent.Mode); err != nil {
		errors = append(errors, err)
	}
	if cfg.Agent.ToolTimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("agent.tool_timeout_seconds must be >= 0"))
	}

	if err := v.ValidateSchedule(cfg.Archive.Schedule); err != nil {
		errors = append(errors, err)
	}
	if cfg.Archive.RetentionSeconds < 0 {
		errors = append(errors, fmt.Errorf("archive.retention_seconds must be >= 0"))
	}
	if cfg.Archive.MaxSessions < 0 {
		errors = append(errors, fmt.Errorf("archive.max_sessions must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
