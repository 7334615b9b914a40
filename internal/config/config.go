package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/stepwise/pkg/archive"
	"github.com/harun/stepwise/pkg/history"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/harun/stepwise/pkg/modes"
)

// Config represents the main stepwise configuration
type Config struct {
	// Model endpoints and sampling
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Context reduction thresholds
	Context ContextConfig `json:"context" mapstructure:"context"`

	// Agent run loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Archive maintenance
	Archive ArchiveConfig `json:"archive" mapstructure:"archive"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace path
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`

	// Debug turns on debug logging and interactive mode
	Debug bool `json:"debug" mapstructure:"debug"`
}

// ModelConfig holds the endpoint pool and sampling parameters
type ModelConfig struct {
	Name     string `json:"name" mapstructure:"name"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	APIBase  string `json:"api_base" mapstructure:"api_base"`
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic
	// Settings is the endpoint pool: api_key=K,api_base=B[,provider=P][,model=M];...
	Settings         string  `json:"settings" mapstructure:"settings"`
	MaxTokens        int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature      float64 `json:"temperature" mapstructure:"temperature"`
	TopP             float64 `json:"top_p" mapstructure:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty" mapstructure:"frequency_penalty"`
	UseToolCalls     bool    `json:"use_tool_calls" mapstructure:"use_tool_calls"`
}

// ContextConfig holds the conversation reduction thresholds
type ContextConfig struct {
	MaxMessages  int     `json:"max_messages" mapstructure:"max_messages"`
	TokenCeiling int     `json:"token_ceiling" mapstructure:"token_ceiling"`
	TokenRatio   float64 `json:"token_ratio" mapstructure:"token_ratio"`
}

// AgentConfig configures the run loop
type AgentConfig struct {
	Mode         string `json:"mode" mapstructure:"mode"` // react, plan-and-execute
	Interactive  bool   `json:"interactive" mapstructure:"interactive"`
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
	ToolPrompt   string `json:"tool_prompt" mapstructure:"tool_prompt"`
	// EnvPrompt is appended to the environment block, or read from a file
	// when it starts with "." or "/".
	EnvPrompt string `json:"env_prompt" mapstructure:"env_prompt"`
	// PluginTools is a ";"-separated list of YAML tool declaration files.
	PluginTools string `json:"plugin_tools" mapstructure:"plugin_tools"`
	// ToolTimeoutSeconds bounds tools without their own timeout. Zero keeps the executor default.
	ToolTimeoutSeconds int `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
}

// ArchiveConfig configures archive maintenance
type ArchiveConfig struct {
	Schedule         string `json:"schedule" mapstructure:"schedule"`
	RetentionSeconds int    `json:"retention_seconds" mapstructure:"retention_seconds"`
	MaxSessions      int    `json:"max_sessions" mapstructure:"max_sessions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	sampling := llm.DefaultConfig().Sampling
	thresholds := history.DefaultConfig()

	return &Config{
		Model: ModelConfig{
			Name:             sampling.Model,
			Provider:         llm.ProviderOpenAI,
			MaxTokens:        sampling.MaxTokens,
			Temperature:      sampling.Temperature,
			TopP:             sampling.TopP,
			FrequencyPenalty: sampling.FrequencyPenalty,
		},
		Context: ContextConfig{
			MaxMessages:  thresholds.MaxMessages,
			TokenCeiling: thresholds.TokenCeiling,
			TokenRatio:   thresholds.TokenRatio,
		},
		Agent: AgentConfig{
			Mode: modes.ReActName,
		},
		Archive: ArchiveConfig{
			Schedule:         archive.DefaultJanitorSchedule,
			RetentionSeconds: int(archive.DefaultRetention / time.Second),
			MaxSessions:      100,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks that the model is reachable. Value ranges are checked by
// Validator.
func (c *Config) Validate() error {
	if len(c.Endpoints()) == 0 && c.Model.APIKey == "" {
		return fmt.Errorf("no model credentials configured: set OPENAI_API_KEY or MODEL_SETTINGS")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model name is required")
	}
	return nil
}

// Endpoints returns the parsed MODEL_SETTINGS pool.
func (c *Config) Endpoints() []llm.Endpoint {
	return llm.ParseModelSettings(c.Model.Settings)
}

// DefaultEndpoint returns the single endpoint used when the pool is empty.
func (c *Config) DefaultEndpoint() llm.Endpoint {
	return llm.Endpoint{
		APIKey:   c.Model.APIKey,
		APIBase:  c.Model.APIBase,
		Provider: c.Model.Provider,
	}
}

// Sampling returns the sampling parameters for the model client.
func (c *Config) Sampling() llm.Sampling {
	return llm.Sampling{
		Model:            c.Model.Name,
		MaxTokens:        c.Model.MaxTokens,
		Temperature:      c.Model.Temperature,
		TopP:             c.Model.TopP,
		FrequencyPenalty: c.Model.FrequencyPenalty,
	}
}

// History returns the context reduction thresholds.
func (c *Config) History() history.Config {
	return history.Config{
		MaxMessages:  c.Context.MaxMessages,
		TokenCeiling: c.Context.TokenCeiling,
		TokenRatio:   c.Context.TokenRatio,
	}
}

// PluginToolFiles splits the plugin tool list.
func (c *Config) PluginToolFiles() []string {
	var files []string
	for _, f := range strings.Split(c.Agent.PluginTools, ";") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

// Retention returns the archive retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Archive.RetentionSeconds) * time.Second
}

// ToolTimeout returns the per-call tool timeout, zero for the default.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Agent.ToolTimeoutSeconds) * time.Second
}

// ArchivePath returns the archive database path.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir, "archive.db")
}

// SessionsPath returns the session database path.
func (c *Config) SessionsPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// DumpDir returns the message dump directory.
func (c *Config) DumpDir() string {
	return filepath.Join(c.DataDir, "dumps")
}
