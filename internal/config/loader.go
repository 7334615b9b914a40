package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	appDir         = ".stepwise"
	configFileName = "stepwise.json"
	logFileName    = "stepwise.log"
)

// envBindings maps config keys to the environment variables that set them.
// MAX_TOKENS feeds both the sampling limit and the context token ceiling.
var envBindings = []struct {
	key string
	env string
}{
	{"model.name", "OPENAI_MODEL"},
	{"model.api_key", "OPENAI_API_KEY"},
	{"model.api_base", "OPENAI_API_BASE"},
	{"model.settings", "MODEL_SETTINGS"},
	{"model.max_tokens", "MAX_TOKENS"},
	{"model.temperature", "TEMPERATURE"},
	{"model.top_p", "TOP_P"},
	{"model.frequency_penalty", "FREQUENCY_PENALTY"},
	{"model.use_tool_calls", "USE_TOOL_CALLS"},
	{"context.max_messages", "CONTEXT_MESSAGES_SLIM_THRESHOLD_LENGTH"},
	{"context.token_ceiling", "MAX_TOKENS"},
	{"agent.env_prompt", "ENV_PROMPT"},
	{"agent.plugin_tools", "PLUGIN_TOOLS"},
	{"debug", "DEBUG"},
	{"data_dir", "STEPWISE_DATA_DIR"},
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file when it exists and applies the environment on top.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := viper.New()
	v.SetConfigType("json")
	for _, b := range envBindings {
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", b.env, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Debug {
		cfg.Logging.Level = "debug"
		cfg.Agent.Interactive = true
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, appDir)
	}

	// Set logging file path if not specified
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, logFileName)
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("model", cfg.Model)
	v.Set("context", cfg.Context)
	v.Set("agent", cfg.Agent)
	v.Set("archive", cfg.Archive)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)
	v.Set("workspace_path", cfg.WorkspacePath)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, appDir, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
