package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading from stdin
func NewWizard() *Wizard {
	return NewWizardIO(os.Stdin, os.Stdout)
}

// NewWizardIO creates a wizard over the given streams
func NewWizardIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run walks through the model endpoint, sampling and logging settings,
// starting from base.
func (w *Wizard) Run(base *Config) (*Config, error) {
	fmt.Fprintln(w.out, "=== stepwise configuration ===")
	fmt.Fprintln(w.out)

	cfg := base
	if cfg == nil {
		cfg = DefaultConfig()
	}
	validator := NewValidator()

	// Endpoint
	fmt.Fprintln(w.out, "Model endpoint:")
	for {
		provider, err := w.ask("Provider (openai/anthropic)", cfg.Model.Provider)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateProvider(provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Model.Provider = strings.ToLower(provider)
		break
	}

	for {
		key, err := w.ask("API key (press Enter to keep current)", "")
		if err != nil {
			return nil, err
		}
		if key == "" {
			if cfg.Model.APIKey == "" && cfg.Model.Settings == "" {
				fmt.Fprintln(w.out, "Error: an API key is required")
				continue
			}
			break
		}
		if err := validator.ValidateAPIKey(key, cfg.Model.Provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Model.APIKey = key
		break
	}

	apiBase, err := w.ask("API base URL", cfg.Model.APIBase)
	if err != nil {
		return nil, err
	}
	cfg.Model.APIBase = apiBase

	model, err := w.ask("Model name", cfg.Model.Name)
	if err != nil {
		return nil, err
	}
	cfg.Model.Name = model

	fmt.Fprintln(w.out)

	// Sampling
	fmt.Fprintln(w.out, "Sampling:")
	temp, err := w.ask("Temperature", strconv.FormatFloat(cfg.Model.Temperature, 'f', -1, 64))
	if err != nil {
		return nil, err
	}
	if value, perr := strconv.ParseFloat(temp, 64); perr != nil || validator.ValidateTemperature(value) != nil {
		fmt.Fprintf(w.out, "Warning: invalid temperature %q, keeping %v\n", temp, cfg.Model.Temperature)
	} else {
		cfg.Model.Temperature = value
	}

	tokens, err := w.ask("Max tokens", strconv.Itoa(cfg.Model.MaxTokens))
	if err != nil {
		return nil, err
	}
	if value, perr := strconv.Atoi(tokens); perr != nil || validator.ValidateMaxTokens(value) != nil {
		fmt.Fprintf(w.out, "Warning: invalid max tokens %q, keeping %d\n", tokens, cfg.Model.MaxTokens)
	} else {
		cfg.Model.MaxTokens = value
	}

	fmt.Fprintln(w.out)

	// Mode
	mode, err := w.ask("Agent mode (react/plan-and-execute)", cfg.Agent.Mode)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateMode(mode); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Agent.Mode)
	} else {
		cfg.Agent.Mode = mode
	}

	// Log Level
	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Logging.Level)
	} else {
		cfg.Logging.Level = level
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

// ask prints a prompt with its default and returns the answer or the default.
func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}
	line, err := w.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
