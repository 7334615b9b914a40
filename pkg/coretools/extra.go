package coretools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/stepwise/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ExtraToolFile is the YAML document listing command-backed tools.
type ExtraToolFile struct {
	Tools []ExtraTool `yaml:"tools"`
}

// ExtraTool declares a tool that runs a command. Each "{{name}}" in the
// command is replaced by the parameter value.
type ExtraTool struct {
	Name        string                       `yaml:"name"`
	Description string                       `yaml:"description"`
	Command     Command                      `yaml:"command"`
	Dir         string                       `yaml:"dir"`
	Timeout     time.Duration                `yaml:"timeout"`
	Parameters  []toolexecutor.ToolParameter `yaml:"parameters"`
}

// Command is either a shell string or an argv list.
type Command struct {
	Shell string
	Argv  []string
}

// UnmarshalYAML accepts a scalar or a sequence.
func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		c.Shell = value.Value
		return nil
	case yaml.SequenceNode:
		return value.Decode(&c.Argv)
	default:
		return fmt.Errorf("line %d: command must be a string or a list", value.Line)
	}
}

func (c Command) empty() bool {
	return strings.TrimSpace(c.Shell) == "" && len(c.Argv) == 0
}

// Validate checks the declaration.
func (t *ExtraTool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if t.Description == "" {
		return fmt.Errorf("tool %s: description cannot be empty", t.Name)
	}
	if t.Command.empty() {
		return fmt.Errorf("tool %s: command cannot be empty", t.Name)
	}
	for i, p := range t.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool %s: parameter %d: name cannot be empty", t.Name, i)
		}
	}
	return nil
}

// LoadExtraTools reads every YAML file in the list, in order.
func LoadExtraTools(paths []string) ([]ExtraTool, error) {
	var tools []ExtraTool
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read tool file %s: %w", path, err)
		}

		var file ExtraToolFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML %s: %w", path, err)
		}
		for i := range file.Tools {
			if err := file.Tools[i].Validate(); err != nil {
				return nil, fmt.Errorf("invalid tool in %s: %w", path, err)
			}
			if file.Tools[i].Dir != "" && !filepath.IsAbs(file.Tools[i].Dir) {
				file.Tools[i].Dir = filepath.Join(filepath.Dir(path), file.Tools[i].Dir)
			}
		}
		tools = append(tools, file.Tools...)

		log.Debug().Str("file", path).Int("tools", len(file.Tools)).Msg("Loaded extra tools")
	}
	return tools, nil
}

// RegisterExtraTools loads the files and registers their tools.
func RegisterExtraTools(executor *toolexecutor.ToolExecutor, paths []string) error {
	tools, err := LoadExtraTools(paths)
	if err != nil {
		return err
	}
	for _, t := range tools {
		if err := executor.RegisterTool(t.Definition()); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.Name, err)
		}
	}
	return nil
}

// Definition converts the declaration into a registrable tool.
func (t ExtraTool) Definition() toolexecutor.ToolDefinition {
	params := t.Parameters
	for i := range params {
		if params[i].Type == "" {
			params[i].Type = "string"
		}
		if params[i].Description == "" {
			params[i].Description = params[i].Name
		}
	}

	return toolexecutor.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
		Kit:         "extra",
		Timeout:     t.Timeout,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			var res commandResult
			if t.Command.Shell != "" {
				res = runCommand(ctx, []string{render(t.Command.Shell, args, shellQuote)}, true, t.Dir, nil)
			} else {
				argv := make([]string, len(t.Command.Argv))
				for i, a := range t.Command.Argv {
					argv[i] = render(a, args, nil)
				}
				res = runCommand(ctx, argv, false, t.Dir, nil)
			}
			return res.format(t.Name, false, messageLimit(ctx)), nil
		},
	}
}

func render(tmpl string, args map[string]interface{}, quote func(string) string) string {
	for name, v := range args {
		s := fmt.Sprintf("%v", v)
		if quote != nil {
			s = quote(s)
		}
		tmpl = strings.ReplaceAll(tmpl, "{{"+name+"}}", s)
	}
	return tmpl
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
