package coretools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/toolexecutor"
)

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot confines file tools when set. Empty allows any path.
	WorkspaceRoot string
	// CommandTimeout bounds exec_cmd. Defaults to 10 minutes.
	CommandTimeout time.Duration
	// Now is the clock for get_current_time.
	Now func() time.Time
}

// RegisterCoreTools registers baseline runtime and filesystem tools.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tools := []toolexecutor.ToolDefinition{
		execTool(opts),
		readFileTool(opts),
		writeFileTool(opts),
		appendFileTool(opts),
		editFileTool(opts),
		currentTimeTool(opts),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func execTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: "exec_cmd",
		Description: "Execute a command and return [code, stdout, stderr]. " +
			"cmd is a shell string such as \"echo hello\", or a JSON list such as [\"echo\", \"hello\"] to skip the shell.",
		Timeout: opts.CommandTimeout,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "cmd", Type: "string", Description: "Shell command, or a JSON list of argv", Required: true},
			{Name: "no_need_stderr", Type: "boolean", Description: "Discard stderr (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			cmd, _ := params["cmd"].(string)
			argv, shell, err := parseCommand(cmd)
			if err != nil {
				return nil, err
			}
			noStderr, _ := params["no_need_stderr"].(bool)

			cwd := opts.WorkspaceRoot
			if execCtx := toolexecutor.ExecContextFromContext(ctx); execCtx != nil && execCtx.WorkingDir != "" {
				cwd = execCtx.WorkingDir
			}

			res := runCommand(ctx, argv, shell, cwd, nil)
			return res.format(cmd, noStderr, messageLimit(ctx)), nil
		},
	}
}

func readFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: "read_file",
		Description: "Read a file and output its content. Files whose extension is not in " +
			strings.Join(noTruncateExtensions, ", ") + " may be truncated.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "The file path", Required: true},
			{Name: "seek", Type: "integer", Description: "Read from this offset; negative counts from the end (default 0)", Required: false, Default: 0},
			{Name: "size", Type: "integer", Description: "Bytes to read, -1 for all (default -1)", Required: false, Default: -1},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, err := resolvePath(opts.WorkspaceRoot, params["file_path"])
			if err != nil {
				return nil, err
			}
			seek := intParam(params["seek"], 0)
			size := intParam(params["size"], -1)

			limit := -1
			if !noTruncate(target) {
				limit = messageLimit(ctx)
			}
			return readFile(target, int64(seek), int64(size), limit)
		},
	}
}

func writeFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file, replacing it. Returns an empty string on success.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "The file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return writeFile(opts.WorkspaceRoot, params, os.O_TRUNC)
		},
	}
}

func appendFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "append_file",
		Description: "Append content to a file. Returns an empty string on success.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "The file path", Required: true},
			{Name: "content", Type: "string", Description: "Content to append", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return writeFile(opts.WorkspaceRoot, params, os.O_APPEND)
		},
	}
}

func writeFile(root string, params map[string]interface{}, mode int) (interface{}, error) {
	target, err := resolvePath(root, params["file_path"])
	if err != nil {
		return nil, err
	}
	content, _ := params["content"].(string)

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|mode, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := io.WriteString(f, content); err != nil {
		return nil, err
	}
	return "", nil
}

func editFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace text in a file.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file_path", Type: "string", Description: "The file path", Required: true},
			{Name: "search", Type: "string", Description: "Text to search for", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace all occurrences (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target, err := resolvePath(opts.WorkspaceRoot, params["file_path"])
			if err != nil {
				return nil, err
			}
			search, _ := params["search"].(string)
			replace, _ := params["replace"].(string)
			replaceAll, _ := params["replace_all"].(bool)
			if search == "" {
				return nil, fmt.Errorf("search is required")
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return nil, err
			}
			content := string(data)

			n := 1
			if replaceAll {
				n = -1
			}
			occurrences := strings.Count(content, search)
			if occurrences == 0 {
				return nil, fmt.Errorf("search text not found in %s", target)
			}
			if !replaceAll {
				occurrences = 1
			}

			if err := os.WriteFile(target, []byte(strings.Replace(content, search, replace, n)), 0644); err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"file_path":   target,
				"occurrences": occurrences,
			}, nil
		},
	}
}

func currentTimeTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_current_time",
		Description: "Get the current local date and time with the weekday.",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return FormatDate(opts.Now()), nil
		},
	}
}

// FormatDate renders a timestamp as "2006-01-02 15:04:05 Monday".
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02 15:04:05 Monday")
}

func resolvePath(workspaceRoot string, value interface{}) (string, error) {
	pathValue, _ := value.(string)
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("file_path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	if strings.HasPrefix(pathValue, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}

	if workspaceRoot == "" {
		return filepath.Abs(pathValue)
	}

	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(workspaceRoot, candidate)
	if err != nil {
		return "", err
	}
	if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
		return candidate, nil
	}
	return "", fmt.Errorf("path %q is outside workspace root", pathValue)
}

func intParam(value interface{}, fallback int) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

// messageLimit is the truncation size for the calling agent.
func messageLimit(ctx context.Context) int {
	if tracing.GetAgentName(ctx) == WriterAgentName {
		return LargeMessageSize
	}
	return MaxMessageSize
}
