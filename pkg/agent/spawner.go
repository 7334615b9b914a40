package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/commandqueue"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/harun/stepwise/pkg/modes"
	"github.com/harun/stepwise/pkg/toolexecutor"
)

// KitAgent groups the tools that start nested agents. Nested agents never
// see it.
const KitAgent = "agent"

// Tool names.
const (
	WriterToolName     = "agent_writer"
	ProgrammerToolName = "agent_programmer"
	MultitasksToolName = "agent_multitasks"
)

const (
	// MultitaskConcurrency caps parallel writer runs of one agent_multitasks call.
	MultitaskConcurrency = 10

	writerMinTemperature = 0.97
	writerMinMaxTokens   = 1600
	nestedToolTimeout    = 2 * time.Hour

	taskFailed = "task failed"
)

const (
	writerPrompt     = "\nYou are a professional writer.\n"
	programmerPrompt = "\nYou are a professional programmer.\n"
)

// Spawner starts nested Reason-Act-Observe agents on behalf of a running
// agent. Children share the parent's client pool, tools and environment.
type Spawner struct {
	base        Config
	queue       *commandqueue.CommandQueue
	ownsQueue   bool
	concurrency int
}

// NewSpawner creates a spawner from the parent configuration. base.Hooks
// apply to every nested conversation.
func NewSpawner(base Config) (*Spawner, error) {
	if base.Client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if base.Tools == nil {
		return nil, fmt.Errorf("tool executor is required")
	}

	s := &Spawner{
		base:        base,
		queue:       base.Queue,
		concurrency: MultitaskConcurrency,
	}
	if s.queue == nil {
		s.queue = commandqueue.New()
		s.ownsQueue = true
	}
	return s, nil
}

// Close releases the spawner's own queue.
func (s *Spawner) Close() error {
	if s.ownsQueue {
		return s.queue.Close()
	}
	return nil
}

// Writer runs a writing agent. Sampling is raised to at least temperature
// 0.97 and 1600 max tokens. model overrides the model name when set.
func (s *Spawner) Writer(ctx context.Context, message, model string) (Result, error) {
	sampling := s.base.Client.Sampling()
	if sampling.Temperature < writerMinTemperature {
		sampling.Temperature = writerMinTemperature
	}
	if sampling.MaxTokens < writerMinMaxTokens {
		sampling.MaxTokens = writerMinMaxTokens
	}
	if model != "" {
		sampling.Model = model
	}
	return s.run(ctx, WriterToolName, s.base.SystemPrompt+writerPrompt, sampling, message)
}

// Programmer runs a programming agent. systemPrompt is extra prompt text,
// or a file path when it starts with "." or "/".
func (s *Spawner) Programmer(ctx context.Context, message, model, systemPrompt string) (Result, error) {
	sampling := s.base.Client.Sampling()
	if model != "" {
		sampling.Model = model
	}
	prompt := s.base.SystemPrompt + ReadIfPath(systemPrompt) + programmerPrompt
	return s.run(ctx, ProgrammerToolName, prompt, sampling, message)
}

func (s *Spawner) run(ctx context.Context, name, systemPrompt string, sampling llm.Sampling, message string) (Result, error) {
	nestedCtx, child, err := tracing.PropagateToNested(ctx, name)
	if err != nil {
		return Failure, err
	}

	runner, err := NewRunner(Config{
		Name:         name,
		SystemPrompt: systemPrompt,
		ToolPrompt:   s.base.ToolPrompt,
		Mode:         &modes.ReAct{},
		Client:       s.base.Client.WithSampling(sampling),
		Tools:        s.base.Tools.Filtered(toolexecutor.Exclude("kit:" + KitAgent)),
		UseToolCalls: s.base.UseToolCalls,
		Hooks:        s.base.Hooks,
		Env:          s.base.Env,
		WorkingDir:   s.base.WorkingDir,
		ToolTimeout:  s.base.ToolTimeout,
		DumpDir:      s.base.DumpDir,
		Logger:       s.base.Logger,
	})
	if err != nil {
		return Failure, err
	}

	logger := tracing.LoggerFromContext(nestedCtx, s.base.Logger)
	logger.Info().
		Str("path", child.Path()).
		Msg("Starting nested agent")
	return runner.Run(nestedCtx, s.message(message))
}

// message reads message from a file when it is a path and points the
// agent at the workspace.
func (s *Spawner) message(message string) string {
	message = ReadIfPath(message)
	if ws := strings.TrimSpace(s.base.WorkingDir); ws != "" && !strings.Contains(message, "workspace") {
		message += "\n----\nworkspace:`" + ws + "`\n"
	}
	return message
}

func isPath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, ".")
}

// ReadIfPath returns the file content when s looks like a path (leading
// "." or "/") and is readable, and s itself otherwise.
func ReadIfPath(s string) string {
	if !isPath(s) {
		return s
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return s
	}
	return string(data)
}

// MultitaskRequest is the input of Multitasks.
type MultitaskRequest struct {
	Goal  string
	Tasks []string
	// ReportFile is where the summarizing agent is asked to save its report.
	ReportFile string
	// TaskPromptFile is prepended to every task when readable.
	TaskPromptFile string
	Model          string
}

type taskReport struct {
	Task   string `json:"task"`
	Result string `json:"result"`
}

// Multitasks runs one writer per task, at most MultitaskConcurrency at a
// time, then asks a final writer to summarize the joined results against
// the goal. Failed tasks are reported as "task failed".
func (s *Spawner) Multitasks(ctx context.Context, req MultitaskRequest) (Result, error) {
	if len(req.Tasks) == 0 {
		return Failure, errors.New("at least one task is required")
	}
	logger := tracing.LoggerFromContext(ctx, s.base.Logger)

	prefix := ""
	if req.TaskPromptFile != "" {
		if data, err := os.ReadFile(req.TaskPromptFile); err == nil && len(data) > 0 {
			prefix = string(data) + "\n\n----\n\n"
		}
	}

	lane := "multitasks-" + tracing.NewRunID()
	s.queue.SetConcurrency(lane, s.concurrency)
	defer s.queue.RemoveLane(lane)

	reports := make(map[string]taskReport, len(req.Tasks))
	for i, task := range req.Tasks {
		reports[taskKey(i)] = taskReport{Task: task, Result: taskFailed}
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, task := range req.Tasks {
		key := taskKey(i)
		wg.Add(1)
		go func(key, task string) {
			defer wg.Done()
			value, err := s.queue.Enqueue(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
				return s.Writer(taskCtx, prefix+task, req.Model)
			})
			if err != nil {
				logger.Warn().Err(err).Str("task", key).Msg("Task failed")
				return
			}
			result := value.(Result)
			if !result.OK {
				logger.Warn().Str("task", key).Msg("Task produced no answer")
				return
			}
			mu.Lock()
			reports[key] = taskReport{Task: task, Result: result.Text}
			mu.Unlock()
			logger.Info().Str("task", key).Msg("Task is done")
		}(key, task)
	}
	wg.Wait()

	goal := req.Goal
	if !isPath(goal) {
		joined, err := encodeReports(reports)
		if err != nil {
			return Failure, err
		}
		var b strings.Builder
		b.WriteString(goal)
		b.WriteString("\n\n----\n\n")
		if req.ReportFile != "" {
			fmt.Fprintf(&b, "saving the final report to the file:%s\n\n", req.ReportFile)
		}
		b.WriteString(joined)
		b.WriteString("\n\n")
		goal = b.String()
	}
	return s.Writer(ctx, goal, req.Model)
}

func taskKey(i int) string {
	return fmt.Sprintf("task%d", i)
}

func encodeReports(reports map[string]taskReport) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "")
	if err := enc.Encode(reports); err != nil {
		return "", fmt.Errorf("failed to encode task results: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Definitions returns the nested-agent tools.
func (s *Spawner) Definitions() []toolexecutor.ToolDefinition {
	messageParam := toolexecutor.ToolParameter{
		Name:        "msg_or_file",
		Type:        "string",
		Description: "The task message, or a file path whose content is the message",
		Required:    true,
	}
	modelParam := toolexecutor.ToolParameter{
		Name:        "model_name",
		Type:        "string",
		Description: "Model name; omit unless the user asks for one",
	}

	return []toolexecutor.ToolDefinition{
		{
			Name: WriterToolName,
			Description: "A professional writing assistant. It can read large amounts of text " +
				"and returns its final answer.",
			Parameters: []toolexecutor.ToolParameter{messageParam, modelParam},
			Kit:        KitAgent,
			Timeout:    nestedToolTimeout,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return answer(s.Writer(ctx, stringParam(params, "msg_or_file"), stringParam(params, "model_name")))
			},
		},
		{
			Name:        ProgrammerToolName,
			Description: "A professional programming assistant. It returns its final answer.",
			Parameters: []toolexecutor.ToolParameter{
				messageParam,
				modelParam,
				{
					Name:        "system_prompt",
					Type:        "string",
					Description: "Extra system prompt text or a file path; usually omitted",
				},
			},
			Kit:     KitAgent,
			Timeout: nestedToolTimeout,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return answer(s.Programmer(ctx,
					stringParam(params, "msg_or_file"),
					stringParam(params, "model_name"),
					stringParam(params, "system_prompt"),
				))
			},
		},
		{
			Name: MultitasksToolName,
			Description: "Runs writing tasks concurrently, then summarizes their results " +
				"against one goal and returns the final answer.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "goal", Type: "string", Description: "The goal the results are summarized for", Required: true},
				{Name: "tasks", Type: "array", Items: "string", Description: "Independent tasks; each is a message or a file path", Required: true},
				{Name: "goal_report_file", Type: "string", Description: "File path for the final report"},
				{Name: "task_prompt_file", Type: "string", Description: "File with requirements shared by every task"},
				modelParam,
			},
			Kit:     KitAgent,
			Timeout: nestedToolTimeout,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return answer(s.Multitasks(ctx, MultitaskRequest{
					Goal:           stringParam(params, "goal"),
					Tasks:          stringsParam(params, "tasks"),
					ReportFile:     stringParam(params, "goal_report_file"),
					TaskPromptFile: stringParam(params, "task_prompt_file"),
					Model:          stringParam(params, "model_name"),
				}))
			},
		},
	}
}

// RegisterAgentTools registers the nested-agent tools on executor.
func RegisterAgentTools(executor *toolexecutor.ToolExecutor, spawner *Spawner) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	for _, def := range spawner.Definitions() {
		if err := executor.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func answer(result Result, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Text != "" {
			return nil, fmt.Errorf("nested agent failed: %s", result.Text)
		}
		return nil, errors.New("nested agent failed")
	}
	return result.Text, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func stringsParam(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
