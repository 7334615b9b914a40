package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/harun/stepwise/pkg/agent"
	"github.com/harun/stepwise/pkg/archive"
	"github.com/harun/stepwise/pkg/commandqueue"
	"github.com/harun/stepwise/pkg/coretools"
	"github.com/harun/stepwise/pkg/history"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/harun/stepwise/pkg/modes"
	"github.com/harun/stepwise/pkg/session"
	"github.com/harun/stepwise/pkg/toolexecutor"
)

var (
	// backendFactory overrides the SDK backends. Nil uses llm.ProviderFactory.
	backendFactory llm.BackendFactory
	// newCounter builds the token counter for the context threshold.
	newCounter = func() history.Counter { return history.NewTiktokenCounter() }
)

// runOptions are the per-invocation settings of an agent run.
type runOptions struct {
	SessionID    string
	Mode         string
	SystemPrompt string
	Interactive  bool
	Stream       bool
	Dump         bool
	Resume       bool
	Out          io.Writer
}

// agentStack is a fully wired agent and what must be released after it.
type agentStack struct {
	runner  *agent.Runner
	spawner *agent.Spawner
	queue   *commandqueue.CommandQueue
	input   *modes.ReadlineInput
}

// Close releases the nested-agent queue, the session queue and the terminal.
func (s *agentStack) Close() error {
	if s.spawner != nil {
		s.spawner.Close()
	}
	s.queue.Close()
	if s.input != nil {
		return s.input.Close()
	}
	return nil
}

// buildAgent wires the model client, the tools, the context hooks and the
// run loop from the configuration.
func (a *app) buildAgent(opts runOptions) (*agentStack, error) {
	cfg := a.cfg

	modeName := opts.Mode
	if modeName == "" {
		modeName = cfg.Agent.Mode
	}
	interactive := opts.Interactive || cfg.Agent.Interactive

	clientCfg := llm.DefaultConfig()
	clientCfg.Sampling = cfg.Sampling()
	clientCfg.Endpoints = cfg.Endpoints()
	clientCfg.Default = cfg.DefaultEndpoint()
	clientCfg.Factory = backendFactory
	clientCfg.Logger = a.logger("llm")
	client, err := llm.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	if opts.Stream && opts.Out != nil {
		out := opts.Out
		client.AddSender(llm.ContentSenderFunc(func(content string) {
			fmt.Fprint(out, content)
		}))
	}

	tools := toolexecutor.New()
	if err := coretools.RegisterCoreTools(tools, coretools.Options{WorkspaceRoot: cfg.WorkspacePath}); err != nil {
		return nil, fmt.Errorf("failed to register core tools: %w", err)
	}
	if err := coretools.RegisterExtraTools(tools, cfg.PluginToolFiles()); err != nil {
		return nil, fmt.Errorf("failed to register plugin tools: %w", err)
	}
	if err := archive.RegisterRetrieveTool(tools, a.archive); err != nil {
		return nil, fmt.Errorf("failed to register retrieve tool: %w", err)
	}

	counter := newCounter()
	linker, err := archive.NewLinker(archive.LinkerConfig{
		Store:     a.archive,
		Threshold: history.NewThreshold(cfg.History(), counter),
		Counter:   counter,
		Logger:    a.logger("linker"),
	})
	if err != nil {
		return nil, err
	}
	// Messages reach the session store before the linker shrinks them.
	var hooks []history.Hook
	if opts.SessionID != "" {
		hooks = append(hooks, session.NewHook(a.sessions, a.logger("session")))
	}
	hooks = append(hooks, linker)

	var input *modes.ReadlineInput
	var human modes.HumanInput
	if interactive {
		input, err = modes.NewReadlineInput(filepath.Join(cfg.DataDir, "input_history"))
		if err != nil {
			return nil, err
		}
		human = input
	}
	stack := &agentStack{input: input, queue: commandqueue.New()}
	fail := func(err error) (*agentStack, error) {
		stack.Close()
		return nil, err
	}

	mode, err := modes.New(modeName, interactive, human)
	if err != nil {
		return fail(err)
	}

	userPrompt := strings.TrimSpace(agent.ReadIfPath(firstNonEmpty(opts.SystemPrompt, cfg.Agent.SystemPrompt)))
	env := func() string {
		return history.EnvBlock(history.EnvOptions{Extra: cfg.Agent.EnvPrompt})
	}
	dumpDir := ""
	if opts.Dump {
		dumpDir = cfg.DumpDir()
	}

	base := agent.Config{
		ToolPrompt:   cfg.Agent.ToolPrompt,
		Client:       client,
		Tools:        tools,
		UseToolCalls: cfg.Model.UseToolCalls,
		Stream:       opts.Stream,
		Hooks:        hooks,
		Env:          env,
		SessionID:    opts.SessionID,
		WorkingDir:   cfg.WorkspacePath,
		ToolTimeout:  cfg.ToolTimeout(),
		DumpDir:      dumpDir,
		Logger:       a.logger("agent"),
	}

	// Nested agents always reason in ReAct, whatever the top-level mode.
	nested := base
	nested.SystemPrompt = joinPrompts(modes.SystemPrompt(modes.ReActName), userPrompt)
	stack.spawner, err = agent.NewSpawner(nested)
	if err != nil {
		return fail(err)
	}
	if err := agent.RegisterAgentTools(tools, stack.spawner); err != nil {
		return fail(err)
	}

	top := base
	top.SystemPrompt = joinPrompts(modes.SystemPrompt(mode.Name()), userPrompt)
	top.Mode = mode
	top.Queue = stack.queue
	top.Resume = opts.Resume
	top.History = a.sessions
	stack.runner, err = agent.NewRunner(top)
	if err != nil {
		return fail(err)
	}

	return stack, nil
}

func joinPrompts(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n====\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
