package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolExecutor_RegisterTool(t *testing.T) {
	te := New()

	def := ToolDefinition{
		Name:        "test_tool",
		Description: "A test tool",
		Parameters: []ToolParameter{
			{
				Name:        "input",
				Type:        "string",
				Description: "Input parameter",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "result", nil
		},
	}

	err := te.RegisterTool(def)
	assert.NoError(t, err)

	// Verify tool is registered
	tool := te.GetTool("test_tool")
	assert.NotNil(t, tool)
	assert.Equal(t, "test_tool", tool.Name)
}

func TestToolExecutor_RegisterTool_InvalidDefinition(t *testing.T) {
	te := New()

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{
			name: "empty name",
			def: ToolDefinition{
				Description: "Test",
				Handler:     func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil },
			},
		},
		{
			name: "empty description",
			def: ToolDefinition{
				Name:    "test",
				Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil },
			},
		},
		{
			name: "nil handler",
			def: ToolDefinition{
				Name:        "test",
				Description: "Test",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := te.RegisterTool(tt.def)
			assert.Error(t, err)
		})
	}
}

func TestToolExecutor_Execute_Success(t *testing.T) {
	te := New()

	def := ToolDefinition{
		Name:        "echo",
		Description: "Echo tool",
		Parameters: []ToolParameter{
			{
				Name:        "message",
				Type:        "string",
				Description: "Message to echo",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["message"], nil
		},
	}

	err := te.RegisterTool(def)
	require.NoError(t, err)

	result := te.Execute(context.Background(), "echo", map[string]interface{}{
		"message": "Hello, World!",
	}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, "Hello, World!", result.Output)
	assert.Empty(t, result.Error)
}

func TestToolExecutor_Execute_ToolNotFound(t *testing.T) {
	te := New()

	result := te.Execute(context.Background(), "nonexistent", map[string]interface{}{}, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "tool not found")
}

func TestToolExecutor_Execute_ValidationError(t *testing.T) {
	te := New()

	def := ToolDefinition{
		Name:        "test",
		Description: "Test tool",
		Parameters: []ToolParameter{
			{
				Name:        "required_param",
				Type:        "string",
				Description: "Required parameter",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, nil
		},
	}

	err := te.RegisterTool(def)
	require.NoError(t, err)

	// Execute without required parameter
	result := te.Execute(context.Background(), "test", map[string]interface{}{}, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "validation")
}

func TestToolExecutor_Execute_HandlerError(t *testing.T) {
	te := New()

	expectedErr := errors.New("handler error")
	def := ToolDefinition{
		Name:        "failing_tool",
		Description: "A tool that fails",
		Parameters:  []ToolParameter{},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, expectedErr
		},
	}

	err := te.RegisterTool(def)
	require.NoError(t, err)

	result := te.Execute(context.Background(), "failing_tool", map[string]interface{}{}, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "handler error")
}

func TestToolExecutor_Execute_Timeout(t *testing.T) {
	te := New()

	def := ToolDefinition{
		Name:        "slow_tool",
		Description: "A slow tool",
		Parameters:  []ToolParameter{},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			time.Sleep(2 * time.Second)
			return "done", nil
		},
	}

	err := te.RegisterTool(def)
	require.NoError(t, err)

	execCtx := &ExecutionContext{
		Timeout: 100 * time.Millisecond,
	}

	result := te.Execute(context.Background(), "slow_tool", map[string]interface{}{}, execCtx)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timeout")
}

func TestToolExecutor_Execute_OutputTruncation(t *testing.T) {
	large := strings.Repeat("A", 15*1024)
	register := func(t *testing.T, te *ToolExecutor, name string, maxOutput int, out string) {
		t.Helper()
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        name,
			Description: "Tool with large output",
			Parameters:  []ToolParameter{},
			MaxOutput:   maxOutput,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return out, nil
			},
		}))
	}

	t.Run("should keep output whole by default", func(t *testing.T) {
		te := New()
		register(t, te, "large_output", 0, large)

		result := te.Execute(context.Background(), "large_output", map[string]interface{}{}, nil)

		assert.True(t, result.Success)
		assert.False(t, result.Truncated)
		assert.Equal(t, large, result.Output)
	})

	t.Run("should truncate past MaxOutput", func(t *testing.T) {
		te := New()
		register(t, te, "capped_output", 10*1024, large)

		result := te.Execute(context.Background(), "capped_output", map[string]interface{}{}, nil)

		assert.True(t, result.Success)
		assert.True(t, result.Truncated)
		assert.True(t, strings.HasPrefix(result.Output.(string), strings.Repeat("A", 10*1024)))
		assert.Contains(t, result.Output.(string), "truncated")
	})

	t.Run("should cut on a rune boundary", func(t *testing.T) {
		te := New()
		// each rune is three bytes, so byte 4 falls inside the second rune
		register(t, te, "wide_output", 4, "日本語")

		result := te.Execute(context.Background(), "wide_output", map[string]interface{}{}, nil)

		out := result.Output.(string)
		assert.True(t, utf8.ValidString(out))
		assert.True(t, strings.HasPrefix(out, "日\n"))
	})
}

func TestToolExecutor_Execute_TimeoutPrecedence(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "patient_tool",
		Description: "Declares its own timeout",
		Parameters:  []ToolParameter{},
		Timeout:     2 * time.Second,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			time.Sleep(200 * time.Millisecond)
			return "done", nil
		},
	}))

	result := te.Execute(context.Background(), "patient_tool", map[string]interface{}{}, &ExecutionContext{
		Timeout: 50 * time.Millisecond,
	})

	assert.True(t, result.Success)
	assert.Equal(t, "done", result.Output)
}

func TestToolExecutor_ListTools(t *testing.T) {
	te := New()

	tools := []string{"tool1", "tool2", "tool3"}
	for _, name := range tools {
		def := ToolDefinition{
			Name:        name,
			Description: "Test tool",
			Parameters:  []ToolParameter{},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return nil, nil
			},
		}
		err := te.RegisterTool(def)
		require.NoError(t, err)
	}

	list := te.ListTools()
	assert.ElementsMatch(t, tools, list)
}

func TestToolExecutor_UnregisterTool(t *testing.T) {
	te := New()

	def := ToolDefinition{
		Name:        "test_tool",
		Description: "Test tool",
		Parameters:  []ToolParameter{},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, nil
		},
	}

	err := te.RegisterTool(def)
	require.NoError(t, err)

	// Verify tool exists
	assert.NotNil(t, te.GetTool("test_tool"))

	// Unregister
	te.UnregisterTool("test_tool")

	// Verify tool is removed
	assert.Nil(t, te.GetTool("test_tool"))
}

func TestToolExecutor_GetToolCount(t *testing.T) {
	te := New()

	assert.Equal(t, 0, te.GetToolCount())

	for i := 0; i < 5; i++ {
		def := ToolDefinition{
			Name:        fmt.Sprintf("tool%d", i),
			Description: "Test tool",
			Parameters:  []ToolParameter{},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return nil, nil
			},
		}
		err := te.RegisterTool(def)
		require.NoError(t, err)
	}

	assert.Equal(t, 5, te.GetToolCount())
}

func TestToolExecutor_ParameterTypes(t *testing.T) {
	te := New()

	def := ToolDefinition{
		Name:        "multi_param",
		Description: "Tool with multiple parameter types",
		Parameters: []ToolParameter{
			{Name: "str", Type: "string", Description: "String param", Required: true},
			{Name: "num", Type: "number", Description: "Number param", Required: true},
			{Name: "bool", Type: "boolean", Description: "Boolean param", Required: true},
			{Name: "obj", Type: "object", Description: "Object param", Required: false},
			{Name: "arr", Type: "array", Description: "Array param", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params, nil
		},
	}

	err := te.RegisterTool(def)
	require.NoError(t, err)

	result := te.Execute(context.Background(), "multi_param", map[string]interface{}{
		"str":  "test",
		"num":  42.5,
		"bool": true,
		"obj":  map[string]interface{}{"key": "value"},
		"arr":  []interface{}{1, 2, 3},
	}, nil)

	assert.True(t, result.Success)
}

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo tool",
		Parameters: []ToolParameter{
			{Name: "msg", Type: "string", Description: "Message to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["msg"], nil
		},
	}
}

func TestToolExecutor_Dispatch(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "broken",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("disk on fire")
		},
	}))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "structured",
		Description: "Returns a map",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"n": 1}, nil
		},
	}))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "panicky",
		Description: "Panics",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("boom")
		},
	}))

	tests := []struct {
		name   string
		tool   string
		params map[string]interface{}
		want   string
	}{
		{"should return string output as is", "echo", map[string]interface{}{"msg": "hi"}, "hi"},
		{"should render handler errors as text", "broken", nil, "disk on fire"},
		{"should render structured output as JSON", "structured", nil, `{"n":1}`},
		{"should report unknown tools", "missing", nil, "tool not found: missing"},
		{"should recover from panics", "panicky", nil, "tool panicky panicked: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := te.Dispatch(context.Background(), tt.tool, tt.params, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToolExecutor_Dispatch_UnexpectedArgument(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))

	got := te.Dispatch(context.Background(), "echo", map[string]interface{}{"msg": "hi", "loud": true}, nil)
	assert.Contains(t, got, "parameter validation failed")
}

func TestToolExecutor_Defaults(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "greet",
		Description: "Greets",
		Parameters: []ToolParameter{
			{Name: "name", Type: "string", Description: "Who", Default: "world"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "hello " + params["name"].(string), nil
		},
	}))

	params := map[string]interface{}{}
	assert.Equal(t, "hello world", te.Dispatch(context.Background(), "greet", params, nil))
	assert.Empty(t, params, "caller's params should not be mutated")
}

func TestToolExecutor_Policy(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))

	execCtx := &ExecutionContext{AgentName: "agent_writer", ToolPolicy: Exclude("echo")}
	result := te.Execute(context.Background(), "echo", map[string]interface{}{"msg": "hi"}, execCtx)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not allowed")
	assert.Equal(t, true, result.Metadata["policy_violation"])
}

func TestToolExecutor_Filtered(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))
	noop := func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return "", nil }
	require.NoError(t, te.RegisterTool(ToolDefinition{Name: "agent_writer", Description: "Writer", Kit: "agent", Handler: noop}))
	require.NoError(t, te.RegisterTool(ToolDefinition{Name: "agent_programmer", Description: "Programmer", Kit: "agent", Handler: noop}))
	require.NoError(t, te.RegisterTool(ToolDefinition{Name: "read_file", Description: "Reads", Handler: noop}))

	t.Run("should drop a denied kit", func(t *testing.T) {
		filtered := te.Filtered(Exclude("kit:agent"))
		assert.Equal(t, []string{"echo", "read_file"}, filtered.ListTools())
	})

	t.Run("should drop denied names", func(t *testing.T) {
		filtered := te.Filtered(Exclude("echo"))
		assert.Equal(t, []string{"agent_programmer", "agent_writer", "read_file"}, filtered.ListTools())
	})

	t.Run("should keep everything without a policy", func(t *testing.T) {
		assert.Equal(t, 4, te.Filtered(nil).GetToolCount())
	})

	t.Run("should leave the source untouched", func(t *testing.T) {
		_ = te.Filtered(Exclude("*"))
		assert.Equal(t, 4, te.GetToolCount())
	})
}

func TestToolExecutor_Merge(t *testing.T) {
	base := New()
	require.NoError(t, base.RegisterTool(echoTool()))

	extra := New()
	require.NoError(t, extra.RegisterTool(ToolDefinition{
		Name:        "retrieve_msg",
		Description: "Retrieve",
		Handler:     func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return "", nil },
	}))

	base.Merge(extra)
	assert.Equal(t, []string{"echo", "retrieve_msg"}, base.ListTools())
}

func TestToolExecutor_Specs(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "agent_multitasks",
		Description: "Runs tasks",
		Parameters: []ToolParameter{
			{Name: "goal", Type: "string", Description: "Goal", Required: true},
			{Name: "tasks", Type: "array", Items: "string", Description: "Tasks", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return "", nil },
	}))

	specs := te.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "agent_multitasks", specs[0].Name)
	assert.Equal(t, []string{"goal", "tasks"}, specs[0].Parameters["required"])

	props := specs[0].Parameters["properties"].(map[string]interface{})
	tasks := props["tasks"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"type": "string"}, tasks["items"])

	result := te.Execute(context.Background(), "agent_multitasks", map[string]interface{}{
		"goal":  "g",
		"tasks": []interface{}{"a", 2},
	}, nil)
	assert.False(t, result.Success, "array items are type checked")
}

func TestToolExecutor_Describe(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))

	desc := te.Describe()
	assert.Contains(t, desc, "- echo: Echo tool")
	assert.Contains(t, desc, "msg (string, required): Message to echo")
}

func TestToolExecutor_ExecContextReachesHandler(t *testing.T) {
	te := New()
	var seen *ExecutionContext
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "whoami",
		Description: "Reports the caller",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			seen = ExecContextFromContext(ctx)
			return "", nil
		},
	}))

	execCtx := &ExecutionContext{SessionID: "s1", AgentName: "main"}
	te.Execute(context.Background(), "whoami", nil, execCtx)

	require.NotNil(t, seen)
	assert.Equal(t, "s1", seen.SessionID)
}

func TestToolPolicy_IsToolAllowed(t *testing.T) {
	var nilPolicy *ToolPolicy
	assert.True(t, nilPolicy.IsToolAllowed("anything"))

	p := &ToolPolicy{Allow: []string{"read_file"}}
	assert.True(t, p.IsToolAllowed("read_file"))
	assert.False(t, p.IsToolAllowed("exec_cmd"))

	ex := Exclude("exec_cmd")
	assert.True(t, ex.IsToolAllowed("read_file"))
	assert.False(t, ex.IsToolAllowed("exec_cmd"))
}
