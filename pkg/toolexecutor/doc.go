// Package toolexecutor is the tool registry and dispatcher.
//
// Invariants:
// - Tool names are unique.
// - Parameters are schema-validated before execution.
// - Dispatch never returns an error: unknown tools, invalid arguments,
//   handler errors and timeouts all become observation text.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "msg", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["msg"], nil },
//	})
//	observation := exec.Dispatch(ctx, "echo", map[string]interface{}{"msg": "hi"}, nil)
package toolexecutor
