// Package agent runs the agent loop: it sends the conversation to the model
// client, decodes the reply into steps, lets the working mode decide each
// step and loops until a terminal result.
//
// Invariants:
// - Top-level runs are serialized per session lane through commandqueue.
// - A turn that appends nothing to the conversation ends the run as a failure.
// - Tool calls route through toolexecutor only.
// - Nested agents run inline, without the agent tool kit, at most
//   tracing.MaxDepth levels deep.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		SystemPrompt: prompt,
//		Client:       client,
//		Tools:        executor,
//	})
//	result, _ := runner.Run(ctx, "what is 2+2")
//	_ = result
package agent
