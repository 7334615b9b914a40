// Package history owns the live message log of one agent run.
//
// Index 0 of a Conversation is the system prompt and index 1 is the
// environment block. The environment slot is overwritten in place by SetEnv;
// every other message is append-only. After each Append the registered hooks
// run in order. Hook errors are logged and never returned to the caller.
//
// Threshold decides when the log has grown past its message-count or token
// ceiling. Token counting goes through a Counter; the default counter uses the
// cl100k_base BPE encoding and reports 0 when the encoding cannot be loaded.
package history
