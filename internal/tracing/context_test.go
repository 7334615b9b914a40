package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()

	if id1 == "" {
		t.Error("NewRunID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewRunID returned duplicate IDs")
	}
}

func TestWithExec(t *testing.T) {
	e := NewExecContext("main", "sess-1")
	ctx := WithExec(context.Background(), e)

	if GetAgentName(ctx) != "main" {
		t.Errorf("Expected agent main, got %s", GetAgentName(ctx))
	}
	if GetSessionID(ctx) != "sess-1" {
		t.Errorf("Expected session sess-1, got %s", GetSessionID(ctx))
	}
	if GetRunID(ctx) != e.RunID {
		t.Errorf("Expected run ID %s, got %s", e.RunID, GetRunID(ctx))
	}
	if GetDepth(ctx) != 0 {
		t.Errorf("Expected depth 0, got %d", GetDepth(ctx))
	}
}

func TestGettersEmpty(t *testing.T) {
	ctx := context.Background()

	if FromContext(ctx) != nil {
		t.Error("Expected nil execution context")
	}
	if GetAgentName(ctx) != "" || GetSessionID(ctx) != "" || GetRunID(ctx) != "" {
		t.Error("Expected empty values")
	}
	if GetDepth(ctx) != 0 {
		t.Error("Expected depth 0")
	}
}

func TestNested(t *testing.T) {
	root := NewExecContext("main", "sess-1")

	child, err := root.Nested("agent_writer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if child.Depth != 1 {
		t.Errorf("Expected depth 1, got %d", child.Depth)
	}
	if child.SessionID != "sess-1" {
		t.Error("Session ID not inherited")
	}
	if child.RunID == root.RunID {
		t.Error("Nested run should get a new run ID")
	}
	if child.Path() != "main/agent_writer" {
		t.Errorf("Unexpected path %s", child.Path())
	}
}

func TestNestedMaxDepth(t *testing.T) {
	e := NewExecContext("main", "")
	var err error
	for i := 0; i < MaxDepth; i++ {
		e, err = e.Nested("agent_programmer")
		if err != nil {
			t.Fatalf("depth %d: unexpected error: %v", i+1, err)
		}
	}

	_, err = e.Nested("agent_programmer")
	if !errors.Is(err, ErrMaxDepth) {
		t.Errorf("Expected ErrMaxDepth, got %v", err)
	}
}

func TestWithHandle(t *testing.T) {
	root := NewExecContext("main", "")
	bound := root.WithHandle("runner")

	if bound.Handle != "runner" {
		t.Error("Handle not set")
	}
	if root.Handle != nil {
		t.Error("WithHandle mutated the receiver")
	}
}
