package modes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/harun/stepwise/pkg/step"
)

// ErrNoInput is returned when the human closes the input.
var ErrNoInput = errors.New("no human input")

// HumanInput asks a human for a reply.
type HumanInput interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// HumanInputFunc adapts a function to HumanInput.
type HumanInputFunc func(ctx context.Context, prompt string) (string, error)

// Ask calls f.
func (f HumanInputFunc) Ask(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// taskMessage renders a human reply the way the run loop seeds the task.
func taskMessage(reply string) string {
	return step.MustMarshal(step.New(step.NameTask, reply))
}

// ReadlineInput reads replies from the terminal.
type ReadlineInput struct {
	rl  *readline.Instance
	out io.Writer
}

// NewReadlineInput opens a line editor with history in historyFile.
func NewReadlineInput(historyFile string) (*ReadlineInput, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">>> Your input: ",
		HistoryFile:     historyFile,
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}
	return &ReadlineInput{rl: rl, out: rl.Stdout()}, nil
}

// Ask prints the model's question and reads one non-empty line.
func (r *ReadlineInput) Ask(ctx context.Context, prompt string) (string, error) {
	if prompt = strings.TrimSpace(prompt); prompt != "" {
		fmt.Fprintf(r.out, "\n>>> LLM: %s\n", prompt)
	}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := r.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return "", ErrNoInput
			}
			return "", err
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
}

// Close releases the terminal.
func (r *ReadlineInput) Close() error {
	return r.rl.Close()
}
