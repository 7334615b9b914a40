package coretools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// Commands whose stderr is progress noise.
var quietStderrPrefixes = []string{"curl ", "wget ", "uv add ", "uv sync ", "pip install "}

type commandResult struct {
	code   int
	stdout string
	stderr string
}

// parseCommand accepts a shell string or a JSON argv list.
func parseCommand(cmd string) ([]string, bool, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return nil, false, fmt.Errorf("illegal cmd")
	}
	if strings.HasPrefix(cmd, "[") && strings.HasSuffix(cmd, "]") {
		var argv []string
		if err := json.Unmarshal([]byte(cmd), &argv); err == nil && len(argv) > 0 {
			return argv, false, nil
		}
	}
	return []string{cmd}, true, nil
}

func runCommand(ctx context.Context, argv []string, shell bool, dir string, stdin io.Reader) commandResult {
	var c *exec.Cmd
	if shell {
		c = exec.CommandContext(ctx, "/bin/sh", "-c", argv[0])
	} else {
		c = exec.CommandContext(ctx, argv[0], argv[1:]...)
	}
	c.Dir = dir
	c.Stdin = stdin
	c.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := commandResult{stdout: safeDecode(stdout.Bytes()), stderr: safeDecode(stderr.Bytes())}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.code = exitErr.ExitCode()
	default:
		res.code = -1
		if res.stderr == "" {
			res.stderr = err.Error()
		}
	}
	return res
}

// format renders the [code, stdout, stderr] triple.
func (r commandResult) format(cmd string, noStderr bool, limit int) []interface{} {
	stderr := r.stderr
	if noStderr {
		stderr = ""
	}
	for _, prefix := range quietStderrPrefixes {
		if strings.HasPrefix(cmd, prefix) {
			stderr = ""
			break
		}
	}

	return []interface{}{
		r.code,
		strings.TrimSpace(Truncate(strings.TrimSpace(r.stdout), limit)),
		strings.TrimSpace(Truncate(strings.TrimSpace(stderr), limit)),
	}
}

func safeDecode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "?")
}
