// Package runner executes external tools (ffmpeg, yt-dlp, whisper, python
// helpers) with a timeout that kills the whole process tree.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when a command exceeds its Timeout.
var ErrTimeout = errors.New("command timed out")

// Command describes one subprocess invocation.
type Command struct {
	Path    string
	Args    []string
	Env     []string // appended to the current environment
	Dir     string
	Stdin   io.Reader
	Stderr  io.Writer     // optional tee for live progress; stderr is always captured for errors
	Timeout time.Duration // 0 = no timeout beyond ctx
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Path   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Path, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Run starts the command, waits for it and returns its stdout.
func Run(ctx context.Context, c Command) ([]byte, error) {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, c.Stderr)
	} else {
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", c.Path, ctx.Err())
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s: %w after %s", c.Path, ErrTimeout, c.Timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &ExitError{
			Path:   c.Path,
			Code:   exitErr.ExitCode(),
			Stderr: Truncate(strings.TrimSpace(stderr.String()), 500),
		}
	}
	return nil, fmt.Errorf("start %s: %w", c.Path, err)
}

// LookPath resolves a tool name against PATH, accepting absolute paths as-is.
func LookPath(name string) (string, error) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", name, err)
	}
	return p, nil
}

// Truncate returns at most n bytes of s, marking the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
