// Package pyhelper runs small Python programs shipped inside the binary.
// A helper is started once and then serves one request per line on stdin,
// so the model it loads stays resident across files.
package pyhelper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tiroq/audiopipe/internal/runner"
)

// DefaultPython is used when no interpreter is configured and AUDIOPIPE_PY
// is unset.
const DefaultPython = "python3"

// ErrClosed is returned by Call after Close.
var ErrClosed = errors.New("helper session closed")

// Script is an embedded helper program.
type Script struct {
	Name   string // used for the temp file prefix and in errors
	Source []byte
}

// Invocation describes how a helper is started.
type Invocation struct {
	Python  string // interpreter; "" = AUDIOPIPE_PY or python3
	Args    []string
	Env     []string
	Stderr  io.Writer     // receives helper logs and any stray stdout lines
	Timeout time.Duration // per request, model loading included
}

// Interpreter resolves the Python binary for an invocation.
func Interpreter(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("AUDIOPIPE_PY"); env != "" {
		return env
	}
	return DefaultPython
}

// Session is a running helper. Requests and replies are single JSON lines;
// a reply with a non-empty "error" field fails that request only. Lines on
// stdout that are not JSON objects are library chatter and are forwarded to
// Stderr. If the helper dies or a request times out, the next Call starts a
// fresh process.
type Session struct {
	script Script
	inv    Invocation

	mu     sync.Mutex
	proc   *runner.Process
	path   string
	closed bool
}

// Session returns an idle session; the process starts on the first Call.
func (s Script) Session(inv Invocation) *Session {
	return &Session{script: s, inv: inv}
}

type reply struct {
	line []byte
	err  error
}

// Call sends req and decodes the reply into resp.
func (s *Session) Call(ctx context.Context, req, resp interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", s.script.Name, err)
	}
	if s.proc == nil {
		if err := s.start(); err != nil {
			return err
		}
	}
	proc := s.proc

	if _, err := proc.Stdin.Write(append(line, '\n')); err != nil {
		return s.died(fmt.Errorf("write request: %w", err))
	}

	done := make(chan reply, 1)
	go func() {
		l, err := s.readReply(proc)
		done <- reply{line: l, err: err}
	}()

	var timeout <-chan time.Time
	if s.inv.Timeout > 0 {
		timer := time.NewTimer(s.inv.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			return s.died(r.err)
		}
		return s.decode(r.line, resp)
	case <-timeout:
		s.stop()
		return fmt.Errorf("%s helper: %w after %s", s.script.Name, runner.ErrTimeout, s.inv.Timeout)
	case <-ctx.Done():
		s.stop()
		return fmt.Errorf("%s helper: %w", s.script.Name, ctx.Err())
	}
}

// Close asks the helper to exit and removes its script file.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.proc == nil {
		return nil
	}
	err := s.proc.Close()
	s.proc = nil
	s.cleanup()
	if err != nil {
		return fmt.Errorf("%s helper: %w", s.script.Name, err)
	}
	return nil
}

func (s *Session) start() error {
	f, err := os.CreateTemp("", "audiopipe-"+s.script.Name+"-*.py")
	if err != nil {
		return fmt.Errorf("write %s helper: %w", s.script.Name, err)
	}
	s.path = f.Name()
	if _, err := f.Write(s.script.Source); err != nil {
		_ = f.Close()
		s.cleanup()
		return fmt.Errorf("write %s helper: %w", s.script.Name, err)
	}
	if err := f.Close(); err != nil {
		s.cleanup()
		return fmt.Errorf("write %s helper: %w", s.script.Name, err)
	}

	proc, err := runner.Start(runner.Command{
		Path:   Interpreter(s.inv.Python),
		Args:   append([]string{s.path}, s.inv.Args...),
		Env:    s.inv.Env,
		Stderr: s.inv.Stderr,
	})
	if err != nil {
		s.cleanup()
		return fmt.Errorf("%s helper: %w", s.script.Name, err)
	}
	s.proc = proc
	return nil
}

// readReply returns the next stdout line that looks like a JSON object.
func (s *Session) readReply(proc *runner.Process) ([]byte, error) {
	for {
		line, err := proc.Stdout.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
			return trimmed, nil
		}
		if len(trimmed) > 0 && s.inv.Stderr != nil {
			fmt.Fprintf(s.inv.Stderr, "%s\n", trimmed)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Session) decode(line []byte, resp interface{}) error {
	var status struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(line, &status); err != nil {
		return fmt.Errorf("parse %s helper output: %w: %s", s.script.Name, err, runner.Truncate(string(line), 200))
	}
	if status.Error != "" {
		return fmt.Errorf("%s helper: %s", s.script.Name, status.Error)
	}
	if err := json.Unmarshal(line, resp); err != nil {
		return fmt.Errorf("parse %s helper output: %w: %s", s.script.Name, err, runner.Truncate(string(line), 200))
	}
	return nil
}

// died reaps a helper that stopped answering and reports why.
func (s *Session) died(cause error) error {
	proc := s.proc
	s.proc = nil
	defer s.cleanup()
	_ = proc.Stdin.Close()
	if err := proc.Wait(); err != nil {
		return fmt.Errorf("%s helper: %w", s.script.Name, err)
	}
	if errors.Is(cause, io.EOF) {
		return fmt.Errorf("%s helper exited without a reply", s.script.Name)
	}
	return fmt.Errorf("%s helper: %w", s.script.Name, cause)
}

func (s *Session) stop() {
	if s.proc != nil {
		s.proc.Kill()
		s.proc = nil
	}
	s.cleanup()
}

func (s *Session) cleanup() {
	if s.path != "" {
		_ = os.Remove(s.path)
		s.path = ""
	}
}
