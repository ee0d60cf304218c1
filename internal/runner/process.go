package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// stderrTail bounds how much stderr a long-lived process keeps for errors.
const stderrTail = 64 << 10

// Process is a long-running command with piped stdin and stdout. Timeout
// and Stdin on the Command are ignored; the caller drives both.
type Process struct {
	Stdin  io.WriteCloser
	Stdout *bufio.Reader

	path   string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *tailBuffer

	waitOnce sync.Once
	waitErr  error
}

// Start launches c in its own process group.
func Start(c Command) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	configureProcessGroup(cmd)
	cmd.WaitDelay = 2 * time.Second

	stderr := &tailBuffer{max: stderrTail}
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(stderr, c.Stderr)
	} else {
		cmd.Stderr = stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}
	return &Process{
		Stdin:  stdin,
		Stdout: bufio.NewReaderSize(stdout, 1<<20),
		path:   c.Path,
		cmd:    cmd,
		cancel: cancel,
		stderr: stderr,
	}, nil
}

// Wait waits for the process to exit. A non-zero exit is an *ExitError
// carrying the tail of stderr. Safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.cancel()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			p.waitErr = &ExitError{
				Path:   p.path,
				Code:   exitErr.ExitCode(),
				Stderr: Truncate(strings.TrimSpace(p.stderr.String()), 500),
			}
		default:
			p.waitErr = fmt.Errorf("%s: %w", p.path, err)
		}
	})
	return p.waitErr
}

// Close closes stdin, which asks a well-behaved process to exit, and waits.
func (p *Process) Close() error {
	_ = p.Stdin.Close()
	return p.Wait()
}

// Kill terminates the whole process group and reaps it.
func (p *Process) Kill() {
	p.cancel()
	_ = p.Wait()
}

type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
