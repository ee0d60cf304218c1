package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/audiopipe/testutil"
)

func TestRun_Stdout(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "tool", `echo "hello $1"`)

	out, err := Run(context.Background(), Command{Path: bin, Args: []string{"world"}})
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(out))
}

func TestRun_EnvAppended(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "tool", `printf "%s" "$AUDIOPIPE_TEST_VALUE"`)

	out, err := Run(context.Background(), Command{Path: bin, Env: []string{"AUDIOPIPE_TEST_VALUE=42"}})
	require.NoError(t, err)
	assert.Equal(t, "42", string(out))
}

func TestRun_ExitErrorCarriesStderr(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "tool", `echo "bad input" >&2; exit 3`)

	_, err := Run(context.Background(), Command{Path: bin})
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected ExitError, got %v", err)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "bad input", exitErr.Stderr)
	assert.Contains(t, err.Error(), "exited with code 3")
}

func TestRun_Timeout(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "tool", `sleep 10`)

	start := time.Now()
	_, err := Run(context.Background(), Command{Path: bin, Timeout: 200 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_ParentCancelled(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "tool", `sleep 10`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, Command{Path: bin})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestRun_MissingBinary(t *testing.T) {
	_, err := Run(context.Background(), Command{Path: "/nonexistent/tool"})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "start /nonexistent/tool"), err.Error())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
}

func TestStart_LineProtocol(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "tool", `while read -r line; do echo "got $line"; done; echo "bye" >&2; exit 4`)

	p, err := Start(Command{Path: bin})
	require.NoError(t, err)
	for _, in := range []string{"a", "b"} {
		_, err := p.Stdin.Write([]byte(in + "\n"))
		require.NoError(t, err)
		line, err := p.Stdout.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "got "+in+"\n", line)
	}

	var exitErr *ExitError
	require.True(t, errors.As(p.Close(), &exitErr))
	assert.Equal(t, 4, exitErr.Code)
	assert.Equal(t, "bye", exitErr.Stderr)
	assert.Equal(t, p.Wait(), p.Wait())
}

func TestStart_KillStopsProcessGroup(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "tool", `sleep 30`)

	p, err := Start(Command{Path: bin})
	require.NoError(t, err)
	start := time.Now()
	p.Kill()
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Error(t, p.Wait())
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("def"))
	assert.Equal(t, "cdef", b.String())
}
