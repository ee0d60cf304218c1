package localwhisper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/audiopipe/internal/asr"
	"github.com/tiroq/audiopipe/internal/runner"
	"github.com/tiroq/audiopipe/testutil"
)

func TestName(t *testing.T) {
	assert.Equal(t, "local_whisper", NewBackend(Config{}).Name())
}

func TestTranscribeFile_Success(t *testing.T) {
	testutil.RequireUnix(t)
	dir := t.TempDir()

	jsonOutput := `{"segments": [{"start": 0.0, "end": 5.2, "text": " Hello world", "score": 0.95}, {"start": 8.0, "end": 10.0, "text": "Second segment", "score": 0.88}], "language": "en"}`
	bin := testutil.WriteScript(t, dir, "whisper", "echo '"+jsonOutput+"'")
	input := testutil.WriteFile(t, dir, "test.wav", []byte("fake audio"))

	b := NewBackend(Config{BinaryPath: bin, Model: "small", TimeoutSeconds: 10})
	tr, err := b.TranscribeFile(context.Background(), input, asr.TranscribeOptions{Language: "en"})
	require.NoError(t, err)

	assert.Equal(t, "local_whisper", tr.Backend)
	assert.Equal(t, "en", tr.Language)
	assert.Equal(t, "small", tr.Model)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, " Hello world", tr.Segments[0].Text)
	assert.Equal(t, 5200*time.Millisecond, tr.Segments[0].End)
	assert.Equal(t, 8*time.Second, tr.Segments[1].Start)
	assert.Equal(t, 10*time.Second, tr.Duration)
}

func TestTranscribeFile_BinaryNotFound(t *testing.T) {
	b := NewBackend(Config{BinaryPath: "/nonexistent/whisper"})
	_, err := b.TranscribeFile(context.Background(), "test.wav", asr.TranscribeOptions{})
	assert.ErrorContains(t, err, "binary not found")
}

func TestTranscribeFile_InvalidJSON(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "whisper", "echo 'not json'")

	_, err := NewBackend(Config{BinaryPath: bin}).TranscribeFile(context.Background(), "x.wav", asr.TranscribeOptions{})
	assert.ErrorContains(t, err, "failed to parse JSON output")
}

func TestTranscribeFile_NonZeroExit(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "whisper", "echo 'model missing' >&2; exit 1")

	_, err := NewBackend(Config{BinaryPath: bin}).TranscribeFile(context.Background(), "x.wav", asr.TranscribeOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model missing")
}

func TestTranscribeFile_Timeout(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "whisper", "sleep 30")

	b := NewBackend(Config{BinaryPath: bin, TimeoutSeconds: 1})
	start := time.Now()
	_, err := b.TranscribeFile(context.Background(), "x.wav", asr.TranscribeOptions{})
	assert.ErrorIs(t, err, runner.ErrTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestTranscribeFile_OptsModelOverridesConfig(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "whisper", `echo '{"segments": [], "language": "de"}'`)

	tr, err := NewBackend(Config{BinaryPath: bin, Model: "small"}).
		TranscribeFile(context.Background(), "x.wav", asr.TranscribeOptions{Model: "large"})
	require.NoError(t, err)
	assert.Equal(t, "large", tr.Model)
	assert.Empty(t, tr.Segments)
	assert.Zero(t, tr.Duration)
}

func TestHealthCheck_BinaryExists(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "whisper", "exit 1")

	hs, err := NewBackend(Config{BinaryPath: bin}).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, hs.OK, hs.Message)
}

func TestHealthCheck_MissingBinary(t *testing.T) {
	hs, err := NewBackend(Config{BinaryPath: "/nonexistent/whisper"}).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, hs.OK)
	assert.Contains(t, hs.Message, "binary not found")
}

func TestHealthCheck_MissingModel(t *testing.T) {
	testutil.RequireUnix(t)
	bin := testutil.WriteScript(t, t.TempDir(), "whisper", "exit 0")

	hs, err := NewBackend(Config{BinaryPath: bin, ModelPath: "/nonexistent/model.bin"}).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, hs.OK)
	assert.Contains(t, hs.Message, "model not found")
}

func TestHealthCheck_NotExecutable(t *testing.T) {
	testutil.RequireUnix(t)
	path := filepath.Join(t.TempDir(), "whisper")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	hs, err := NewBackend(Config{BinaryPath: path}).HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, hs.OK)
	assert.Contains(t, hs.Message, "not executable")
}

func TestDefaultTimeout(t *testing.T) {
	assert.Equal(t, 1800, NewBackend(Config{}).cfg.TimeoutSeconds)
}

func TestBuildArgs(t *testing.T) {
	b := NewBackend(Config{ModelPath: "/models/ggml-large.bin", Threads: 4})
	args := b.buildArgs("/audio/in.wav", asr.TranscribeOptions{Language: "en"})
	assert.Equal(t, []string{
		"--model", "/models/ggml-large.bin",
		"--output-json",
		"--language", "en",
		"--threads", "4",
		"/audio/in.wav",
	}, args)
}

func TestBuildArgs_Minimal(t *testing.T) {
	args := NewBackend(Config{}).buildArgs("in.wav", asr.TranscribeOptions{})
	assert.Equal(t, []string{"--output-json", "in.wav"}, args)
}
