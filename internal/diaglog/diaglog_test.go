package diaglog

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readNDJSON(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m), scanner.Text())
		lines = append(lines, m)
	}
	return lines
}

func TestLogWritesNDJSON(t *testing.T) {
	t.Setenv("AUDIOPIPE_DEBUG", "true")

	tmp := t.TempDir() + "/test.ndjson"
	l, err := New(tmp)
	require.NoError(t, err)

	entries := []LogEntry{
		{Component: ComponentConvert, Event: EventStageStart},
		{Component: ComponentTranscribe, Event: EventFileDone, File: "talk.wav", RunID: "abc123"},
		{Component: ComponentDiarize, Event: EventFileFailed, Reason: "model load"},
	}
	for _, e := range entries {
		l.Log(e)
	}
	require.NoError(t, l.Close())

	lines := readNDJSON(t, tmp)
	require.Len(t, lines, len(entries))
	assert.Equal(t, ComponentConvert, lines[0]["component"])
	assert.Equal(t, "abc123", lines[1]["run_id"])
	assert.Equal(t, "talk.wav", lines[1]["file"])
	assert.NotNil(t, lines[0]["ts"])
}

func TestWithRunIDStampsEntries(t *testing.T) {
	t.Setenv("AUDIOPIPE_DEBUG", "true")

	tmp := t.TempDir() + "/run.ndjson"
	base, err := New(tmp)
	require.NoError(t, err)
	l := base.WithRunID("run-1")

	l.Log(LogEntry{Component: ComponentWatch, Event: EventWatchDetected})
	l.Log(LogEntry{Component: ComponentWatch, Event: EventWatchDetected, RunID: "explicit"})
	require.NoError(t, base.Close())

	lines := readNDJSON(t, tmp)
	require.Len(t, lines, 2)
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Equal(t, "explicit", lines[1]["run_id"])
}

func TestRollingRotatesAtMaxSize(t *testing.T) {
	tmp := t.TempDir() + "/roll.ndjson"
	const maxSize = 1024
	rw, err := newRollingWriter(tmp, maxSize)
	require.NoError(t, err)
	defer rw.close()

	chunk := []byte(strings.Repeat("x", 512) + "\n")
	for i := 0; i < 3; i++ {
		_, err := rw.Write(chunk)
		require.NoError(t, err)
	}

	info, err := os.Stat(tmp)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(maxSize))

	prev, err := os.Stat(tmp + ".1")
	require.NoError(t, err, "previous generation should be kept")
	assert.Equal(t, int64(len(chunk)), prev.Size())
}

func TestRedactSensitiveFields(t *testing.T) {
	input := map[string]interface{}{
		"token":      "hf_abc",
		"API_KEY":    "sk-123",
		"password":   "hunter2",
		"dsn":        "postgres://u:p@h/db",
		"safe_field": "keep-me",
		"header":     "Bearer sk-live-999",
		"nested": map[string]interface{}{
			"authorization": "Bearer x",
			"ok":            "value",
		},
		"list": []interface{}{map[string]interface{}{"secret": "s"}},
	}

	out := Redact(input).(map[string]interface{})
	for _, k := range []string{"token", "API_KEY", "password", "dsn"} {
		assert.Equal(t, "[REDACTED]", out[k], k)
	}
	assert.Equal(t, "keep-me", out["safe_field"])
	assert.Equal(t, "Bearer [REDACTED]", out["header"])

	nested := out["nested"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", nested["authorization"])
	assert.Equal(t, "value", nested["ok"])

	item := out["list"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", item["secret"])

	assert.Equal(t, "sk-123", input["API_KEY"], "input must not be mutated")
}

func TestRedactStringMap(t *testing.T) {
	out := Redact(map[string]string{"hf_token": "x", "model": "large"}).(map[string]interface{})
	assert.Equal(t, "[REDACTED]", out["hf_token"])
	assert.Equal(t, "large", out["model"])
}

func TestNoOpWhenDisabled(t *testing.T) {
	t.Setenv("AUDIOPIPE_DEBUG", "")

	tmp := t.TempDir() + "/noop.ndjson"
	l, err := New(tmp)
	require.NoError(t, err)
	l.Log(LogEntry{Component: ComponentConvert, Event: EventStageStart})
	require.NoError(t, l.Close())

	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err), "log file should not exist when debug disabled")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Log(LogEntry{Event: EventFileDone})
	assert.Nil(t, l.WithRunID("x"))
	assert.NoError(t, l.Close())
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("AUDIOPIPE_LOG_PATH", "/var/log/ap.ndjson")
	assert.Equal(t, "/var/log/ap.ndjson", DefaultPath())

	t.Setenv("AUDIOPIPE_LOG_PATH", "")
	assert.True(t, strings.HasSuffix(DefaultPath(), "audiopipe-debug.ndjson"))
}
