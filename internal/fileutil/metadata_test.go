package fileutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMetadata_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "Team-Sync-transcription.xlsx")

	meta := &OutputMetadata{
		Version:      "1.2.3",
		RunID:        "abc123",
		Stage:        "transcribe",
		Source:       "Converted_WAV/Team-Sync.wav",
		Output:       out,
		StartedAt:    time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC),
		FinishedAt:   time.Date(2025, 1, 15, 14, 31, 0, 0, time.UTC),
		DurationMs:   60000,
		AudioSeconds: 1800,
		Backend:      "whisper_python",
		Model:        "large",
		Language:     "en",
		Segments:     42,
		Speakers:     5,
		Formats:      []string{"xlsx", "srt"},
	}
	require.NoError(t, WriteMetadata(out, meta))

	assert.FileExists(t, filepath.Join(dir, "Team-Sync-transcription.meta.json"))

	got, err := ReadMetadata(out)
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestWriteMetadata_Overwrites(t *testing.T) {
	out := filepath.Join(t.TempDir(), "a.xlsx")
	require.NoError(t, WriteMetadata(out, &OutputMetadata{Segments: 1}))
	require.NoError(t, WriteMetadata(out, &OutputMetadata{Segments: 2}))

	got, err := ReadMetadata(out)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Segments)
}

func TestWriteMetadata_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteMetadata(filepath.Join(dir, "x.wav"), &OutputMetadata{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x.meta.json", entries[0].Name())
}

func TestReadMetadata_Missing(t *testing.T) {
	_, err := ReadMetadata(filepath.Join(t.TempDir(), "none.xlsx"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMetadataPath(t *testing.T) {
	assert.Equal(t, "/out/talk.meta.json", MetadataPath("/out/talk.xlsx"))
	assert.Equal(t, "/out/v1.2.talk.meta.json", MetadataPath("/out/v1.2.talk.wav"))
	assert.Equal(t, "/out/noext.meta.json", MetadataPath("/out/noext"))
}

func TestAtomicWriteFile_CreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "f.json")
	require.NoError(t, AtomicWriteFile(path, []byte("{}"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
