package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range []string{
		"AUDIOPIPE_CONFIG", "AUDIOPIPE_WORKDIR", "AUDIOPIPE_DATABASE_URL", "AUDIOPIPE_PY",
		"AUDIOPIPE_GAP_THRESHOLD", "HUGGING_FACE_TOKEN", "OPENAI_API_KEY", "AUDIOPIPE_WHISPER_TOKEN",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return dir
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "Downloaded_WAV", cfg.DownloadDir)
	assert.Equal(t, "Converted_WAV", cfg.ConvertedDir)
	assert.Equal(t, "Timestamps", cfg.TimestampsDir)
	assert.Equal(t, "Transcriptions", cfg.TranscriptionsDir)
	assert.Equal(t, []string{".wav"}, cfg.InputExtensions)
	assert.Equal(t, 2.0, cfg.GapThreshold)
	assert.Equal(t, "yt-dlp", cfg.Download.Binary)
	assert.Equal(t, "bestaudio/best", cfg.Download.Format)
	assert.Equal(t, ConverterAuto, cfg.Convert.Converter)
	assert.Equal(t, DiarizePyannote, cfg.Diarize.Backend)
	require.NotNil(t, cfg.ASR)
	assert.Equal(t, ASRWhisperPython, cfg.ASR.Backend)
	assert.Equal(t, []string{"xlsx"}, cfg.ASR.OutputFormats)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(filepath.Join(dir, "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultDownloadDir, cfg.DownloadDir)
}

func TestLoad_File(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"download_dir": "in",
		"input_extensions": [".WAV", ".mp3"],
		"gap_threshold_seconds": 1.5,
		"diarize": {"backend": "sherpa", "sherpa": {"segmentation_model": "seg.onnx"}},
		"asr": {"backend": "local_whisper", "fallback_backend": "whisper_python", "output_formats": ["xlsx", "srt"]}
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "in", cfg.DownloadDir)
	assert.Equal(t, []string{".wav", ".mp3"}, cfg.InputExtensions)
	assert.Equal(t, 1.5, cfg.GapThreshold)
	assert.Equal(t, DiarizeSherpa, cfg.Diarize.Backend)
	assert.Equal(t, "seg.onnx", cfg.Diarize.Sherpa.SegmentationModel)
	assert.Equal(t, ASRLocalWhisper, cfg.ASR.Backend)
	assert.Equal(t, []string{"xlsx", "srt"}, cfg.ASR.OutputFormats)
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"diarize": {"backend": "kaldi"}}`), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "diarize.backend")
}

func TestLoad_EnvOverlay(t *testing.T) {
	dir := isolate(t)
	t.Setenv("AUDIOPIPE_WORKDIR", "/data/work")
	t.Setenv("AUDIOPIPE_DATABASE_URL", "postgres://localhost/audiopipe")
	t.Setenv("HUGGING_FACE_TOKEN", "hf_abc")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AUDIOPIPE_GAP_THRESHOLD", "3.5")

	cfg, err := Load(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "/data/work", cfg.WorkDir)
	assert.Equal(t, "postgres://localhost/audiopipe", cfg.DatabaseURL)
	assert.Equal(t, "hf_abc", cfg.Diarize.HuggingFaceToken)
	assert.Equal(t, "sk-test", cfg.ASR.OpenAI.APIKey)
	assert.Equal(t, 3.5, cfg.GapThreshold)
}

func TestLoad_GapThreshold(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     string
		want    float64
		wantErr string
	}{
		{name: "absent keeps default", file: `{}`, want: DefaultGapThreshold},
		{name: "file value", file: `{"gap_threshold_seconds": 0.75}`, want: 0.75},
		{name: "explicit zero", file: `{"gap_threshold_seconds": 0}`, wantErr: "gap_threshold_seconds must be > 0, got 0"},
		{name: "env zero", file: `{}`, env: "0", wantErr: "gap_threshold_seconds must be > 0, got 0"},
		{name: "env negative", file: `{}`, env: "-1", wantErr: "gap_threshold_seconds must be > 0"},
		{name: "env unparsable", file: `{}`, env: "two", wantErr: `invalid AUDIOPIPE_GAP_THRESHOLD "two"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.file), 0644))
			if tt.env != "" {
				t.Setenv("AUDIOPIPE_GAP_THRESHOLD", tt.env)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.GapThreshold)
		})
	}
}

func TestLoad_DotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("HUGGING_FACE_TOKEN=from_file\nOPENAI_API_KEY=file_key\n"), 0644))
	t.Setenv("OPENAI_API_KEY", "process_key")

	cfg, err := Load(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "from_file", cfg.Diarize.HuggingFaceToken)
	assert.Equal(t, "process_key", cfg.ASR.OpenAI.APIKey)
}

func TestSave_RoundTripOmitsSecrets(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.json")

	cfg := Default()
	cfg.Diarize.HuggingFaceToken = "hf_secret"
	cfg.ASR.OpenAI.APIKey = "sk-secret"
	cfg.TimestampsDir = "ts"
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hf_secret")
	assert.NotContains(t, string(data), "sk-secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ts", loaded.TimestampsDir)
}

func TestSave_RejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.GapThreshold = -1
	err := Save(filepath.Join(t.TempDir(), "c.json"), cfg)
	assert.ErrorContains(t, err, "gap_threshold_seconds")
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("AUDIOPIPE_CONFIG", "")
	t.Setenv("HOME", "/home/u")
	assert.Equal(t, "/home/u/.config/audiopipe/config.json", DefaultPath())

	t.Setenv("AUDIOPIPE_CONFIG", "/etc/audiopipe.json")
	assert.Equal(t, "/etc/audiopipe.json", DefaultPath())
}

func TestDir(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "Timestamps", cfg.Dir(cfg.TimestampsDir))

	cfg.WorkDir = "/w"
	assert.Equal(t, "/w/Timestamps", cfg.Dir(cfg.TimestampsDir))
	assert.Equal(t, "/abs/out", cfg.Dir("/abs/out"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"extension without dot", func(c *Config) { c.InputExtensions = []string{"wav"} }, "must start with a dot"},
		{"bad converter", func(c *Config) { c.Convert.Converter = "sox" }, "convert.converter"},
		{"negative speakers", func(c *Config) { c.Diarize.NumSpeakers = -2 }, "num_speakers"},
		{"bad asr backend", func(c *Config) { c.ASR.Backend = "google_stt" }, "asr.backend"},
		{"bad fallback", func(c *Config) { c.ASR.FallbackBackend = "invalid" }, "asr.fallback_backend"},
		{"fallback equals primary", func(c *Config) { c.ASR.FallbackBackend = ASRWhisperPython }, "must differ"},
		{"valid fallback", func(c *Config) { c.ASR.FallbackBackend = ASROpenAI }, ""},
		{"bad format", func(c *Config) { c.ASR.OutputFormats = []string{"xlsx", "mp3"} }, "unsupported format"},
		{"remote without url", func(c *Config) { c.ASR.Backend = ASRRemoteWhisper }, "base_url is required"},
		{"remote with url", func(c *Config) {
			c.ASR.Backend = ASRRemoteWhisper
			c.ASR.Remote.BaseURL = "http://whisper:9000"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_NilASRGetsDefaults(t *testing.T) {
	cfg := &Config{GapThreshold: DefaultGapThreshold}
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.ASR)
	assert.Equal(t, []string{"xlsx"}, cfg.ASR.OutputFormats)
}
