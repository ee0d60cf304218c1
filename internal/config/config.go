package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Backend names accepted in the config file.
const (
	DiarizePyannote = "pyannote"
	DiarizeSherpa   = "sherpa"

	ASRWhisperPython = "whisper_python"
	ASRLocalWhisper  = "local_whisper"
	ASRRemoteWhisper = "remote_whisper_api"
	ASROpenAI        = "openai_whisper"

	ConverterAuto   = "auto"
	ConverterFFmpeg = "ffmpeg"
	ConverterNative = "native"
)

// DefaultGapThreshold is the pause, in seconds, that starts a new speaker
// when the config file does not set one.
const DefaultGapThreshold = 2.0

// Default directory names, relative to the work dir.
const (
	DefaultDownloadDir       = "Downloaded_WAV"
	DefaultConvertedDir      = "Converted_WAV"
	DefaultTimestampsDir     = "Timestamps"
	DefaultTranscriptionsDir = "Transcriptions"
)

var (
	validDiarize    = []string{DiarizePyannote, DiarizeSherpa}
	validASR        = []string{ASRWhisperPython, ASRLocalWhisper, ASRRemoteWhisper, ASROpenAI}
	validConverters = []string{ConverterAuto, ConverterFFmpeg, ConverterNative}
	validFormats    = []string{"xlsx", "csv", "txt", "srt", "vtt"}
)

// Config is the on-disk configuration, overlaid with environment variables.
type Config struct {
	WorkDir           string   `json:"work_dir,omitempty"`
	DownloadDir       string   `json:"download_dir"`
	ConvertedDir      string   `json:"converted_dir"`
	TimestampsDir     string   `json:"timestamps_dir"`
	TranscriptionsDir string   `json:"transcriptions_dir"`
	InputExtensions   []string `json:"input_extensions"`         // convert stage filter
	GapThreshold      float64  `json:"gap_threshold_seconds"`    // gap labeling threshold, > 0
	SkipExisting      bool     `json:"skip_existing,omitempty"`  // keep outputs that already exist
	Python            string   `json:"python,omitempty"`         // interpreter for embedded helpers
	DatabaseURL       string   `json:"database_url,omitempty"`   // optional Postgres sink
	EventsAddr        string   `json:"events_addr,omitempty"`    // optional websocket listener
	LogLevel          string   `json:"log_level,omitempty"`
	LogFormat         string   `json:"log_format,omitempty"`

	Download DownloadConfig `json:"download"`
	Convert  ConvertConfig  `json:"convert"`
	Diarize  DiarizeConfig  `json:"diarize"`
	ASR      *ASRConfig     `json:"asr,omitempty"`
}

// DownloadConfig configures the yt-dlp stage.
type DownloadConfig struct {
	Binary   string `json:"binary"`
	Format   string `json:"format"`
	Sanitize bool   `json:"sanitize,omitempty"`
}

// ConvertConfig selects the converter.
type ConvertConfig struct {
	Converter string `json:"converter"` // auto, ffmpeg or native
	FFmpeg    string `json:"ffmpeg"`
}

// DiarizeConfig configures acoustic diarization.
type DiarizeConfig struct {
	Backend          string       `json:"backend"`
	Pipeline         string       `json:"pipeline,omitempty"`
	Device           string       `json:"device,omitempty"`
	NumSpeakers      int          `json:"num_speakers,omitempty"`
	TimeoutSeconds   int          `json:"timeout_seconds,omitempty"`
	HuggingFaceToken string       `json:"-"`
	Sherpa           SherpaConfig `json:"sherpa"`
}

// SherpaConfig holds the ONNX model paths for in-process diarization.
type SherpaConfig struct {
	SegmentationModel string  `json:"segmentation_model,omitempty"`
	EmbeddingModel    string  `json:"embedding_model,omitempty"`
	NumThreads        int     `json:"num_threads,omitempty"`
	Threshold         float32 `json:"threshold,omitempty"`
	Provider          string  `json:"provider,omitempty"`
}

// ASRConfig configures transcription backends.
type ASRConfig struct {
	Backend         string   `json:"backend"`
	FallbackBackend string   `json:"fallback_backend,omitempty"`
	Language        string   `json:"language,omitempty"`
	Model           string   `json:"model,omitempty"`
	Device          string   `json:"device,omitempty"`
	TimeoutSeconds  int      `json:"timeout_seconds,omitempty"`
	OutputFormats   []string `json:"output_formats"`

	LocalWhisper LocalWhisperConfig `json:"local_whisper"`
	Remote       RemoteConfig       `json:"remote"`
	OpenAI       OpenAIConfig       `json:"openai"`
}

// LocalWhisperConfig points at a whisper CLI binary.
type LocalWhisperConfig struct {
	BinaryPath string `json:"binary_path,omitempty"`
	ModelPath  string `json:"model_path,omitempty"`
	Threads    int    `json:"threads,omitempty"`
}

// RemoteConfig points at a remote whisper HTTP API.
type RemoteConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Token   string `json:"-"`
	Retries int    `json:"retries,omitempty"`
}

// OpenAIConfig configures the OpenAI transcription API.
type OpenAIConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"-"`
	Model   string `json:"model,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{GapThreshold: DefaultGapThreshold}
	cfg.applyDefaults()
	return cfg
}

// DefaultPath returns AUDIOPIPE_CONFIG or ~/.config/audiopipe/config.json.
func DefaultPath() string {
	if p := os.Getenv("AUDIOPIPE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "audiopipe", "config.json")
}

// Load reads the config at path, falling back to defaults when the file does
// not exist, then overlays the environment (including a .env file in the
// current directory when present).
func Load(path string) (*Config, error) {
	// Preset so an absent key keeps the default and an explicit 0 is
	// rejected by Validate.
	cfg := &Config{GapThreshold: DefaultGapThreshold}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path without overriding variables
// already set in the process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays secrets and overrides from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("AUDIOPIPE_WORKDIR"); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv("AUDIOPIPE_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("AUDIOPIPE_PY"); v != "" {
		c.Python = v
	}
	if v := os.Getenv("AUDIOPIPE_GAP_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid AUDIOPIPE_GAP_THRESHOLD %q: %w", v, err)
		}
		c.GapThreshold = f
	}
	c.Diarize.HuggingFaceToken = os.Getenv("HUGGING_FACE_TOKEN")
	if c.ASR == nil {
		c.ASR = &ASRConfig{}
	}
	c.ASR.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.ASR.Remote.Token = os.Getenv("AUDIOPIPE_WHISPER_TOKEN")
	return nil
}

// Save validates cfg and writes it to path with indentation.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Dir resolves a configured directory against the work dir.
func (c *Config) Dir(name string) string {
	if filepath.IsAbs(name) || c.WorkDir == "" {
		return name
	}
	return filepath.Join(c.WorkDir, name)
}

// Validate fills defaults and checks the configuration.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.GapThreshold <= 0 {
		return fmt.Errorf("gap_threshold_seconds must be > 0, got %v", c.GapThreshold)
	}
	for _, ext := range c.InputExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("input_extensions entry %q must start with a dot", ext)
		}
	}
	if !slices.Contains(validConverters, c.Convert.Converter) {
		return fmt.Errorf("convert.converter must be one of %v, got %q", validConverters, c.Convert.Converter)
	}
	if !slices.Contains(validDiarize, c.Diarize.Backend) {
		return fmt.Errorf("diarize.backend must be one of %v, got %q", validDiarize, c.Diarize.Backend)
	}
	if c.Diarize.NumSpeakers < 0 {
		return fmt.Errorf("diarize.num_speakers must be >= 0, got %d", c.Diarize.NumSpeakers)
	}
	return c.ASR.validate()
}

func (c *Config) applyDefaults() {
	if c.DownloadDir == "" {
		c.DownloadDir = DefaultDownloadDir
	}
	if c.ConvertedDir == "" {
		c.ConvertedDir = DefaultConvertedDir
	}
	if c.TimestampsDir == "" {
		c.TimestampsDir = DefaultTimestampsDir
	}
	if c.TranscriptionsDir == "" {
		c.TranscriptionsDir = DefaultTranscriptionsDir
	}
	if len(c.InputExtensions) == 0 {
		c.InputExtensions = []string{".wav"}
	}
	for i, ext := range c.InputExtensions {
		c.InputExtensions[i] = strings.ToLower(ext)
	}
	if c.Download.Binary == "" {
		c.Download.Binary = "yt-dlp"
	}
	if c.Download.Format == "" {
		c.Download.Format = "bestaudio/best"
	}
	if c.Convert.Converter == "" {
		c.Convert.Converter = ConverterAuto
	}
	if c.Convert.FFmpeg == "" {
		c.Convert.FFmpeg = "ffmpeg"
	}
	if c.Diarize.Backend == "" {
		c.Diarize.Backend = DiarizePyannote
	}
	if c.ASR == nil {
		c.ASR = &ASRConfig{}
	}
	c.ASR.applyDefaults()
}

func (a *ASRConfig) applyDefaults() {
	if a.Backend == "" {
		a.Backend = ASRWhisperPython
	}
	if len(a.OutputFormats) == 0 {
		a.OutputFormats = []string{"xlsx"}
	}
}

func (a *ASRConfig) validate() error {
	if !slices.Contains(validASR, a.Backend) {
		return fmt.Errorf("asr.backend must be one of %v, got %q", validASR, a.Backend)
	}
	if a.FallbackBackend != "" {
		if !slices.Contains(validASR, a.FallbackBackend) {
			return fmt.Errorf("asr.fallback_backend must be one of %v, got %q", validASR, a.FallbackBackend)
		}
		if a.FallbackBackend == a.Backend {
			return fmt.Errorf("asr.fallback_backend must differ from asr.backend (%q)", a.Backend)
		}
	}
	for _, f := range a.OutputFormats {
		if !slices.Contains(validFormats, f) {
			return fmt.Errorf("asr.output_formats: unsupported format %q (valid: %v)", f, validFormats)
		}
	}
	if a.Backend == ASRRemoteWhisper && a.Remote.BaseURL == "" {
		return fmt.Errorf("asr.remote.base_url is required for backend %q", ASRRemoteWhisper)
	}
	return nil
}
