// Package localwhisper transcribes with a whisper CLI binary (whisper.cpp,
// faster-whisper or compatible) that prints JSON segments on stdout.
package localwhisper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tiroq/audiopipe/internal/asr"
	"github.com/tiroq/audiopipe/internal/runner"
)

// Name is the backend identifier.
const Name = "local_whisper"

var _ asr.Backend = (*Backend)(nil)

// Config configures the local whisper CLI backend.
type Config struct {
	BinaryPath     string // path to whisper-cpp or faster-whisper CLI
	ModelPath      string // path to .bin model file
	Model          string // model name (e.g., "small", "base")
	Threads        int    // CPU threads (0 = auto)
	TimeoutSeconds int    // default 1800
}

// Backend shells out to a whisper CLI binary for local transcription.
type Backend struct {
	cfg Config
}

// NewBackend creates a new local whisper backend with the given config.
func NewBackend(cfg Config) *Backend {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 1800
	}
	return &Backend{cfg: cfg}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return Name
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

type whisperOutput struct {
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

// TranscribeFile invokes the whisper CLI subprocess to transcribe an audio file.
func (b *Backend) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	if _, err := os.Stat(b.cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("localwhisper: binary not found at %q: %w", b.cfg.BinaryPath, err)
	}

	out, err := runner.Run(ctx, runner.Command{
		Path:    b.cfg.BinaryPath,
		Args:    b.buildArgs(filePath, opts),
		Timeout: time.Duration(b.cfg.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("localwhisper: %w", err)
	}

	var output whisperOutput
	if err := json.Unmarshal(out, &output); err != nil {
		return nil, fmt.Errorf("localwhisper: failed to parse JSON output: %w", err)
	}

	transcript := &asr.Transcript{
		Language: output.Language,
		Model:    b.resolveModel(opts),
		Backend:  b.Name(),
	}
	for _, seg := range output.Segments {
		transcript.Segments = append(transcript.Segments, asr.Segment{
			Start: asr.SecondsToDuration(seg.Start),
			End:   asr.SecondsToDuration(seg.End),
			Text:  seg.Text,
			Score: seg.Score,
		})
	}
	if n := len(transcript.Segments); n > 0 {
		transcript.Duration = transcript.Segments[n-1].End
	}
	return transcript, nil
}

// HealthCheck verifies the whisper binary exists, is executable, and responds.
func (b *Backend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	status := &asr.HealthStatus{Backend: b.Name()}

	info, err := os.Stat(b.cfg.BinaryPath)
	if err != nil {
		status.Message = fmt.Sprintf("binary not found at %q: %v", b.cfg.BinaryPath, err)
		return status, nil
	}
	if info.Mode()&0111 == 0 {
		status.Message = fmt.Sprintf("binary at %q is not executable", b.cfg.BinaryPath)
		return status, nil
	}
	if b.cfg.ModelPath != "" {
		if _, err := os.Stat(b.cfg.ModelPath); err != nil {
			status.Message = fmt.Sprintf("model not found at %q: %v", b.cfg.ModelPath, err)
			return status, nil
		}
	}

	start := time.Now()
	_, err = runner.Run(ctx, runner.Command{
		Path:    b.cfg.BinaryPath,
		Args:    []string{"--help"},
		Timeout: 10 * time.Second,
	})
	status.Latency = time.Since(start)
	// --help exits non-zero on some builds; only a failure to execute counts.
	if err != nil {
		if _, ok := err.(*runner.ExitError); !ok {
			status.Message = fmt.Sprintf("binary failed to execute: %v", err)
			return status, nil
		}
	}

	status.OK = true
	status.Message = "binary is available and executable"
	return status, nil
}

func (b *Backend) buildArgs(filePath string, opts asr.TranscribeOptions) []string {
	var args []string
	if b.cfg.ModelPath != "" {
		args = append(args, "--model", b.cfg.ModelPath)
	}
	args = append(args, "--output-json")
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if b.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(b.cfg.Threads))
	}
	return append(args, filePath)
}

func (b *Backend) resolveModel(opts asr.TranscribeOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return b.cfg.Model
}
