// Package whisperpy runs the openai-whisper Python package through an
// embedded helper script. It is the default backend and uses the "large"
// model unless told otherwise.
package whisperpy

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/tiroq/audiopipe/internal/asr"
	"github.com/tiroq/audiopipe/internal/pyhelper"
	"github.com/tiroq/audiopipe/internal/runner"
)

//go:embed assets/whisper_transcribe.py
var helperSource []byte

// Name is the backend identifier.
const Name = "whisper_python"

// DefaultModel is the whisper checkpoint loaded when none is configured.
const DefaultModel = "large"

var _ asr.Backend = (*Backend)(nil)

// Config configures the Python whisper backend.
type Config struct {
	Python         string // interpreter, "" = AUDIOPIPE_PY or python3
	Model          string
	Device         string // "auto" (cuda when available), "cpu", "cuda", ...
	TimeoutSeconds int    // per file, model load included; default 7200
}

// Backend transcribes through one long-lived helper that keeps the model
// loaded between files.
type Backend struct {
	cfg     Config
	session *pyhelper.Session
}

// NewBackend returns a backend with defaults applied.
func NewBackend(cfg Config) *Backend {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 7200
	}
	b := &Backend{cfg: cfg}
	script := pyhelper.Script{Name: "whisper", Source: helperSource}
	b.session = script.Session(pyhelper.Invocation{
		Python:  cfg.Python,
		Args:    b.buildArgs(),
		Stderr:  os.Stderr,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	return b
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return Name
}

type helperRequest struct {
	Audio    string `json:"audio"`
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type helperOutput struct {
	Language string `json:"language"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// TranscribeFile sends filePath to the helper. The model is loaded on the
// first call and again only when opts names a different one.
func (b *Backend) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("whisperpy: %w", err)
	}
	model := b.cfg.Model
	if opts.Model != "" {
		model = opts.Model
	}

	var out helperOutput
	req := helperRequest{Audio: filePath, Model: model, Language: opts.Language}
	if err := b.session.Call(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("whisperpy: %w", err)
	}

	tr := &asr.Transcript{Language: out.Language, Model: model, Backend: b.Name()}
	for _, s := range out.Segments {
		score := 0.0
		if s.AvgLogprob != 0 {
			score = math.Min(1, math.Exp(s.AvgLogprob))
		}
		tr.Segments = append(tr.Segments, asr.Segment{
			Start: asr.SecondsToDuration(s.Start),
			End:   asr.SecondsToDuration(s.End),
			Text:  s.Text,
			Score: score,
		})
	}
	if n := len(tr.Segments); n > 0 {
		tr.Duration = tr.Segments[n-1].End
	}
	return tr, nil
}

// HealthCheck verifies that the interpreter can import whisper.
func (b *Backend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	status := &asr.HealthStatus{Backend: b.Name()}
	py := pyhelper.Interpreter(b.cfg.Python)

	start := time.Now()
	_, err := runner.Run(ctx, runner.Command{
		Path:    py,
		Args:    []string{"-c", "import whisper"},
		Timeout: 60 * time.Second,
	})
	status.Latency = time.Since(start)
	if err != nil {
		status.Message = fmt.Sprintf("whisper package unavailable: %v", err)
		return status, nil
	}
	status.OK = true
	status.Message = fmt.Sprintf("whisper importable with %s (model %s)", py, b.cfg.Model)
	return status, nil
}

// Close stops the helper process.
func (b *Backend) Close() error {
	return b.session.Close()
}

func (b *Backend) buildArgs() []string {
	return []string{"--model", b.cfg.Model, "--device", b.cfg.Device}
}
