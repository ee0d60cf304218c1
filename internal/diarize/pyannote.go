package diarize

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tiroq/audiopipe/internal/pyhelper"
)

//go:embed assets/pyannote_diarize.py
var pyannoteSource []byte

// DefaultPipeline is the pretrained pyannote pipeline.
const DefaultPipeline = "pyannote/speaker-diarization@2.1"

// ErrNoToken is returned when no Hugging Face token is configured.
var ErrNoToken = errors.New("HUGGING_FACE_TOKEN is not set")

// PyannoteConfig configures the pyannote helper.
type PyannoteConfig struct {
	Python         string
	Token          string // Hugging Face access token
	Pipeline       string // default DefaultPipeline
	Device         string // "auto" (cuda when available), "cpu", "cuda", ...
	NumSpeakers    int    // 0 = estimate
	TimeoutSeconds int    // per file, first pipeline load included; default 7200
}

// Pyannote runs the pyannote.audio pipeline in one long-lived helper, so the
// pretrained pipeline is loaded once per run.
type Pyannote struct {
	cfg     PyannoteConfig
	session *pyhelper.Session
}

// NewPyannote fails fast when the token is missing.
func NewPyannote(cfg PyannoteConfig) (*Pyannote, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	if cfg.Pipeline == "" {
		cfg.Pipeline = DefaultPipeline
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 7200
	}
	p := &Pyannote{cfg: cfg}
	script := pyhelper.Script{Name: "pyannote", Source: pyannoteSource}
	p.session = script.Session(pyhelper.Invocation{
		Python:  cfg.Python,
		Args:    p.args(),
		Env:     []string{"HUGGING_FACE_TOKEN=" + cfg.Token},
		Stderr:  os.Stderr,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
	return p, nil
}

// Name returns the backend identifier.
func (p *Pyannote) Name() string { return "pyannote" }

// Diarize runs the helper on wavPath.
func (p *Pyannote) Diarize(ctx context.Context, wavPath string) ([]Turn, error) {
	if _, err := os.Stat(wavPath); err != nil {
		return nil, fmt.Errorf("pyannote: %w", err)
	}
	var out struct {
		Turns []struct {
			Speaker string  `json:"speaker"`
			Start   float64 `json:"start"`
			End     float64 `json:"end"`
		} `json:"turns"`
	}
	req := struct {
		Audio string `json:"audio"`
	}{Audio: wavPath}
	if err := p.session.Call(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("pyannote: %w", err)
	}

	turns := make([]Turn, 0, len(out.Turns))
	for _, t := range out.Turns {
		turns = append(turns, Turn{Speaker: t.Speaker, Start: t.Start, End: t.End})
	}
	SortTurns(turns)
	return turns, nil
}

// Close stops the helper process.
func (p *Pyannote) Close() error {
	return p.session.Close()
}

func (p *Pyannote) args() []string {
	args := []string{"--pipeline", p.cfg.Pipeline, "--device", p.cfg.Device}
	if p.cfg.NumSpeakers > 0 {
		args = append(args, "--num-speakers", strconv.Itoa(p.cfg.NumSpeakers))
	}
	return args
}
