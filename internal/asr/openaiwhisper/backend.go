// Package openaiwhisper transcribes through the OpenAI audio transcription
// API or any server that implements it (LocalAI, faster-whisper-server).
package openaiwhisper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/tiroq/audiopipe/internal/asr"
)

// Name is the backend identifier.
const Name = "openai_whisper"

const defaultModel = "whisper-1"

var _ asr.Backend = (*Backend)(nil)

// Config configures the OpenAI-compatible backend.
type Config struct {
	BaseURL        string // "" = api.openai.com
	APIKey         string
	Model          string // default "whisper-1"
	TimeoutSeconds int    // per request, default 600
	Retries        int    // SDK retries; negative keeps the SDK default
}

// Backend calls /audio/transcriptions with verbose_json so segment timings
// are returned.
type Backend struct {
	cfg    Config
	client openai.Client
}

// NewBackend builds the SDK client from cfg.
func NewBackend(cfg Config) *Backend {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 600
	}

	requestOpts := []option.RequestOption{
		option.WithRequestTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second),
	}
	if cfg.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Retries >= 0 {
		requestOpts = append(requestOpts, option.WithMaxRetries(cfg.Retries))
	}
	return &Backend{cfg: cfg, client: openai.NewClient(requestOpts...)}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return Name
}

// TranscribeFile uploads filePath and maps the verbose response segments.
func (b *Backend) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("openaiwhisper: %w", err)
	}
	defer func() { _ = file.Close() }()

	model := b.resolveModel(opts)
	params := openai.AudioTranscriptionNewParams{
		File:           file,
		Model:          openai.AudioModel(model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if opts.Language != "" {
		params.Language = param.NewOpt(opts.Language)
	}

	response, err := b.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openaiwhisper: %w", err)
	}
	if response == nil {
		return nil, errors.New("openaiwhisper: transcription API returned nil response")
	}

	transcript := &asr.Transcript{
		Language: response.Language,
		Duration: asr.SecondsToDuration(response.Duration),
		Model:    model,
		Backend:  b.Name(),
	}
	for _, seg := range response.Segments {
		transcript.Segments = append(transcript.Segments, asr.Segment{
			Start: asr.SecondsToDuration(seg.Start),
			End:   asr.SecondsToDuration(seg.End),
			Text:  seg.Text,
			Score: logprobScore(seg.AvgLogprob),
		})
	}
	// Servers that ignore verbose_json still return the full text.
	if len(transcript.Segments) == 0 && strings.TrimSpace(response.Text) != "" {
		transcript.Segments = []asr.Segment{{
			Start: 0,
			End:   transcript.Duration,
			Text:  response.Text,
		}}
	}
	return transcript, nil
}

// HealthCheck looks up the configured model.
func (b *Backend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	status := &asr.HealthStatus{Backend: b.Name()}
	start := time.Now()
	m, err := b.client.Models.Get(ctx, b.cfg.Model)
	status.Latency = time.Since(start)
	if err != nil {
		status.Message = fmt.Sprintf("model lookup failed: %v", err)
		return status, nil
	}
	status.OK = true
	status.Message = fmt.Sprintf("model %s available", m.ID)
	return status, nil
}

func (b *Backend) resolveModel(opts asr.TranscribeOptions) string {
	if m := strings.TrimSpace(opts.Model); m != "" {
		return m
	}
	return b.cfg.Model
}

// logprobScore maps an average token log-probability to 0..1.
func logprobScore(avg float64) float64 {
	if avg == 0 {
		return 0
	}
	return math.Min(1, math.Exp(avg))
}
