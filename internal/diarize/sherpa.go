package diarize

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/tiroq/audiopipe/internal/media"
)

// SherpaConfig configures in-process diarization with sherpa-onnx.
type SherpaConfig struct {
	SegmentationModel string  // pyannote segmentation ONNX model
	EmbeddingModel    string  // speaker embedding ONNX model
	NumThreads        int     // default 4
	NumSpeakers       int     // 0 = cluster by threshold
	Threshold         float32 // clustering threshold, default 0.5
	MinDurationOn     float32 // default 0.3 s
	MinDurationOff    float32 // default 0.5 s
	Provider          string  // "cpu", "cuda", "coreml"; "" = pick per platform
}

func (c *SherpaConfig) applyDefaults() {
	if c.NumThreads <= 0 {
		c.NumThreads = 4
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.MinDurationOn <= 0 {
		c.MinDurationOn = 0.3
	}
	if c.MinDurationOff <= 0 {
		c.MinDurationOff = 0.5
	}
	if c.Provider == "" || c.Provider == "auto" {
		c.Provider = "cpu"
		if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
			c.Provider = "coreml"
		}
	}
}

// Sherpa diarizes in-process. The models are loaded once and reused for
// every file; Close releases them.
type Sherpa struct {
	cfg SherpaConfig

	mu sync.Mutex
	sd *sherpa.OfflineSpeakerDiarization
}

// NewSherpa validates model paths and loads the models, retrying on CPU if
// the requested provider cannot be initialised.
func NewSherpa(cfg SherpaConfig) (*Sherpa, error) {
	for _, p := range []string{cfg.SegmentationModel, cfg.EmbeddingModel} {
		if p == "" {
			return nil, fmt.Errorf("sherpa: segmentation and embedding models are required")
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("sherpa: model: %w", err)
		}
	}
	cfg.applyDefaults()

	sd := sherpa.NewOfflineSpeakerDiarization(sherpaConfig(cfg))
	if sd == nil && cfg.Provider != "cpu" {
		cfg.Provider = "cpu"
		sd = sherpa.NewOfflineSpeakerDiarization(sherpaConfig(cfg))
	}
	if sd == nil {
		return nil, fmt.Errorf("sherpa: failed to initialise diarizer (provider %s)", cfg.Provider)
	}
	if rate := sd.SampleRate(); rate != media.TargetSampleRate {
		sherpa.DeleteOfflineSpeakerDiarization(sd)
		return nil, fmt.Errorf("sherpa: model expects %d Hz, pipeline produces %d Hz", rate, media.TargetSampleRate)
	}
	return &Sherpa{cfg: cfg, sd: sd}, nil
}

func sherpaConfig(cfg SherpaConfig) *sherpa.OfflineSpeakerDiarizationConfig {
	numClusters := -1
	if cfg.NumSpeakers > 0 {
		numClusters = cfg.NumSpeakers
	}
	return &sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote:   sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{Model: cfg.SegmentationModel},
			NumThreads: cfg.NumThreads,
			Provider:   cfg.Provider,
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      cfg.EmbeddingModel,
			NumThreads: cfg.NumThreads,
			Provider:   cfg.Provider,
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: numClusters,
			Threshold:   cfg.Threshold,
		},
		MinDurationOn:  cfg.MinDurationOn,
		MinDurationOff: cfg.MinDurationOff,
	}
}

// Name returns the backend identifier.
func (s *Sherpa) Name() string { return "sherpa" }

// Diarize decodes wavPath and clusters its speech into speaker turns.
func (s *Sherpa) Diarize(ctx context.Context, wavPath string) ([]Turn, error) {
	samples, err := media.ReadMonoFloat32(wavPath)
	if err != nil {
		return nil, fmt.Errorf("sherpa: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sd == nil {
		return nil, fmt.Errorf("sherpa: diarizer closed")
	}
	if len(samples) == 0 {
		return nil, nil
	}
	return turnsFromSegments(s.sd.Process(samples)), nil
}

// Close releases the native models.
func (s *Sherpa) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sd != nil {
		sherpa.DeleteOfflineSpeakerDiarization(s.sd)
		s.sd = nil
	}
}

func turnsFromSegments(segs []sherpa.OfflineSpeakerDiarizationSegment) []Turn {
	turns := make([]Turn, 0, len(segs))
	for _, seg := range segs {
		turns = append(turns, Turn{
			Speaker: fmt.Sprintf("SPEAKER_%02d", seg.Speaker),
			Start:   float64(seg.Start),
			End:     float64(seg.End),
		})
	}
	SortTurns(turns)
	return turns
}
