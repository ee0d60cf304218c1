// Package asr defines the speech-to-text backend contract and a registry that
// selects between backends.
package asr

import (
	"context"
	"time"

	"github.com/tiroq/audiopipe/internal/speaker"
)

// Segment represents a single transcribed segment with timing.
type Segment struct {
	Start    time.Duration
	End      time.Duration
	Text     string
	Language string
	Score    float64 // confidence 0.0–1.0, 0 when the backend does not report one
}

// Transcript represents a complete transcription result.
type Transcript struct {
	Segments []Segment
	Language string
	Duration time.Duration
	Model    string
	Backend  string
}

// SpeakerSegments converts the transcript into the seconds-based segments the
// speaker heuristics work on.
func (t *Transcript) SpeakerSegments() []speaker.Segment {
	out := make([]speaker.Segment, len(t.Segments))
	for i, s := range t.Segments {
		out[i] = speaker.Segment{
			Start: s.Start.Seconds(),
			End:   s.End.Seconds(),
			Text:  s.Text,
		}
	}
	return out
}

// TranscribeOptions configures a transcription request.
type TranscribeOptions struct {
	Language string // "" = auto-detect
	Model    string // backend-specific model name
}

// HealthStatus reports backend health.
type HealthStatus struct {
	OK      bool
	Backend string
	Message string
	Latency time.Duration
}

// Backend is the interface that ASR backends must implement.
type Backend interface {
	Name() string
	TranscribeFile(ctx context.Context, filePath string, opts TranscribeOptions) (*Transcript, error)
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}

// SecondsToDuration converts fractional seconds to time.Duration.
func SecondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
