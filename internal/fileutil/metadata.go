// Package fileutil holds file naming, atomic writes and the per-output
// metadata sidecar.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// OutputMetadata is the sidecar written next to every stage output as
// <output-stem>.meta.json.
type OutputMetadata struct {
	Version      string    `json:"version"`
	RunID        string    `json:"run_id"`
	Stage        string    `json:"stage"`
	Source       string    `json:"source"`
	Output       string    `json:"output"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DurationMs   int64     `json:"duration_ms"`
	AudioSeconds float64   `json:"audio_seconds,omitempty"`
	Backend      string    `json:"backend,omitempty"`
	Model        string    `json:"model,omitempty"`
	Language     string    `json:"language,omitempty"`
	Segments     int       `json:"segments"`
	Speakers     int       `json:"speakers,omitempty"`
	Formats      []string  `json:"formats,omitempty"`
}

// WriteMetadata atomically writes the sidecar for outputPath.
func WriteMetadata(outputPath string, meta *OutputMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := AtomicWriteFile(MetadataPath(outputPath), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads the sidecar for outputPath.
func ReadMetadata(outputPath string) (*OutputMetadata, error) {
	data, err := os.ReadFile(MetadataPath(outputPath))
	if err != nil {
		return nil, err
	}
	var meta OutputMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// MetadataPath returns <dir>/<stem>.meta.json for outputPath.
func MetadataPath(outputPath string) string {
	return strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".meta.json"
}
