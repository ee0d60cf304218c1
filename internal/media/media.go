// Package media fetches and normalises audio: yt-dlp downloads, conversion
// to 16 kHz mono PCM16 WAV and WAV inspection.
package media

import (
	"context"
	"path/filepath"
	"strings"
)

// Target format every converter produces and the diarization and
// transcription stages expect.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
	TargetBitDepth   = 16
)

// Converter turns one audio file into a TargetSampleRate mono WAV.
type Converter interface {
	Name() string
	Convert(ctx context.Context, in, out string) error
}

// HasExt reports whether path ends in one of exts (case-insensitive, with
// leading dot).
func HasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
