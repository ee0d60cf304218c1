package media

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/wav"
)

// Info describes a WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// IsTarget reports whether the file already matches the converter output.
func (i Info) IsTarget() bool {
	return i.SampleRate == TargetSampleRate && i.Channels == TargetChannels && i.BitDepth == TargetBitDepth
}

func (i Info) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d-bit, %s", i.SampleRate, i.Channels, i.BitDepth, i.Duration.Round(time.Millisecond))
}

// Probe reads the WAV header of path.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("%s: not a valid WAV file", filepath.Base(path))
	}
	d, err := dec.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("%s: duration: %w", filepath.Base(path), err)
	}
	return Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Duration:   d,
	}, nil
}

// ReadMonoFloat32 decodes a WAV file into mono float32 samples at
// TargetSampleRate, downmixing and resampling when needed.
func ReadMonoFloat32(path string) ([]float32, error) {
	mono, rate, err := decodeWAV(path)
	if err != nil {
		return nil, err
	}
	return resampleLinear(mono, rate, TargetSampleRate), nil
}
