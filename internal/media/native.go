package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Native converts .wav and .mp3 in-process: decode, downmix to mono,
// linear resample to 16 kHz and encode PCM16.
type Native struct{}

// Name returns the converter identifier.
func (Native) Name() string { return "native" }

// NativeExtensions lists the inputs Native can decode.
var NativeExtensions = []string{".wav", ".mp3"}

// Convert decodes in and writes out atomically.
func (n Native) Convert(ctx context.Context, in, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mono, rate, err := decodeMono(in)
	if err != nil {
		return fmt.Errorf("native: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	samples := resampleLinear(mono, rate, TargetSampleRate)
	if err := writePCM16(out, samples, TargetSampleRate); err != nil {
		return fmt.Errorf("native: %w", err)
	}
	return nil
}

// decodeMono returns mono samples in [-1, 1] and their sample rate.
func decodeMono(path string) ([]float32, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(path)
	case ".mp3":
		return decodeMP3(path)
	default:
		return nil, 0, fmt.Errorf("unsupported input %q (native converter handles %s)", filepath.Base(path), strings.Join(NativeExtensions, ", "))
	}
}

func decodeWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a valid WAV file", filepath.Base(path))
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, fmt.Errorf("decode %s: missing format", filepath.Base(path))
	}
	return downmixInts(buf.Data, buf.Format.NumChannels, int(dec.BitDepth)), buf.Format.SampleRate, nil
}

func decodeMP3(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("create mp3 decoder: %w", err)
	}
	// go-mp3 always yields signed 16-bit little-endian stereo.
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("read mp3 pcm: %w", err)
	}
	frames := len(pcm) / 4
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		mono[i] = (float32(l) + float32(r)) / 2 / 32768
	}
	return mono, dec.SampleRate(), nil
}

// downmixInts averages interleaved integer samples into normalised mono.
func downmixInts(data []int, channels, bitDepth int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	scale := float32(int64(1) << (bitDepth - 1))
	offset := float32(0)
	if bitDepth == 8 {
		// 8-bit WAV is unsigned.
		offset = 128
	}
	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(data[i*channels+c]) - offset
		}
		out[i] = sum / float32(channels) / scale
	}
	return out
}

// resampleLinear resamples by linear interpolation between neighbours.
func resampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(srcRate) / float64(dstRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// writePCM16 encodes mono samples to path via a temp file and rename.
func writePCM16(path string, samples []float32, rate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	data := make([]int, len(samples))
	for i, s := range samples {
		v := int(s * 32767)
		data[i] = max(-32768, min(32767, v))
	}

	enc := wav.NewEncoder(f, rate, TargetBitDepth, TargetChannels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: TargetChannels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: TargetBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalise wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
