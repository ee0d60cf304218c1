// Package testutil holds fixtures shared by package tests: fake external
// tools and small WAV files.
package testutil

import (
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// RequireUnix skips tests that rely on /bin/sh scripts standing in for
// external tools.
func RequireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
}

// RequirePython returns the python3 on PATH, skipping the test without one.
// Tests use it to run the embedded helpers against stub packages.
func RequirePython(t *testing.T) string {
	t.Helper()
	RequireUnix(t)
	p, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	return p
}

// WriteScript creates an executable /bin/sh script named name in dir and
// returns its path.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("write fake script %s: %v", name, err)
	}
	return path
}

// WriteFile writes data to dir/name, creating dir if needed.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteWAV encodes interleaved 16-bit samples as a PCM WAV file.
func WriteWAV(t *testing.T, path string, sampleRate, channels int, samples []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
}

// Sine returns n frames of a sine tone at freq Hz, duplicated across channels.
func Sine(n, sampleRate, channels int, freq float64) []int {
	out := make([]int, 0, n*channels)
	for i := 0; i < n; i++ {
		v := int(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		for c := 0; c < channels; c++ {
			out = append(out, v)
		}
	}
	return out
}
