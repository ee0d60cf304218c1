package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tiroq/audiopipe/internal/runner"
)

// FFmpeg converts with `ffmpeg -y -i in -ar 16000 -ac 1 out`.
type FFmpeg struct {
	Binary  string        // default "ffmpeg"
	Timeout time.Duration // 0 = none
}

// Name returns the converter identifier.
func (f FFmpeg) Name() string { return "ffmpeg" }

// Convert runs ffmpeg once; stderr ends up in the returned error.
func (f FFmpeg) Convert(ctx context.Context, in, out string) error {
	if _, err := os.Stat(in); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	_, err := runner.Run(ctx, runner.Command{
		Path:    f.binary(),
		Args:    f.args(in, out),
		Timeout: f.Timeout,
	})
	if err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func (f FFmpeg) binary() string {
	if f.Binary != "" {
		return f.Binary
	}
	return "ffmpeg"
}

func (f FFmpeg) args(in, out string) []string {
	return []string{
		"-y",
		"-i", in,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", strconv.Itoa(TargetChannels),
		out,
	}
}

// Auto uses FFmpeg when the binary is on PATH and Native otherwise.
func Auto(binary string) Converter {
	f := FFmpeg{Binary: binary}
	if _, err := runner.LookPath(f.binary()); err == nil {
		return f
	}
	return Native{}
}
