package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/audiopipe/testutil"
)

func TestNativeConvert_StereoWAV(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	testutil.WriteWAV(t, in, 44100, 2, testutil.Sine(44100, 44100, 2, 440))

	out := filepath.Join(dir, "out", "in.wav")
	require.NoError(t, Native{}.Convert(context.Background(), in, out))

	info, err := Probe(out)
	require.NoError(t, err)
	assert.True(t, info.IsTarget(), info.String())
	assert.InDelta(t, time.Second.Seconds(), info.Duration.Seconds(), 0.01)

	samples, err := ReadMonoFloat32(out)
	require.NoError(t, err)
	assert.InDelta(t, 16000, len(samples), 2)

	_, err = os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestNativeConvert_AlreadyTarget(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	testutil.WriteWAV(t, in, 16000, 1, testutil.Sine(8000, 16000, 1, 200))

	out := filepath.Join(dir, "out.wav")
	require.NoError(t, Native{}.Convert(context.Background(), in, out))

	info, err := Probe(out)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, info.Duration.Round(time.Millisecond))
}

func TestNativeConvert_Unsupported(t *testing.T) {
	in := testutil.WriteFile(t, t.TempDir(), "clip.m4a", []byte("x"))
	err := Native{}.Convert(context.Background(), in, filepath.Join(t.TempDir(), "o.wav"))
	assert.ErrorContains(t, err, "unsupported input")
}

func TestNativeConvert_InvalidWAV(t *testing.T) {
	in := testutil.WriteFile(t, t.TempDir(), "bad.wav", []byte("definitely not riff"))
	err := Native{}.Convert(context.Background(), in, filepath.Join(t.TempDir(), "o.wav"))
	assert.ErrorContains(t, err, "not a valid WAV")
}

func TestNativeConvert_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Native{}.Convert(ctx, "in.wav", "out.wav")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownmixInts(t *testing.T) {
	got := downmixInts([]int{16384, -16384, 32767, 32767}, 2, 16)
	require.Len(t, got, 2)
	assert.InDelta(t, 0, got[0], 1e-6)
	assert.InDelta(t, 1, got[1], 1e-3)

	eight := downmixInts([]int{128, 255, 0}, 1, 8)
	assert.InDelta(t, 0, eight[0], 1e-6)
	assert.InDelta(t, 0.992, eight[1], 1e-3)
	assert.InDelta(t, -1, eight[2], 1e-6)
}

func TestResampleLinear(t *testing.T) {
	in := []float32{0, 1, 2, 3, 4, 5, 6, 7}

	assert.Equal(t, in, resampleLinear(in, 16000, 16000))
	assert.Equal(t, []float32{0, 2, 4, 6}, resampleLinear(in, 32000, 16000))

	up := resampleLinear([]float32{0, 1}, 8000, 16000)
	assert.Equal(t, []float32{0, 0.5, 1, 1}, up)

	assert.Empty(t, resampleLinear(nil, 44100, 16000))
}

func TestProbe_NotWAV(t *testing.T) {
	p := testutil.WriteFile(t, t.TempDir(), "x.wav", []byte("nope"))
	_, err := Probe(p)
	assert.Error(t, err)

	_, err = Probe(filepath.Join(t.TempDir(), "missing.wav"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHasExt(t *testing.T) {
	assert.True(t, HasExt("a/B.WAV", []string{".wav"}))
	assert.True(t, HasExt("a.mp3", []string{".wav", ".MP3"}))
	assert.False(t, HasExt("a.wav.part", []string{".wav"}))
	assert.False(t, HasExt("wav", []string{".wav"}))
}
