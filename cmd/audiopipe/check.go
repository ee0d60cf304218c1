package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tiroq/audiopipe/internal/config"
	"github.com/tiroq/audiopipe/internal/pyhelper"
	"github.com/tiroq/audiopipe/internal/validation"
)

// check runs the preflight for the configured stages and prints one line
// per result.
func (a *app) check(ctx context.Context, stdout io.Writer) error {
	cfg := a.cfg
	var results []*validation.ValidationResult

	results = append(results, validation.CheckTool(ctx, validation.Tool{
		Name:   "yt-dlp",
		Binary: cfg.Download.Binary,
		Fix:    "Install yt-dlp: pip install -U yt-dlp",
	}))

	if cfg.Convert.Converter != config.ConverterNative {
		results = append(results, validation.CheckTool(ctx, validation.Tool{
			Name:        "ffmpeg",
			Binary:      cfg.Convert.FFmpeg,
			VersionArgs: []string{"-version"},
			Optional:    cfg.Convert.Converter == config.ConverterAuto,
			Fix:         "Install ffmpeg (https://ffmpeg.org/download.html) or set convert.converter to native",
		}))
	}

	needPython := cfg.Diarize.Backend == config.DiarizePyannote ||
		cfg.ASR.Backend == config.ASRWhisperPython || cfg.ASR.FallbackBackend == config.ASRWhisperPython
	if needPython {
		results = append(results, validation.CheckTool(ctx, validation.Tool{
			Name:   "python",
			Binary: pyhelper.Interpreter(cfg.Python),
			Min:    &validation.Version{Major: 3, Minor: 8},
			Fix:    "Install Python 3.8+ or point AUDIOPIPE_PY at a suitable interpreter",
		}))
	}

	switch cfg.Diarize.Backend {
	case config.DiarizeSherpa:
		results = append(results, validation.CheckFiles("sherpa", cfg.Diarize.Sherpa.SegmentationModel, cfg.Diarize.Sherpa.EmbeddingModel))
	default:
		results = append(results, validation.CheckSecret("HUGGING_FACE_TOKEN", cfg.Diarize.HuggingFaceToken,
			"Create a read token at https://huggingface.co/settings/tokens and export HUGGING_FACE_TOKEN"))
	}

	for i, name := range []string{cfg.ASR.Backend, cfg.ASR.FallbackBackend} {
		if name == "" {
			continue
		}
		if name == config.ASROpenAI && cfg.ASR.OpenAI.BaseURL == "" {
			results = append(results, validation.CheckSecret("OPENAI_API_KEY", cfg.ASR.OpenAI.APIKey, "Export OPENAI_API_KEY"))
		}
		model := ""
		if i == 0 {
			model = cfg.ASR.Model
		}
		b, err := a.asrBackend(name, model)
		if err != nil {
			results = append(results, &validation.ValidationResult{Name: name, Message: err.Error(), Issues: []string{err.Error()}})
			continue
		}
		results = append(results, validation.CheckBackend(ctx, b))
	}

	for _, r := range results {
		mark := "[ok]  "
		if !r.OK {
			mark = "[FAIL]"
		}
		fmt.Fprintf(stdout, "%s %s\n", mark, r.Message)
		for _, w := range r.Warnings {
			fmt.Fprintf(stdout, "       warning: %s\n", w)
		}
		if !r.OK {
			for _, f := range r.Fixes {
				fmt.Fprintf(stdout, "       fix: %s\n", f)
			}
		}
	}
	summary := validation.Summary(results...)
	fmt.Fprintln(stdout, summary.Message)
	if !summary.OK {
		return errors.New(summary.Message)
	}
	return nil
}
