package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/tiroq/audiopipe/internal/config"
)

// cliFlags holds command-line overrides. Empty values leave the config as
// loaded.
type cliFlags struct {
	configPath   string
	workDir      string
	logLevel     string
	logFormat    string
	eventsAddr   string
	databaseURL  string
	skipExisting bool

	batchFile string
	sanitize  bool
	ytDLP     string

	converter  string
	extensions string

	diarizeBackend string
	numSpeakers    string
	device         string

	asrBackend string
	fallback   string
	whisperBin string
	model      string
	language   string
	formats    string
	speakers   string
	gap        string
}

func (f *cliFlags) register(fs *flag.FlagSet, cmd string) {
	fs.StringVar(&f.configPath, "config", "", "config file (default $AUDIOPIPE_CONFIG or ~/.config/audiopipe/config.json)")
	fs.StringVar(&f.workDir, "workdir", "", "directory holding the stage folders")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "text or json")
	fs.StringVar(&f.eventsAddr, "events-addr", "", "serve progress over websocket on this address")
	fs.StringVar(&f.databaseURL, "database-url", "", "also store results in this Postgres database")
	fs.BoolVar(&f.skipExisting, "skip-existing", false, "keep outputs that already exist")

	all := cmd == "run" || cmd == "check"
	if all || cmd == "download" {
		fs.StringVar(&f.batchFile, "batch-file", "", "file with one URL per line")
		fs.BoolVar(&f.sanitize, "sanitize", false, "rename downloads to filesystem-safe names")
		fs.StringVar(&f.ytDLP, "yt-dlp", "", "yt-dlp binary")
	}
	if all || cmd == "convert" || cmd == "watch" {
		fs.StringVar(&f.converter, "converter", "", "auto, ffmpeg or native")
		fs.StringVar(&f.extensions, "ext", "", "comma-separated input extensions, e.g. .wav,.mp3")
	}
	if all || cmd == "diarize" || cmd == "watch" {
		fs.StringVar(&f.diarizeBackend, "diarize-backend", "", "pyannote or sherpa")
		fs.StringVar(&f.numSpeakers, "num-speakers", "", "expected number of speakers (0 = estimate)")
	}
	if cmd != "download" && cmd != "convert" {
		fs.StringVar(&f.device, "device", "", "torch device for the Python helpers")
	}
	if all || cmd == "transcribe" || cmd == "watch" {
		fs.StringVar(&f.asrBackend, "asr", "", "whisper_python, local_whisper, remote_whisper_api or openai_whisper")
		fs.StringVar(&f.fallback, "fallback", "", "backend to try when the primary fails")
		fs.StringVar(&f.whisperBin, "whisper-bin", "", "whisper CLI binary for local_whisper")
		fs.StringVar(&f.model, "model", "", "model for the primary backend")
		fs.StringVar(&f.language, "language", "", "spoken language, empty to detect")
		fs.StringVar(&f.formats, "formats", "", "comma-separated transcript formats: xlsx, csv, txt, srt, vtt")
		fs.StringVar(&f.speakers, "speakers", "", "gap (pause heuristic) or diarization (Timestamps sheets)")
		fs.StringVar(&f.gap, "gap", "", "pause in seconds that starts a new speaker")
	}
}

// apply overlays non-empty flags onto cfg and revalidates it.
func (f *cliFlags) apply(cfg *config.Config) error {
	if f.workDir != "" {
		cfg.WorkDir = f.workDir
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
	}
	if f.eventsAddr != "" {
		cfg.EventsAddr = f.eventsAddr
	}
	if f.databaseURL != "" {
		cfg.DatabaseURL = f.databaseURL
	}
	if f.skipExisting {
		cfg.SkipExisting = true
	}
	if f.sanitize {
		cfg.Download.Sanitize = true
	}
	if f.ytDLP != "" {
		cfg.Download.Binary = f.ytDLP
	}
	if f.converter != "" {
		cfg.Convert.Converter = f.converter
	}
	if f.extensions != "" {
		cfg.InputExtensions = splitList(f.extensions)
	}
	if f.diarizeBackend != "" {
		cfg.Diarize.Backend = f.diarizeBackend
	}
	if f.numSpeakers != "" {
		n, err := strconv.Atoi(f.numSpeakers)
		if err != nil {
			return fmt.Errorf("invalid -num-speakers %q", f.numSpeakers)
		}
		cfg.Diarize.NumSpeakers = n
	}
	if f.device != "" {
		cfg.Diarize.Device = f.device
		cfg.ASR.Device = f.device
	}
	if f.asrBackend != "" {
		cfg.ASR.Backend = f.asrBackend
	}
	if f.fallback != "" {
		cfg.ASR.FallbackBackend = f.fallback
	}
	if f.whisperBin != "" {
		cfg.ASR.LocalWhisper.BinaryPath = f.whisperBin
	}
	if f.model != "" {
		cfg.ASR.Model = f.model
	}
	if f.language != "" {
		cfg.ASR.Language = f.language
	}
	if f.formats != "" {
		cfg.ASR.OutputFormats = splitList(f.formats)
	}
	if f.gap != "" {
		g, err := strconv.ParseFloat(f.gap, 64)
		if err != nil {
			return fmt.Errorf("invalid -gap %q", f.gap)
		}
		cfg.GapThreshold = g
	}
	return cfg.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
