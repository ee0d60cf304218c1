// Package pipeline runs the download, convert, diarize and transcribe stages
// over flat directories, one file at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tiroq/audiopipe/internal/asr"
	"github.com/tiroq/audiopipe/internal/diaglog"
	"github.com/tiroq/audiopipe/internal/diarize"
	"github.com/tiroq/audiopipe/internal/fileutil"
	"github.com/tiroq/audiopipe/internal/logging"
	"github.com/tiroq/audiopipe/internal/media"
	"github.com/tiroq/audiopipe/internal/speaker"
	"github.com/tiroq/audiopipe/internal/status"
	"github.com/tiroq/audiopipe/internal/store"
)

// Stage names.
const (
	StageDownload   = "download"
	StageConvert    = "convert"
	StageDiarize    = "diarize"
	StageTranscribe = "transcribe"
)

// Speaker labeling modes for the transcribe stage.
const (
	SpeakersGap         = "gap"
	SpeakersDiarization = "diarization"
)

var (
	// ErrNoInputDir is returned when a stage's input directory is missing.
	ErrNoInputDir = errors.New("input directory not found")
	// ErrNoSegments marks a transcription that produced nothing to write.
	ErrNoSegments = errors.New("no transcription segments")
)

// Observer receives progress events.
type Observer interface {
	Observe(status.Event)
}

// Downloader fetches audio for a URL into the download directory.
type Downloader interface {
	Download(ctx context.Context, url string) ([]string, error)
	DownloadBatch(ctx context.Context, batchFile string) ([]string, error)
}

// Transcriber turns a WAV file into a transcript. *asr.Registry implements it.
type Transcriber interface {
	TranscribeWithFallback(ctx context.Context, path string, opts asr.TranscribeOptions) (*asr.Transcript, error)
}

// Sink receives stage results in addition to the files on disk.
// *store.Store implements it.
type Sink interface {
	SaveDiarization(ctx context.Context, runID, file string, turns []speaker.Turn) error
	SaveTranscription(ctx context.Context, runID, file string, rows []store.TranscriptRow) error
}

// Dirs are the stage directories.
type Dirs struct {
	Download       string
	Converted      string
	Timestamps     string
	Transcriptions string
}

// Options wires a Pipeline. Collaborators a stage does not use may be nil.
type Options struct {
	RunID           string // generated when empty
	Dirs            Dirs
	InputExtensions []string // convert stage filter, default .wav
	SkipExisting    bool
	GapThreshold    float64  // 0 = speaker.DefaultGapThreshold
	Speakers        string   // SpeakersGap (default) or SpeakersDiarization
	Formats         []string // transcript formats, default xlsx
	Language        string
	Model           string

	Downloader  Downloader
	Converter   media.Converter
	Diarizer    diarize.Backend
	Transcriber Transcriber
	Sink        Sink
	Observers   []Observer

	Log  logrus.FieldLogger
	Diag *diaglog.Logger
}

// Pipeline runs stages with a shared run ID.
type Pipeline struct {
	opts  Options
	runID string
	log   logrus.FieldLogger
	diag  *diaglog.Logger
	now   func() time.Time
}

// New returns a Pipeline.
func New(opts Options) *Pipeline {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if len(opts.InputExtensions) == 0 {
		opts.InputExtensions = []string{".wav"}
	}
	if opts.GapThreshold <= 0 {
		opts.GapThreshold = speaker.DefaultGapThreshold
	}
	if opts.Speakers == "" {
		opts.Speakers = SpeakersGap
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	diag := opts.Diag
	if diag == nil {
		diag = diaglog.NewNoOp()
	}
	return &Pipeline{
		opts:  opts,
		runID: opts.RunID,
		log:   log.WithField("run_id", opts.RunID),
		diag:  diag.WithRunID(opts.RunID),
		now:   time.Now,
	}
}

// RunID returns the run identifier attached to every event.
func (p *Pipeline) RunID() string { return p.runID }

// Report summarises one stage run.
type Report struct {
	Stage     string
	Total     int
	Processed int
	Failed    int
	Skipped   int
	Outputs   []string
	Errors    []FileError
}

// FileError is a per-file failure.
type FileError struct {
	File string
	Err  error
}

func (e FileError) Error() string { return e.File + ": " + e.Err.Error() }

// Err summarises failures, or returns nil when every file succeeded.
func (r *Report) Err() error {
	if r == nil || r.Failed == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, fe := range r.Errors {
		errs[i] = fe
	}
	return fmt.Errorf("%s: %d of %d files failed: %w", r.Stage, r.Failed, r.Total, errors.Join(errs...))
}

// ListAudio returns the regular files in dir whose extension is in exts,
// sorted by name. A missing dir yields ErrNoInputDir.
func ListAudio(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoInputDir, dir)
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !media.HasExt(e.Name(), exts) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// fileResult is what a stage worker reports for one file.
type fileResult struct {
	outputs []string
	meta    fileutil.OutputMetadata
}

type stageJob struct {
	name   string
	outDir string
	// outputs returns every path the stage writes for in; the first one
	// carries the metadata sidecar.
	outputs func(in string) []string
	work    func(ctx context.Context, in string, outputs []string) (*fileResult, error)
}

func (p *Pipeline) emit(ev status.Event) {
	ev.RunID = p.runID
	if ev.Time.IsZero() {
		ev.Time = p.now().UTC()
	}
	entry := diaglog.LogEntry{
		Component: ev.Stage,
		Event:     string(ev.Kind),
		File:      ev.File,
		Reason:    ev.Error,
	}
	if ev.Kind == status.StageStart {
		entry.Payload = map[string]interface{}{"total": ev.Total}
	}
	if len(ev.Outputs) > 0 {
		entry.Payload = map[string]interface{}{"outputs": ev.Outputs}
	}
	p.diag.Log(entry)
	for _, o := range p.opts.Observers {
		o.Observe(ev)
	}
}

// runFiles processes files sequentially. Per-file errors are recorded in the
// report; only context cancellation stops the loop early.
func (p *Pipeline) runFiles(ctx context.Context, st stageJob, files []string) (*Report, error) {
	log := logging.Component(p.log, st.name)
	report := &Report{Stage: st.name, Total: len(files)}

	if err := os.MkdirAll(st.outDir, 0755); err != nil {
		return report, fmt.Errorf("%s: create output dir: %w", st.name, err)
	}

	p.emit(status.Event{Kind: status.StageStart, Stage: st.name, Total: len(files)})
	defer func() {
		p.emit(status.Event{Kind: status.StageDone, Stage: st.name})
		log.WithFields(logrus.Fields{
			"processed": report.Processed,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
		}).Infof("All files processed. Outputs saved in '%s'", st.outDir)
	}()

	for _, in := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := filepath.Base(in)
		flog := log.WithField("file", name)
		outputs := st.outputs(in)

		if p.opts.SkipExisting && allExist(outputs) {
			report.Skipped++
			flog.Info("output exists, skipping")
			p.emit(status.Event{Kind: status.FileSkipped, Stage: st.name, File: name, Error: "output exists"})
			continue
		}

		p.emit(status.Event{Kind: status.FileStart, Stage: st.name, File: name})
		started := p.now()
		res, err := st.work(ctx, in, outputs)
		switch {
		case errors.Is(err, ErrNoSegments):
			report.Skipped++
			flog.Warnf("No transcription segments found for: %s", in)
			p.emit(status.Event{Kind: status.FileSkipped, Stage: st.name, File: name, Error: err.Error()})
			continue
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Failed++
			report.Errors = append(report.Errors, FileError{File: name, Err: err})
			flog.WithError(err).Errorf("Error processing %s", name)
			p.emit(status.Event{Kind: status.FileFailed, Stage: st.name, File: name, Error: err.Error()})
			continue
		}

		finished := p.now()
		meta := res.meta
		meta.Version = diaglog.Version
		meta.RunID = p.runID
		meta.Stage = st.name
		meta.Source = in
		meta.Output = res.outputs[0]
		meta.StartedAt = started.UTC()
		meta.FinishedAt = finished.UTC()
		meta.DurationMs = finished.Sub(started).Milliseconds()
		if err := fileutil.WriteMetadata(res.outputs[0], &meta); err != nil {
			flog.WithError(err).Warn("failed to write metadata sidecar")
		}

		report.Processed++
		report.Outputs = append(report.Outputs, res.outputs...)
		flog.WithField("duration_ms", meta.DurationMs).Infof("Saved results to: %s", strings.Join(res.outputs, ", "))
		p.emit(status.Event{Kind: status.FileDone, Stage: st.name, File: name, Outputs: res.outputs})
	}
	return report, nil
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return len(paths) > 0
}
