package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tiroq/audiopipe/internal/asr"
	"github.com/tiroq/audiopipe/internal/diarize"
	"github.com/tiroq/audiopipe/internal/fileutil"
	"github.com/tiroq/audiopipe/internal/logging"
	"github.com/tiroq/audiopipe/internal/media"
	"github.com/tiroq/audiopipe/internal/sheet"
	"github.com/tiroq/audiopipe/internal/speaker"
	"github.com/tiroq/audiopipe/internal/status"
	"github.com/tiroq/audiopipe/internal/store"
	"github.com/tiroq/audiopipe/internal/transcript"
)

const transcriptionSuffix = "-transcription"

// Download fetches url (or, when batch is true, every URL listed in the file
// url) into the download directory.
func (p *Pipeline) Download(ctx context.Context, url string, batch bool) (*Report, error) {
	report := &Report{Stage: StageDownload, Total: 1}
	if p.opts.Downloader == nil {
		return report, errors.New("download: no downloader configured")
	}
	log := logging.Component(p.log, StageDownload).WithField("url", url)

	p.emit(status.Event{Kind: status.StageStart, Stage: StageDownload, Total: 1})
	defer p.emit(status.Event{Kind: status.StageDone, Stage: StageDownload})
	p.emit(status.Event{Kind: status.FileStart, Stage: StageDownload, File: url})

	var (
		files []string
		err   error
	)
	if batch {
		files, err = p.opts.Downloader.DownloadBatch(ctx, url)
	} else {
		files, err = p.opts.Downloader.Download(ctx, url)
	}
	if err != nil {
		report.Failed = 1
		report.Errors = append(report.Errors, FileError{File: url, Err: err})
		log.WithError(err).Error("download failed")
		p.emit(status.Event{Kind: status.FileFailed, Stage: StageDownload, File: url, Error: err.Error()})
		return report, nil
	}

	report.Processed = 1
	report.Outputs = files
	log.WithField("files", len(files)).Info("Conversion Complete")
	p.emit(status.Event{Kind: status.FileDone, Stage: StageDownload, File: url, Outputs: files})
	return report, nil
}

// Convert converts every input file of the download directory to a 16 kHz
// mono WAV in the converted directory, keeping the base name.
func (p *Pipeline) Convert(ctx context.Context) (*Report, error) {
	files, err := p.list(StageConvert, p.opts.Dirs.Download, p.opts.InputExtensions)
	if err != nil || len(files) == 0 {
		return &Report{Stage: StageConvert}, err
	}
	return p.ConvertFiles(ctx, files)
}

// ConvertFiles converts the given files.
func (p *Pipeline) ConvertFiles(ctx context.Context, files []string) (*Report, error) {
	if p.opts.Converter == nil {
		return &Report{Stage: StageConvert}, errors.New("convert: no converter configured")
	}
	conv := p.opts.Converter
	return p.runFiles(ctx, stageJob{
		name:   StageConvert,
		outDir: p.opts.Dirs.Converted,
		outputs: func(in string) []string {
			return []string{ConvertedPath(p.opts.Dirs.Converted, in)}
		},
		work: func(ctx context.Context, in string, outputs []string) (*fileResult, error) {
			out := outputs[0]
			if err := conv.Convert(ctx, in, out); err != nil {
				return nil, err
			}
			info, err := media.Probe(out)
			if err != nil {
				return nil, fmt.Errorf("verify output: %w", err)
			}
			if !info.IsTarget() {
				return nil, fmt.Errorf("converter produced %s, want %d Hz mono %d-bit", info, media.TargetSampleRate, media.TargetBitDepth)
			}
			return &fileResult{
				outputs: outputs,
				meta:    fileutil.OutputMetadata{Backend: conv.Name(), AudioSeconds: info.Duration.Seconds()},
			}, nil
		},
	}, files)
}

// Diarize writes a speaker_ID/start_time/stop_time workbook for every WAV in
// the converted directory.
func (p *Pipeline) Diarize(ctx context.Context) (*Report, error) {
	files, err := p.list(StageDiarize, p.opts.Dirs.Converted, []string{".wav"})
	if err != nil || len(files) == 0 {
		return &Report{Stage: StageDiarize}, err
	}
	return p.DiarizeFiles(ctx, files)
}

// DiarizeFiles diarizes the given files.
func (p *Pipeline) DiarizeFiles(ctx context.Context, files []string) (*Report, error) {
	if p.opts.Diarizer == nil {
		return &Report{Stage: StageDiarize}, errors.New("diarize: no diarization backend configured")
	}
	backend := p.opts.Diarizer
	return p.runFiles(ctx, stageJob{
		name:   StageDiarize,
		outDir: p.opts.Dirs.Timestamps,
		outputs: func(in string) []string {
			return []string{TimestampsPath(p.opts.Dirs.Timestamps, in)}
		},
		work: func(ctx context.Context, in string, outputs []string) (*fileResult, error) {
			turns, err := backend.Diarize(ctx, in)
			if err != nil {
				return nil, err
			}
			diarize.SortTurns(turns)
			if err := sheet.WriteXLSX(outputs[0], sheet.DiarizationTable(turns)); err != nil {
				return nil, err
			}
			p.save(ctx, StageDiarize, in, func(s Sink) error {
				return s.SaveDiarization(ctx, p.runID, filepath.Base(in), turns)
			})
			var end float64
			for _, t := range turns {
				end = max(end, t.End)
			}
			return &fileResult{
				outputs: outputs,
				meta: fileutil.OutputMetadata{
					Backend:      backend.Name(),
					AudioSeconds: end,
					Segments:     len(turns),
					Speakers:     len(diarize.Speakers(turns)),
				},
			}, nil
		},
	}, files)
}

// Transcribe writes <base>-transcription.<format> for every WAV in the
// converted directory.
func (p *Pipeline) Transcribe(ctx context.Context) (*Report, error) {
	files, err := p.list(StageTranscribe, p.opts.Dirs.Converted, []string{".wav"})
	if err != nil || len(files) == 0 {
		return &Report{Stage: StageTranscribe}, err
	}
	return p.TranscribeFiles(ctx, files)
}

// TranscribeFiles transcribes the given files.
func (p *Pipeline) TranscribeFiles(ctx context.Context, files []string) (*Report, error) {
	if p.opts.Transcriber == nil {
		return &Report{Stage: StageTranscribe}, errors.New("transcribe: no transcription backend configured")
	}
	formats := p.opts.Formats
	if len(formats) == 0 {
		formats = transcript.DefaultFormats
	}
	if err := transcript.ValidateFormats(formats); err != nil {
		return &Report{Stage: StageTranscribe}, err
	}

	return p.runFiles(ctx, stageJob{
		name:   StageTranscribe,
		outDir: p.opts.Dirs.Transcriptions,
		outputs: func(in string) []string {
			base := TranscriptionBase(p.opts.Dirs.Transcriptions, in)
			out := make([]string, len(formats))
			for i, f := range formats {
				out[i] = base + "." + f
			}
			return out
		},
		work: func(ctx context.Context, in string, outputs []string) (*fileResult, error) {
			tr, err := p.opts.Transcriber.TranscribeWithFallback(ctx, in, asr.TranscribeOptions{
				Language: p.opts.Language,
				Model:    p.opts.Model,
			})
			if err != nil {
				return nil, err
			}
			if len(tr.Segments) == 0 {
				return nil, ErrNoSegments
			}

			segs := tr.SpeakerSegments()
			labels := p.labels(in, segs)
			doc := transcript.Document{Transcript: tr, Labels: labels, GapThreshold: p.opts.GapThreshold}
			written, err := transcript.WriteAll(TranscriptionBase(p.opts.Dirs.Transcriptions, in), doc, formats)
			if err != nil {
				return nil, err
			}

			p.save(ctx, StageTranscribe, in, func(s Sink) error {
				rows := make([]store.TranscriptRow, len(segs))
				for i, seg := range segs {
					rows[i] = store.TranscriptRow{SpeakerID: labels[i], Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)}
				}
				return s.SaveTranscription(ctx, p.runID, filepath.Base(in), rows)
			})

			return &fileResult{
				outputs: written,
				meta: fileutil.OutputMetadata{
					Backend:      tr.Backend,
					Model:        tr.Model,
					Language:     tr.Language,
					AudioSeconds: tr.Duration.Seconds(),
					Segments:     len(segs),
					Speakers:     distinct(labels),
					Formats:      formats,
				},
			}, nil
		},
	}, files)
}

// labels assigns speaker labels to segs. In diarization mode the workbook
// written by the diarize stage is used; when it is missing or unreadable the
// gap heuristic is used instead.
func (p *Pipeline) labels(in string, segs []speaker.Segment) []string {
	if p.opts.Speakers != SpeakersDiarization {
		return speaker.AssignByGap(segs, p.opts.GapThreshold)
	}
	path := TimestampsPath(p.opts.Dirs.Timestamps, in)
	turns, err := sheet.ReadDiarization(path)
	if err != nil {
		logging.Component(p.log, StageTranscribe).WithError(err).
			WithField("file", filepath.Base(in)).
			Warn("diarization workbook unavailable, using gap labels")
		return speaker.AssignByGap(segs, p.opts.GapThreshold)
	}
	return speaker.AssignByOverlap(segs, turns, p.opts.GapThreshold)
}

// save forwards results to the sink. Sink failures are logged; the files on
// disk remain the primary output.
func (p *Pipeline) save(ctx context.Context, stage, in string, fn func(Sink) error) {
	if p.opts.Sink == nil {
		return
	}
	if err := fn(p.opts.Sink); err != nil {
		logging.Component(p.log, stage).WithError(err).
			WithField("file", filepath.Base(in)).
			Warn("failed to store results")
	}
}

func (p *Pipeline) list(stage, dir string, exts []string) ([]string, error) {
	log := logging.Component(p.log, stage)
	files, err := ListAudio(dir, exts)
	if err != nil {
		if errors.Is(err, ErrNoInputDir) {
			log.Errorf("Input directory not found: %s", dir)
		}
		return nil, fmt.Errorf("%s: %w", stage, err)
	}
	if len(files) == 0 {
		log.WithField("extensions", exts).Infof("No audio files found in: %s", dir)
		return nil, nil
	}
	log.Infof("Found %d audio file(s) in: %s", len(files), dir)
	return files, nil
}

// RunAll downloads url and runs the remaining stages over the work
// directories. Stages still run when an earlier one had per-file failures.
func (p *Pipeline) RunAll(ctx context.Context, url string, batch bool) ([]*Report, error) {
	var reports []*Report

	r, err := p.Download(ctx, url, batch)
	reports = append(reports, r)
	if err != nil {
		return reports, err
	}
	if r.Failed > 0 {
		return reports, nil
	}

	for _, stage := range []func(context.Context) (*Report, error){p.Convert, p.Diarize, p.Transcribe} {
		r, err := stage(ctx)
		reports = append(reports, r)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// ProcessDownloaded runs convert, diarize and transcribe for one file of the
// download directory. Used by the watcher.
func (p *Pipeline) ProcessDownloaded(ctx context.Context, path string) ([]*Report, error) {
	var reports []*Report
	if !media.HasExt(path, p.opts.InputExtensions) {
		return nil, nil
	}

	r, err := p.ConvertFiles(ctx, []string{path})
	reports = append(reports, r)
	if err != nil || r.Processed+r.Skipped == 0 {
		return reports, err
	}

	wav := ConvertedPath(p.opts.Dirs.Converted, path)
	if _, statErr := os.Stat(wav); statErr != nil {
		return reports, statErr
	}

	if p.opts.Diarizer != nil {
		r, err = p.DiarizeFiles(ctx, []string{wav})
		reports = append(reports, r)
		if err != nil {
			return reports, err
		}
	}
	if p.opts.Transcriber != nil {
		r, err = p.TranscribeFiles(ctx, []string{wav})
		reports = append(reports, r)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// ConvertedPath returns the converted WAV path for an input file.
func ConvertedPath(dir, in string) string {
	return filepath.Join(dir, fileutil.Stem(in)+".wav")
}

// TimestampsPath returns the diarization workbook for a converted WAV.
func TimestampsPath(dir, wav string) string {
	return filepath.Join(dir, fileutil.Stem(wav)+".xlsx")
}

// TranscriptionBase returns the output path without extension for a WAV.
func TranscriptionBase(dir, wav string) string {
	return filepath.Join(dir, fileutil.Stem(wav)+transcriptionSuffix)
}

func distinct(labels []string) int {
	seen := map[string]struct{}{}
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}

// LogReports logs a one-line summary per report and returns the combined
// per-file error, if any.
func LogReports(log logrus.FieldLogger, reports ...*Report) error {
	var errs []error
	for _, r := range reports {
		if r == nil {
			continue
		}
		log.WithFields(logrus.Fields{
			"stage":     r.Stage,
			"total":     r.Total,
			"processed": r.Processed,
			"failed":    r.Failed,
			"skipped":   r.Skipped,
		}).Info("stage summary")
		if err := r.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
