package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tiroq/audiopipe/internal/asr"
	"github.com/tiroq/audiopipe/internal/asr/localwhisper"
	"github.com/tiroq/audiopipe/internal/asr/openaiwhisper"
	"github.com/tiroq/audiopipe/internal/asr/remotewhisper"
	"github.com/tiroq/audiopipe/internal/asr/whisperpy"
	"github.com/tiroq/audiopipe/internal/config"
	"github.com/tiroq/audiopipe/internal/diaglog"
	"github.com/tiroq/audiopipe/internal/diarize"
	"github.com/tiroq/audiopipe/internal/events"
	"github.com/tiroq/audiopipe/internal/logging"
	"github.com/tiroq/audiopipe/internal/media"
	"github.com/tiroq/audiopipe/internal/pidfile"
	"github.com/tiroq/audiopipe/internal/pipeline"
	"github.com/tiroq/audiopipe/internal/status"
	"github.com/tiroq/audiopipe/internal/store"
	"github.com/tiroq/audiopipe/internal/watch"
)

// app owns the collaborators shared by every command of one invocation.
type app struct {
	cfg     *config.Config
	flags   cliFlags
	log     *logrus.Logger
	diag    *diaglog.Logger
	runID   string
	stderr  io.Writer
	tracker *status.Tracker
	hub     *events.Hub
	store   *store.Store
	closers []func()
}

func newApp(ctx context.Context, f cliFlags, stderr io.Writer) (*app, error) {
	cfgPath := f.configPath
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := f.apply(cfg); err != nil {
		return nil, err
	}
	if f.speakers != "" && f.speakers != pipeline.SpeakersGap && f.speakers != pipeline.SpeakersDiarization {
		return nil, fmt.Errorf("-speakers must be %q or %q, got %q", pipeline.SpeakersGap, pipeline.SpeakersDiarization, f.speakers)
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: stderr})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, flags: f, log: log, runID: uuid.NewString(), stderr: stderr}

	diag, err := diaglog.New(diaglog.DefaultPath())
	if err != nil {
		log.WithError(err).Warn("diagnostic log unavailable")
		diag = diaglog.NewNoOp()
	}
	a.diag = diag.WithRunID(a.runID)
	a.closers = append(a.closers, func() { _ = diag.Close() })

	a.tracker = status.NewTracker(status.Path(a.workDir()), a.runID, logging.Component(log, "status"))

	if cfg.EventsAddr != "" {
		if err := a.startEvents(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if cfg.DatabaseURL != "" {
		st, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = st.Close() })
		if err := st.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.store = st
		log.Info("storing results in database")
	}

	log.WithFields(logrus.Fields{"version": Version, "run_id": a.runID, "pid": os.Getpid()}).Debug("audiopipe starting")
	return a, nil
}

func (a *app) startEvents(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.EventsAddr)
	if err != nil {
		return fmt.Errorf("events listener: %w", err)
	}
	hubLog := logging.Component(a.log, "events")
	a.hub = events.NewHub(a.tracker.Snapshot, hubLog)

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.hub.Serve(serveCtx, ln); err != nil {
			hubLog.WithError(err).Warn("events server stopped")
		}
	}()
	a.closers = append(a.closers, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(6 * time.Second):
		}
	})
	hubLog.WithField("addr", ln.Addr().String()).Info("serving progress events")
	return nil
}

// closeLogged adapts a collaborator's Close for the closer list.
func (a *app) closeLogged(name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			a.log.WithError(err).WithField("backend", name).Warn("helper did not exit cleanly")
		}
	}
}

// Close releases collaborators in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) workDir() string {
	if a.cfg.WorkDir == "" {
		return "."
	}
	return a.cfg.WorkDir
}

func (a *app) dirs() pipeline.Dirs {
	return pipeline.Dirs{
		Download:       a.cfg.Dir(a.cfg.DownloadDir),
		Converted:      a.cfg.Dir(a.cfg.ConvertedDir),
		Timestamps:     a.cfg.Dir(a.cfg.TimestampsDir),
		Transcriptions: a.cfg.Dir(a.cfg.TranscriptionsDir),
	}
}

type stages struct {
	download, convert, diarize, transcribe bool
}

// pipeline builds the collaborators the requested stages need.
func (a *app) pipeline(need stages, skipExisting bool) (*pipeline.Pipeline, error) {
	opts := pipeline.Options{
		RunID:           a.runID,
		Dirs:            a.dirs(),
		InputExtensions: a.cfg.InputExtensions,
		SkipExisting:    skipExisting,
		GapThreshold:    a.cfg.GapThreshold,
		Speakers:        a.flags.speakers,
		Formats:         a.cfg.ASR.OutputFormats,
		Language:        a.cfg.ASR.Language,
		Log:             a.log,
		Diag:            a.diag,
		Observers:       []pipeline.Observer{a.tracker},
	}
	if a.hub != nil {
		opts.Observers = append(opts.Observers, a.hub)
	}
	if a.store != nil {
		opts.Sink = a.store
	}

	if need.download {
		opts.Downloader = media.NewDownloader(media.DownloaderConfig{
			Binary:   a.cfg.Download.Binary,
			Dir:      opts.Dirs.Download,
			Format:   a.cfg.Download.Format,
			Sanitize: a.cfg.Download.Sanitize,
			Progress: a.stderr,
		})
	}
	if need.convert {
		opts.Converter = a.converter()
	}
	if need.diarize {
		d, err := a.diarizer()
		if err != nil {
			return nil, err
		}
		opts.Diarizer = d
	}
	if need.transcribe {
		reg, err := a.transcriber()
		if err != nil {
			return nil, err
		}
		opts.Transcriber = reg
	}
	return pipeline.New(opts), nil
}

func (a *app) converter() media.Converter {
	var c media.Converter
	switch a.cfg.Convert.Converter {
	case config.ConverterFFmpeg:
		c = media.FFmpeg{Binary: a.cfg.Convert.FFmpeg}
	case config.ConverterNative:
		c = media.Native{}
	default:
		c = media.Auto(a.cfg.Convert.FFmpeg)
	}
	a.log.WithField("converter", c.Name()).Debug("converter selected")
	return c
}

func (a *app) diarizer() (diarize.Backend, error) {
	d := a.cfg.Diarize
	switch d.Backend {
	case config.DiarizeSherpa:
		s, err := diarize.NewSherpa(diarize.SherpaConfig{
			SegmentationModel: d.Sherpa.SegmentationModel,
			EmbeddingModel:    d.Sherpa.EmbeddingModel,
			NumThreads:        d.Sherpa.NumThreads,
			NumSpeakers:       d.NumSpeakers,
			Threshold:         d.Sherpa.Threshold,
			Provider:          d.Sherpa.Provider,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		p, err := diarize.NewPyannote(diarize.PyannoteConfig{
			Python:         a.cfg.Python,
			Token:          d.HuggingFaceToken,
			Pipeline:       d.Pipeline,
			Device:         d.Device,
			NumSpeakers:    d.NumSpeakers,
			TimeoutSeconds: d.TimeoutSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("pyannote: %w", err)
		}
		a.closers = append(a.closers, a.closeLogged(p.Name(), p.Close))
		return p, nil
	}
}

// transcriber registers the primary backend and, when configured, the
// fallback. The generic model setting applies to the primary only.
func (a *app) transcriber() (*asr.Registry, error) {
	c := a.cfg.ASR
	reg := asr.NewRegistry()

	names := []string{c.Backend}
	if c.FallbackBackend != "" {
		names = append(names, c.FallbackBackend)
	}
	for i, name := range names {
		model := ""
		if i == 0 {
			model = c.Model
		}
		b, err := a.asrBackend(name, model)
		if err != nil {
			return nil, err
		}
		reg.Register(b)
	}
	if err := reg.SetPrimary(c.Backend); err != nil {
		return nil, err
	}
	if c.FallbackBackend != "" {
		if err := reg.SetFallback(c.FallbackBackend); err != nil {
			return nil, err
		}
	}
	a.log.WithFields(logrus.Fields{"primary": c.Backend, "fallback": c.FallbackBackend}).Debug("transcription backends configured")
	return reg, nil
}

func (a *app) asrBackend(name, model string) (asr.Backend, error) {
	c := a.cfg.ASR
	switch name {
	case config.ASRWhisperPython:
		b := whisperpy.NewBackend(whisperpy.Config{
			Python:         a.cfg.Python,
			Model:          model,
			Device:         c.Device,
			TimeoutSeconds: c.TimeoutSeconds,
		})
		a.closers = append(a.closers, a.closeLogged(b.Name(), b.Close))
		return b, nil
	case config.ASRLocalWhisper:
		if c.LocalWhisper.BinaryPath == "" {
			return nil, fmt.Errorf("%s: asr.local_whisper.binary_path is not set", name)
		}
		return localwhisper.NewBackend(localwhisper.Config{
			BinaryPath:     c.LocalWhisper.BinaryPath,
			ModelPath:      c.LocalWhisper.ModelPath,
			Model:          model,
			Threads:        c.LocalWhisper.Threads,
			TimeoutSeconds: c.TimeoutSeconds,
		}), nil
	case config.ASRRemoteWhisper:
		if c.Remote.BaseURL == "" {
			return nil, fmt.Errorf("%s: asr.remote.base_url is not set", name)
		}
		client := remotewhisper.NewClient(remotewhisper.Config{
			BaseURL:        c.Remote.BaseURL,
			Token:          c.Remote.Token,
			TimeoutSeconds: c.TimeoutSeconds,
			Retries:        c.Remote.Retries,
			Model:          model,
		})
		client.SetLogger(a.diag)
		return client, nil
	case config.ASROpenAI:
		if c.OpenAI.Model != "" {
			model = c.OpenAI.Model
		}
		return openaiwhisper.NewBackend(openaiwhisper.Config{
			BaseURL:        c.OpenAI.BaseURL,
			APIKey:         c.OpenAI.APIKey,
			Model:          model,
			TimeoutSeconds: c.TimeoutSeconds,
			Retries:        -1,
		}), nil
	}
	return nil, fmt.Errorf("unknown transcription backend %q", name)
}

// target resolves the download source: the batch file, the single URL
// argument, or a URL read from stdin.
func (a *app) target(args []string, stdin io.Reader, stdout io.Writer) (string, bool, error) {
	if a.flags.batchFile != "" {
		return a.flags.batchFile, true, nil
	}
	if len(args) == 1 {
		return args[0], false, nil
	}
	url, err := media.PromptURL(stdin, stdout)
	return url, false, err
}

func (a *app) download(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) ([]*pipeline.Report, error) {
	target, batch, err := a.target(args, stdin, stdout)
	if err != nil {
		return nil, err
	}
	p, err := a.pipeline(stages{download: true}, a.cfg.SkipExisting)
	if err != nil {
		return nil, err
	}
	r, err := p.Download(ctx, target, batch)
	return []*pipeline.Report{r}, err
}

func (a *app) convert(ctx context.Context) ([]*pipeline.Report, error) {
	p, err := a.pipeline(stages{convert: true}, a.cfg.SkipExisting)
	if err != nil {
		return nil, err
	}
	r, err := p.Convert(ctx)
	return []*pipeline.Report{r}, err
}

func (a *app) diarize(ctx context.Context) ([]*pipeline.Report, error) {
	p, err := a.pipeline(stages{diarize: true}, a.cfg.SkipExisting)
	if err != nil {
		return nil, err
	}
	r, err := p.Diarize(ctx)
	return []*pipeline.Report{r}, err
}

func (a *app) transcribe(ctx context.Context) ([]*pipeline.Report, error) {
	p, err := a.pipeline(stages{transcribe: true}, a.cfg.SkipExisting)
	if err != nil {
		return nil, err
	}
	r, err := p.Transcribe(ctx)
	return []*pipeline.Report{r}, err
}

func (a *app) runAll(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) ([]*pipeline.Report, error) {
	target, batch, err := a.target(args, stdin, stdout)
	if err != nil {
		return nil, err
	}
	p, err := a.pipeline(stages{download: true, convert: true, diarize: true, transcribe: true}, a.cfg.SkipExisting)
	if err != nil {
		return nil, err
	}
	return p.RunAll(ctx, target, batch)
}

// watch processes the files already in the download directory, then every
// file that settles there until ctx is cancelled. Outputs that exist are
// always kept so restarts do not redo finished work.
func (a *app) watch(ctx context.Context) error {
	lock, err := pidfile.New(pidfile.Path(a.workDir(), "watch"))
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Remove(); err != nil {
			a.log.WithError(err).Warn("failed to remove pid file")
		}
	}()

	p, err := a.pipeline(stages{convert: true, diarize: true, transcribe: true}, true)
	if err != nil {
		return err
	}
	log := logging.Component(a.log, "watch")
	dir := a.dirs().Download

	var mu sync.Mutex
	process := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		a.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentWatch,
			Event:     diaglog.EventWatchDetected,
			File:      filepath.Base(path),
		})
		reports, err := p.ProcessDownloaded(ctx, path)
		if err != nil {
			log.WithError(err).WithField("file", filepath.Base(path)).Error("processing failed")
		}
		if err := pipeline.LogReports(log, reports...); err != nil {
			log.WithError(err).WithField("file", filepath.Base(path)).Warn("some stages failed")
		}
	}

	// The watcher starts first so nothing created during the initial pass
	// is missed; files seen twice are skipped the second time.
	w := watch.New(watch.Options{Dir: dir, Extensions: a.cfg.InputExtensions, Log: a.log}, process)
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	if existing, err := pipeline.ListAudio(dir, a.cfg.InputExtensions); err == nil {
		log.WithField("count", len(existing)).Info("processing files already downloaded")
		for _, path := range existing {
			process(path)
		}
	}

	log.WithField("dir", dir).Info("waiting for new files (Ctrl+C to stop)")
	<-ctx.Done()
	log.Info("watch stopped")
	return nil
}
