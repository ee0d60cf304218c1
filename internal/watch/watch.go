// Package watch reports audio files that appear in a directory. Events are
// debounced per path and handled one at a time.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/tiroq/audiopipe/internal/media"
)

// Handler processes one settled file. Calls never overlap.
type Handler func(path string)

// Options configures a Watcher.
type Options struct {
	Dir          string
	Extensions   []string      // empty accepts every file
	Debounce     time.Duration // default 1s
	PollInterval time.Duration // default 1s, used without fsnotify
	ForcePolling bool
	Log          logrus.FieldLogger
}

// Watcher watches a single flat directory.
type Watcher struct {
	opts   Options
	handle Handler
	log    logrus.FieldLogger

	fsw      *fsnotify.Watcher
	mu       sync.Mutex
	pending  map[string]*time.Timer
	polling  bool
	queue    chan string
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New returns an unstarted watcher.
func New(opts Options, handle Handler) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watcher{
		opts:    opts,
		handle:  handle,
		log:     log.WithField("component", "watch"),
		pending: make(map[string]*time.Timer),
		queue:   make(chan string, 256),
		stop:    make(chan struct{}),
	}
}

// Start creates the directory if needed and begins watching. It uses
// fsnotify when available and falls back to polling otherwise.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.opts.Dir, 0755); err != nil {
		return err
	}

	if !w.opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fsw.Add(w.opts.Dir); err != nil {
				_ = fsw.Close()
			} else {
				w.fsw = fsw
			}
		}
		if err != nil {
			w.log.WithError(err).Warn("fsnotify not available, falling back to polling")
		}
	}

	w.wg.Add(2)
	go w.dispatch()
	if w.fsw != nil {
		w.log.WithField("dir", w.opts.Dir).Info("watching directory (fsnotify)")
		go w.eventLoop()
	} else {
		w.log.WithField("dir", w.opts.Dir).Info("watching directory (polling)")
		go w.pollLoop()
	}
	return nil
}

// Polling reports whether the watcher fell back to polling.
func (w *Watcher) Polling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fsw == nil || w.polling
}

// Stop ends watching and waits for an in-flight handler to return.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
		w.mu.Lock()
		for p, t := range w.pending {
			t.Stop()
			delete(w.pending, p)
		}
		w.mu.Unlock()
	})
	w.wg.Wait()
}

func (w *Watcher) dispatch() {
	defer w.wg.Done()
	for {
		select {
		case p := <-w.queue:
			w.handle(p)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.fallbackToPolling("fsnotify watcher closed, switching to polling")
				return
			}
			switch {
			case ev.Has(fsnotify.Create):
				w.schedule(ev.Name, true)
			case ev.Has(fsnotify.Write):
				w.schedule(ev.Name, false)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.fallbackToPolling("fsnotify error channel closed, switching to polling")
				return
			}
			w.log.WithError(err).Warn("watcher error")
		case <-w.stop:
			w.wg.Done()
			return
		}
	}
}

// fallbackToPolling hands the wg slot of the event loop to a poll loop
// unless the watcher is stopping.
func (w *Watcher) fallbackToPolling(msg string) {
	select {
	case <-w.stop:
		w.wg.Done()
		return
	default:
	}
	w.log.Warn(msg)
	w.mu.Lock()
	w.polling = true
	w.mu.Unlock()
	go w.pollLoop()
}

type fileState struct {
	size    int64
	modTime time.Time
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()
	known := w.scan()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			current := w.scan()
			for path, st := range current {
				prev, ok := known[path]
				switch {
				case !ok:
					w.schedule(path, true)
				case prev.size != st.size || !prev.modTime.Equal(st.modTime):
					w.schedule(path, false)
				}
			}
			known = current
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) scan() map[string]fileState {
	out := map[string]fileState{}
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.log.WithError(err).Warn("failed to list watched directory")
		return out
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[filepath.Join(w.opts.Dir, e.Name())] = fileState{size: info.Size(), modTime: info.ModTime()}
	}
	return out
}

// schedule arms (start) or re-arms the debounce timer for path.
func (w *Watcher) schedule(path string, start bool) {
	if !w.accept(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stop:
		return
	default:
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	if !start {
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() { w.fire(path) })
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	w.log.WithField("file", filepath.Base(path)).Debug("new file settled")
	select {
	case w.queue <- path:
	case <-w.stop:
	}
}

func (w *Watcher) accept(path string) bool {
	if ignored(path) {
		return false
	}
	if len(w.opts.Extensions) == 0 {
		return true
	}
	return media.HasExt(path, w.opts.Extensions)
}

// ignored reports hidden files and in-progress download or temp files.
func ignored(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if strings.HasPrefix(base, ".") {
		return true
	}
	for _, suffix := range []string{".tmp", ".part", ".ytdl"} {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return strings.Contains(base, ".part-frag")
}
