// Package status tracks pipeline progress and persists it to a JSON file that
// other processes (or the events hub) can poll.
package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tiroq/audiopipe/internal/fileutil"
)

// Kind names a progress event.
type Kind string

const (
	StageStart  Kind = "stage_start"
	StageDone   Kind = "stage_done"
	FileStart   Kind = "file_start"
	FileDone    Kind = "file_done"
	FileFailed  Kind = "file_failed"
	FileSkipped Kind = "file_skipped"
)

// Event is one progress notification emitted by a stage runner.
type Event struct {
	Kind    Kind      `json:"kind"`
	RunID   string    `json:"run_id"`
	Stage   string    `json:"stage"`
	File    string    `json:"file,omitempty"`
	Outputs []string  `json:"outputs,omitempty"`
	Total   int       `json:"total,omitempty"` // set on StageStart
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// Snapshot is the latest known state of a run.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	File      string    `json:"file,omitempty"` // file in progress
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	LastError string    `json:"last_error,omitempty"`
	Done      bool      `json:"done"` // current stage finished
	Timestamp time.Time `json:"timestamp"`
}

// Path returns the status file location inside workDir.
func Path(workDir string) string {
	return filepath.Join(workDir, ".audiopipe", "status.json")
}

// WriteStatus persists s to path using an atomic write.
func WriteStatus(path string, s *Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(path, append(data, '\n'), 0644)
}

// ReadStatus loads a snapshot written by WriteStatus.
func ReadStatus(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Tracker folds events into a Snapshot and writes it after every change.
// An empty path keeps the snapshot in memory only.
type Tracker struct {
	mu   sync.Mutex
	path string
	snap Snapshot
	log  logrus.FieldLogger
}

// NewTracker returns a tracker for runID. log may be nil.
func NewTracker(path, runID string, log logrus.FieldLogger) *Tracker {
	return &Tracker{path: path, snap: Snapshot{RunID: runID}, log: log}
}

// Observe applies ev to the snapshot.
func (t *Tracker) Observe(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.snap
	if ev.RunID != "" {
		s.RunID = ev.RunID
	}
	switch ev.Kind {
	case StageStart:
		*s = Snapshot{RunID: s.RunID, Stage: ev.Stage, Total: ev.Total}
	case FileStart:
		s.File = ev.File
	case FileDone:
		s.Processed++
		s.File = ""
	case FileFailed:
		s.Failed++
		s.LastError = ev.Error
		s.File = ""
	case FileSkipped:
		s.Skipped++
		s.File = ""
	case StageDone:
		s.Done = true
		s.File = ""
	}
	s.Timestamp = ev.Time
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}

	if t.path == "" {
		return
	}
	if err := WriteStatus(t.path, s); err != nil && t.log != nil {
		t.log.WithError(err).Warn("failed to write status file")
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}
