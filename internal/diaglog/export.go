package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is injected at link time from the main package; defaults to "dev".
var Version = "dev"

// DiagBundle is the first line of an export file.
type DiagBundle struct {
	ExportedAt string   `json:"exported_at"`
	AppVersion string   `json:"audiopipe_version"`
	GoVersion  string   `json:"go_version"`
	OS         string   `json:"os"`
	Arch       string   `json:"arch"`
	LogFile    string   `json:"log_file"`
	EntryCount int      `json:"entry_count"`
	RunIDs     []string `json:"run_ids,omitempty"`
}

// Export concatenates the rotated generation (logPath+".1", if any) and
// logPath into dest/audiopipe-diag-<ts>.ndjson, preceded by a DiagBundle
// line. It returns the written path and the number of log lines copied.
func Export(logPath, dest string) (path string, lines int, err error) {
	if _, err := os.Stat(logPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("log file not found at %s: %w", logPath, os.ErrNotExist)
		}
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}

	var rawLines [][]byte
	for _, p := range []string{logPath + ".1", logPath} {
		ls, err := readLines(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", 0, fmt.Errorf("log file unreadable: %w", err)
		}
		rawLines = append(rawLines, ls...)
	}

	outPath := filepath.Join(dest, "audiopipe-diag-"+time.Now().UTC().Format("20060102T150405")+".ndjson")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("output file could not be created: %w", err)
	}
	defer func() { _ = out.Close() }()

	bundle := DiagBundle{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		AppVersion: Version,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		LogFile:    logPath,
		EntryCount: len(rawLines),
		RunIDs:     collectRunIDs(rawLines),
	}
	header, err := json.Marshal(bundle)
	if err != nil {
		return "", 0, err
	}

	w := bufio.NewWriter(out)
	if _, err := w.Write(append(header, '\n')); err != nil {
		return "", 0, err
	}
	for _, line := range rawLines {
		if _, err := w.Write(append(line, '\n')); err != nil {
			return "", 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}
	return outPath, len(rawLines), nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		out = append(out, line)
	}
	return out, scanner.Err()
}

// collectRunIDs lists distinct run_id values in first-seen order.
func collectRunIDs(lines [][]byte) []string {
	seen := map[string]bool{}
	var ids []string
	for _, line := range lines {
		var e struct {
			RunID string `json:"run_id"`
		}
		if json.Unmarshal(line, &e) != nil || e.RunID == "" || seen[e.RunID] {
			continue
		}
		seen[e.RunID] = true
		ids = append(ids, e.RunID)
	}
	return ids
}
