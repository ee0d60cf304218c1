// Package validation checks that the external tools, models and credentials a
// pipeline run depends on are available before any file is processed.
package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tiroq/audiopipe/internal/asr"
	"github.com/tiroq/audiopipe/internal/runner"
)

// ValidationResult contains the result of one preflight check
type ValidationResult struct {
	Name     string
	OK       bool
	Message  string
	Issues   []string
	Warnings []string
	Fixes    []string
}

// Version is a parsed major.minor.patch triple.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string { return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch) }

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion extracts the first "X.Y" or "X.Y.Z" in s, e.g. from
// "ffmpeg version 6.1.1-3ubuntu5" or "2024.08.06".
func ParseVersion(s string) (Version, bool) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, false
	}
	var v Version
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	return v, true
}

// Tool describes an external binary to probe.
type Tool struct {
	Name        string   // display name, e.g. "yt-dlp"
	Binary      string   // path or name looked up in PATH
	VersionArgs []string // default --version
	Min         *Version // nil = any version
	Optional    bool     // a missing optional tool is a warning
	Fix         string   // install hint
}

// CheckTool runs the tool's version command and compares the result with
// Min. An unparseable version is only a warning.
func CheckTool(ctx context.Context, t Tool) *ValidationResult {
	result := &ValidationResult{Name: t.Name, OK: true}

	path := t.Binary
	if !strings.ContainsRune(path, os.PathSeparator) {
		p, err := runner.LookPath(path)
		if err != nil {
			return missing(result, t, fmt.Sprintf("%s not found in PATH", t.Binary))
		}
		path = p
	} else if _, err := os.Stat(path); err != nil {
		return missing(result, t, fmt.Sprintf("%s not found at %s", t.Name, path))
	}

	args := t.VersionArgs
	if len(args) == 0 {
		args = []string{"--version"}
	}
	out, err := runner.Run(ctx, runner.Command{Path: path, Args: args, Timeout: 15 * time.Second})
	if err != nil {
		result.OK = false
		result.Message = fmt.Sprintf("%s failed to run", t.Name)
		result.Issues = append(result.Issues, runner.Truncate(err.Error(), 200))
		if t.Fix != "" {
			result.Fixes = append(result.Fixes, t.Fix)
		}
		return result
	}

	firstLine, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	v, ok := ParseVersion(firstLine)
	if !ok {
		result.Message = fmt.Sprintf("%s found at %s", t.Name, path)
		result.Warnings = append(result.Warnings, fmt.Sprintf("could not parse %s version from %q", t.Name, runner.Truncate(firstLine, 80)))
		return result
	}
	if t.Min != nil && v.Less(*t.Min) {
		result.OK = false
		result.Message = fmt.Sprintf("%s %s requires update to %s+", t.Name, v, t.Min)
		result.Issues = append(result.Issues, fmt.Sprintf("%s version %s is too old (requires %s+)", t.Name, v, t.Min))
		if t.Fix != "" {
			result.Fixes = append(result.Fixes, t.Fix)
		}
		return result
	}
	result.Message = fmt.Sprintf("%s %s found at %s", t.Name, v, path)
	return result
}

func missing(result *ValidationResult, t Tool, msg string) *ValidationResult {
	result.Message = msg
	if t.Optional {
		result.Warnings = append(result.Warnings, msg)
	} else {
		result.OK = false
		result.Issues = append(result.Issues, msg)
	}
	if t.Fix != "" {
		result.Fixes = append(result.Fixes, t.Fix)
	}
	return result
}

// CheckSecret fails when value is empty.
func CheckSecret(name, value, fix string) *ValidationResult {
	result := &ValidationResult{Name: name, OK: true, Message: name + " is set"}
	if value == "" {
		result.OK = false
		result.Message = name + " is not set"
		result.Issues = append(result.Issues, result.Message)
		result.Fixes = append(result.Fixes, fix)
	}
	return result
}

// CheckFiles fails for every path that does not exist.
func CheckFiles(name string, paths ...string) *ValidationResult {
	result := &ValidationResult{Name: name, OK: true, Message: name + " files present"}
	for _, p := range paths {
		if p == "" {
			result.Issues = append(result.Issues, name+": path not configured")
			continue
		}
		if _, err := os.Stat(p); err != nil {
			result.Issues = append(result.Issues, fmt.Sprintf("%s: %s is missing", name, p))
		}
	}
	if len(result.Issues) > 0 {
		result.OK = false
		result.Message = name + " files missing"
	}
	return result
}

// CheckBackend runs the backend's health check.
func CheckBackend(ctx context.Context, b asr.Backend) *ValidationResult {
	result := &ValidationResult{Name: b.Name(), OK: true}

	hs, err := b.HealthCheck(ctx)
	if err != nil {
		result.OK = false
		result.Message = fmt.Sprintf("%s health check failed", b.Name())
		result.Issues = append(result.Issues, err.Error())
		result.Fixes = append(result.Fixes, SuggestedFixes(err)...)
		return result
	}
	result.OK = hs.OK
	result.Message = fmt.Sprintf("%s: %s", b.Name(), hs.Message)
	if !hs.OK {
		result.Issues = append(result.Issues, hs.Message)
	}
	if hs.Latency > 0 {
		result.Message += fmt.Sprintf(" (%s)", hs.Latency.Round(time.Millisecond))
	}
	return result
}

// SuggestedFixes returns troubleshooting hints for common tool errors.
func SuggestedFixes(err error) []string {
	var exitErr *runner.ExitError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, runner.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return []string{"The tool did not answer in time; check that it is not waiting for input or a network resource"}
	case errors.As(err, &exitErr) && strings.Contains(exitErr.Stderr, "No module named"):
		return []string{"A Python package is missing; install it into the interpreter set in AUDIOPIPE_PY (pip install openai-whisper pyannote.audio)"}
	case errors.As(err, &exitErr):
		return []string{fmt.Sprintf("%s exited with code %d; run it by hand to see the full error", exitErr.Path, exitErr.Code)}
	case strings.Contains(err.Error(), "connection refused"):
		return []string{"Nothing is listening at the configured address; start the service or fix the base URL"}
	}
	return []string{"Error: " + err.Error()}
}

// Summary folds results into one verdict.
func Summary(results ...*ValidationResult) *ValidationResult {
	result := &ValidationResult{Name: "preflight", OK: true}
	var failed []string
	for _, r := range results {
		if !r.OK {
			result.OK = false
			failed = append(failed, r.Name)
		}
		result.Issues = append(result.Issues, r.Issues...)
		result.Warnings = append(result.Warnings, r.Warnings...)
		result.Fixes = append(result.Fixes, r.Fixes...)
	}
	if result.OK {
		result.Message = fmt.Sprintf("preflight passed: %d checks", len(results))
	} else {
		result.Message = "preflight FAILED: " + strings.Join(failed, ", ")
	}
	return result
}
