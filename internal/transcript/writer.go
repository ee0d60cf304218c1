// Package transcript renders a labelled transcription in every output
// format the transcribe stage supports: xlsx, csv, txt, srt and vtt.
package transcript

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tiroq/audiopipe/internal/asr"
	"github.com/tiroq/audiopipe/internal/fileutil"
	"github.com/tiroq/audiopipe/internal/sheet"
	"github.com/tiroq/audiopipe/internal/speaker"
)

// DefaultFormats is what the transcribe stage writes when nothing else is
// configured.
var DefaultFormats = []string{"xlsx"}

// Document is a transcript plus one speaker label per segment. Labels may
// be nil, in which case no speaker prefixes are written.
type Document struct {
	Transcript   *asr.Transcript
	Labels       []string
	GapThreshold float64
}

func (d Document) label(i int) string {
	if i < len(d.Labels) {
		return d.Labels[i]
	}
	return ""
}

// WriteText writes one "[HH:MM:SS] speaker: text" line per segment.
func WriteText(path string, d Document) error {
	var b strings.Builder
	for i, seg := range d.Transcript.Segments {
		fmt.Fprintf(&b, "[%s] ", formatTextTimestamp(seg.Start))
		if l := d.label(i); l != "" {
			fmt.Fprintf(&b, "%s: ", l)
		}
		fmt.Fprintf(&b, "%s\n", strings.TrimSpace(seg.Text))
	}
	return fileutil.AtomicWriteFile(path, []byte(b.String()), 0644)
}

// WriteSRT writes a SubRip file; speakers appear as a "[label]" prefix.
func WriteSRT(path string, d Document) error {
	var b strings.Builder
	for i, seg := range d.Transcript.Segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTimestamp(seg.Start), formatSRTTimestamp(seg.End))
		if l := d.label(i); l != "" {
			fmt.Fprintf(&b, "[%s] ", l)
		}
		fmt.Fprintf(&b, "%s\n", strings.TrimSpace(seg.Text))
	}
	return fileutil.AtomicWriteFile(path, []byte(b.String()), 0644)
}

// WriteVTT writes a WebVTT file; speakers use voice spans (<v label>).
func WriteVTT(path string, d Document) error {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for i, seg := range d.Transcript.Segments {
		b.WriteByte('\n')
		fmt.Fprintf(&b, "%s --> %s\n", formatVTTTimestamp(seg.Start), formatVTTTimestamp(seg.End))
		if l := d.label(i); l != "" {
			fmt.Fprintf(&b, "<v %s>", l)
		}
		fmt.Fprintf(&b, "%s\n", strings.TrimSpace(seg.Text))
	}
	return fileutil.AtomicWriteFile(path, []byte(b.String()), 0644)
}

// WriteXLSX writes the transcription sheet followed by a gap summary sheet.
func WriteXLSX(path string, d Document) error {
	segs := d.Transcript.SpeakerSegments()
	table, err := sheet.TranscriptionTable(segs, d.labels(len(segs)))
	if err != nil {
		return err
	}
	summary := sheet.StatsTable(speaker.Stats(segs, d.Labels), d.GapThreshold)
	return sheet.WriteXLSX(path, table, summary)
}

// WriteCSV writes the transcription sheet as CSV.
func WriteCSV(path string, d Document) error {
	segs := d.Transcript.SpeakerSegments()
	table, err := sheet.TranscriptionTable(segs, d.labels(len(segs)))
	if err != nil {
		return err
	}
	return sheet.WriteCSV(path, table)
}

func (d Document) labels(n int) []string {
	if len(d.Labels) == n {
		return d.Labels
	}
	out := make([]string, n)
	for i := range out {
		out[i] = d.label(i)
	}
	return out
}

var writers = map[string]func(string, Document) error{
	"xlsx": WriteXLSX,
	"csv":  WriteCSV,
	"txt":  WriteText,
	"srt":  WriteSRT,
	"vtt":  WriteVTT,
}

// Formats lists the supported format names.
func Formats() []string {
	out := make([]string, 0, len(writers))
	for f := range writers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ValidateFormats rejects unknown format names.
func ValidateFormats(formats []string) error {
	for _, f := range formats {
		if _, ok := writers[f]; !ok {
			return fmt.Errorf("unknown transcript format %q (supported: %s)", f, strings.Join(Formats(), ", "))
		}
	}
	return nil
}

// WriteAll writes basePath.<format> for every format (DefaultFormats when
// empty) and returns the paths written. A failing format does not stop the
// others; all failures are combined into the returned error.
func WriteAll(basePath string, d Document, formats []string) ([]string, error) {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	var (
		written []string
		errs    []string
	)
	for _, f := range formats {
		w, ok := writers[f]
		if !ok {
			errs = append(errs, fmt.Sprintf("unknown format %q", f))
			continue
		}
		path := basePath + "." + f
		if err := w(path, d); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		written = append(written, path)
	}
	if len(errs) > 0 {
		return written, fmt.Errorf("transcript write errors: %s", strings.Join(errs, "; "))
	}
	return written, nil
}

func formatTextTimestamp(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func formatSRTTimestamp(d time.Duration) string {
	return formatMillis(d, ',')
}

func formatVTTTimestamp(d time.Duration) string {
	return formatMillis(d, '.')
}

func formatMillis(d time.Duration, sep byte) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}
