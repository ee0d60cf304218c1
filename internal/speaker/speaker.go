// Package speaker assigns speaker labels to transcription segments.
//
// The gap heuristic uses timing only: a silence of at least the gap threshold
// between the end of one segment and the start of the next is read as a
// speaker change. It cannot see a change without a pause, and a single
// speaker who pauses long enough is split into several labels.
package speaker

import "fmt"

// DefaultGapThreshold is the silence, in seconds, that starts a new speaker.
const DefaultGapThreshold = 2.0

// Segment is a time-bounded span of transcribed audio. Start and End are in
// seconds from the beginning of the file.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Label formats a speaker index as speaker-NN.
func Label(index int) string {
	return fmt.Sprintf("speaker-%02d", index)
}

// AssignByGap returns one label per segment, in input order. Segments are
// expected in ascending start order; this is not checked.
func AssignByGap(segments []Segment, gapThreshold float64) []string {
	labels := make([]string, 0, len(segments))
	index := 0
	lastEnd := 0.0
	for _, seg := range segments {
		if seg.Start >= lastEnd+gapThreshold {
			index++
		}
		lastEnd = seg.End
		labels = append(labels, Label(index))
	}
	return labels
}
