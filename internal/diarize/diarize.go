// Package diarize answers "who spoke when" for a converted WAV file.
package diarize

import (
	"context"
	"sort"

	"github.com/tiroq/audiopipe/internal/speaker"
)

// Turn is one speaker turn in seconds.
type Turn = speaker.Turn

// Backend produces speaker turns for a 16 kHz mono WAV file.
type Backend interface {
	Name() string
	Diarize(ctx context.Context, wavPath string) ([]Turn, error)
}

// SortTurns orders turns by start, then end.
func SortTurns(turns []Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].Start != turns[j].Start {
			return turns[i].Start < turns[j].Start
		}
		return turns[i].End < turns[j].End
	})
}

// Speakers returns the distinct speaker labels in order of first appearance.
func Speakers(turns []Turn) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range turns {
		if !seen[t.Speaker] {
			seen[t.Speaker] = true
			out = append(out, t.Speaker)
		}
	}
	return out
}
