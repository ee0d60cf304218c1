package speaker

// Turn is one acoustic-diarization span attributed to a speaker.
type Turn struct {
	Speaker string
	Start   float64
	End     float64
}

// AssignByOverlap labels each segment with the speaker of the diarization turn
// that overlaps it the most. Segments no turn overlaps keep the label the gap
// heuristic would have given them, so the result always has one label per
// segment.
func AssignByOverlap(segments []Segment, turns []Turn, gapThreshold float64) []string {
	labels := AssignByGap(segments, gapThreshold)
	if len(turns) == 0 {
		return labels
	}
	for i, seg := range segments {
		best := 0.0
		for _, turn := range turns {
			overlap := min(seg.End, turn.End) - max(seg.Start, turn.Start)
			if overlap > best {
				best = overlap
				labels[i] = turn.Speaker
			}
		}
	}
	return labels
}
