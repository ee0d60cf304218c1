package speaker

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// GapStats summarises the silences between consecutive segments.
type GapStats struct {
	Segments  int
	Speakers  int
	Gaps      int
	MeanGap   float64
	MedianGap float64
	P90Gap    float64
	MaxGap    float64
}

// Stats computes gap statistics for segments and the labels assigned to them.
// Negative gaps (overlapping segments) count as zero.
func Stats(segments []Segment, labels []string) GapStats {
	st := GapStats{Segments: len(segments)}

	distinct := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		distinct[l] = struct{}{}
	}
	st.Speakers = len(distinct)

	if len(segments) < 2 {
		return st
	}
	gaps := make([]float64, 0, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		g := segments[i].Start - segments[i-1].End
		if g < 0 {
			g = 0
		}
		gaps = append(gaps, g)
	}
	sort.Float64s(gaps)

	st.Gaps = len(gaps)
	st.MeanGap = stat.Mean(gaps, nil)
	st.MedianGap = stat.Quantile(0.5, stat.Empirical, gaps, nil)
	st.P90Gap = stat.Quantile(0.9, stat.Empirical, gaps, nil)
	st.MaxGap = gaps[len(gaps)-1]
	return st
}
