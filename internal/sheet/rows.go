package sheet

import (
	"fmt"
	"strings"

	"github.com/tiroq/audiopipe/internal/speaker"
)

// Column headers of the stage workbooks.
const (
	ColSpeakerID     = "speaker_ID"
	ColStartTime     = "start_time"
	ColStopTime      = "stop_time"
	ColTranscription = "transcription"
)

// DataSheet is the name of the first worksheet, as pandas names it.
const DataSheet = "Sheet1"

// DiarizationTable builds the Timestamps workbook sheet from speaker turns.
func DiarizationTable(turns []speaker.Turn) Table {
	t := Table{Name: DataSheet, Columns: []string{ColSpeakerID, ColStartTime, ColStopTime}}
	for _, turn := range turns {
		t.Rows = append(t.Rows, []any{turn.Speaker, FormatRounded(turn.Start), FormatRounded(turn.End)})
	}
	return t
}

// TranscriptionTable builds the Transcriptions workbook sheet. labels must
// have one entry per segment.
func TranscriptionTable(segments []speaker.Segment, labels []string) (Table, error) {
	if len(labels) != len(segments) {
		return Table{}, fmt.Errorf("sheet: %d labels for %d segments", len(labels), len(segments))
	}
	t := Table{Name: DataSheet, Columns: []string{ColSpeakerID, ColStartTime, ColStopTime, ColTranscription}}
	for i, seg := range segments {
		t.Rows = append(t.Rows, []any{labels[i], FormatPadded(seg.Start), FormatPadded(seg.End), strings.TrimSpace(seg.Text)})
	}
	return t, nil
}

// StatsTable renders gap statistics as a metric/value sheet.
func StatsTable(st speaker.GapStats, gapThreshold float64) Table {
	return Table{
		Name:    "summary",
		Columns: []string{"metric", "value"},
		Rows: [][]any{
			{"segments", st.Segments},
			{"speakers", st.Speakers},
			{"gap_threshold_s", gapThreshold},
			{"gaps", st.Gaps},
			{"mean_gap_s", round3(st.MeanGap)},
			{"median_gap_s", round3(st.MedianGap)},
			{"p90_gap_s", round3(st.P90Gap)},
			{"max_gap_s", round3(st.MaxGap)},
		},
	}
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}

// ReadDiarization parses a workbook written from DiarizationTable back into
// turns. Columns are located by header name.
func ReadDiarization(path string) ([]speaker.Turn, error) {
	tables, err := ReadXLSX(path)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("sheet: %s has no worksheets", path)
	}
	t := tables[0]
	idx := map[string]int{}
	for i, c := range t.Columns {
		idx[c] = i
	}
	for _, c := range []string{ColSpeakerID, ColStartTime, ColStopTime} {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("sheet: %s: missing column %q", path, c)
		}
	}

	turns := make([]speaker.Turn, 0, len(t.Rows))
	for r, row := range t.Rows {
		cell := func(col string) string {
			i := idx[col]
			if i >= len(row) {
				return ""
			}
			return fmt.Sprint(row[i])
		}
		start, err := ParseClock(cell(ColStartTime))
		if err != nil {
			return nil, fmt.Errorf("sheet: %s row %d: %w", path, r+2, err)
		}
		end, err := ParseClock(cell(ColStopTime))
		if err != nil {
			return nil, fmt.Errorf("sheet: %s row %d: %w", path, r+2, err)
		}
		turns = append(turns, speaker.Turn{Speaker: cell(ColSpeakerID), Start: start, End: end})
	}
	return turns, nil
}
