package sheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatRounded renders seconds rounded half-to-even as H:MM:SS with
// unpadded hours ("0:00:05"). Used for diarization rows.
func FormatRounded(sec float64) string {
	return formatTimedelta(int64(math.RoundToEven(sec)))
}

// FormatPadded renders seconds truncated toward zero and left-padded with
// zeros to eight characters ("00:00:05"). Used for transcription rows.
func FormatPadded(sec float64) string {
	s := formatTimedelta(int64(sec))
	if len(s) < 8 {
		s = strings.Repeat("0", 8-len(s)) + s
	}
	return s
}

// formatTimedelta renders whole seconds as [D day(s), ]H:MM:SS.
func formatTimedelta(total int64) string {
	neg := total < 0
	if neg {
		total = -total
	}
	days := total / 86400
	rem := total % 86400
	clock := fmt.Sprintf("%d:%02d:%02d", rem/3600, rem%3600/60, rem%60)
	if neg {
		return "-" + clock
	}
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	default:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
}

// ParseClock parses the output of FormatRounded or FormatPadded back into
// seconds. MM:SS and plain seconds are accepted too.
func ParseClock(s string) (float64, error) {
	s = strings.TrimSpace(s)
	var days float64
	if i := strings.Index(s, ","); i >= 0 {
		fields := strings.Fields(s[:i])
		if len(fields) != 2 || !strings.HasPrefix(fields[1], "day") {
			return 0, fmt.Errorf("invalid clock %q", s)
		}
		d, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, fmt.Errorf("invalid clock %q: %w", s, err)
		}
		days = float64(d)
		s = strings.TrimSpace(s[i+1:])
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 || s == "" {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid clock %q", s)
		}
		total = total*60 + v
	}
	return days*86400 + total, nil
}
