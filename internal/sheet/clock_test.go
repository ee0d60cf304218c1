package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRounded(t *testing.T) {
	tests := []struct {
		sec  float64
		want string
	}{
		{0, "0:00:00"},
		{5.4, "0:00:05"},
		{5.6, "0:00:06"},
		{2.5, "0:00:02"}, // half to even
		{3.5, "0:00:04"},
		{59.9, "0:01:00"},
		{3725, "1:02:05"},
		{36000, "10:00:00"},
		{86400, "1 day, 0:00:00"},
		{2*86400 + 61, "2 days, 0:01:01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRounded(tt.sec), "%v", tt.sec)
	}
}

func TestFormatPadded(t *testing.T) {
	tests := []struct {
		sec  float64
		want string
	}{
		{0, "00:00:00"},
		{5.99, "00:00:05"}, // truncated
		{65, "00:01:05"},
		{3725.7, "01:02:05"},
		{36000, "10:00:00"},
		{86401, "1 day, 0:00:01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPadded(tt.sec), "%v", tt.sec)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0:00:05", 5},
		{"00:00:05", 5},
		{"1:02:05", 3725},
		{"10:00:00", 36000},
		{"1 day, 0:00:01", 86401},
		{"3 days, 1:00:00", 3*86400 + 3600},
		{"01:30", 90},
		{"42.5", 42.5},
		{" 0:00:07 ", 7},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseClock_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1:2:3:4", "x days, 0:00:00", "1 week, 0:00:00", "-1:00"} {
		_, err := ParseClock(in)
		assert.Error(t, err, in)
	}
}

func TestClockRoundTrip(t *testing.T) {
	for _, sec := range []float64{0, 1, 59, 60, 3599, 3600, 86399, 86400, 90061} {
		got, err := ParseClock(FormatRounded(sec))
		require.NoError(t, err)
		assert.Equal(t, sec, got)

		got, err = ParseClock(FormatPadded(sec))
		require.NoError(t, err)
		assert.Equal(t, sec, got)
	}
}
