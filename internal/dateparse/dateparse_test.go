package dateparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrom(t *testing.T) {
	// Wednesday, 2024-01-17 12:00 UTC
	ref := time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input    string
		expected time.Time
	}{
		{"now", ref},
		{"NOW", ref},
		{"today", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)},
		{"Yesterday", time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)},

		{"-30m", ref.Add(-30 * time.Minute)},
		{"-2h", ref.Add(-2 * time.Hour)},
		{"-1d", ref.AddDate(0, 0, -1)},
		{"-2w", ref.AddDate(0, 0, -14)},

		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-01-17T08:30:00Z", time.Date(2024, 1, 17, 8, 30, 0, 0, time.UTC)},
		{"2024-01-17t08:30:00+02:00", time.Date(2024, 1, 17, 6, 30, 0, 0, time.UTC)},
		{"  1705492800 ", time.Unix(1705492800, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFrom(tt.input, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.expected.Unix(), got)
		})
	}
}

func TestParseFromLocalDate(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ref := time.Date(2024, 1, 17, 12, 0, 0, 0, loc)

	got, err := ParseFrom("2024-01-17", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 16, 22, 0, 0, 0, time.UTC).Unix(), got)

	got, err = ParseFrom("today", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 16, 22, 0, 0, 0, time.UTC).Unix(), got)
}

func TestParseFromInvalid(t *testing.T) {
	ref := time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)

	for _, input := range []string{"", "tomorrow-ish", "-5y", "+1d", "2024-13-45", "2024-01-17 08:30", "-d"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseFrom(input, ref)
			assert.Error(t, err)
		})
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("now"))
	assert.True(t, IsValid("-15m"))
	assert.True(t, IsValid("1705492800"))
	assert.False(t, IsValid("whenever"))
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"90":  90 * time.Second,
		"30s": 30 * time.Second,
		"15M": 15 * time.Minute,
		"2h":  2 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for input, want := range tests {
		got, err := ParseDuration(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	for _, input := range []string{"", "-1h", "1y", "h"} {
		_, err := ParseDuration(input)
		assert.Error(t, err, input)
	}
}

func TestResolveRange(t *testing.T) {
	ref := time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)
	now := ref.Unix()

	t.Run("end defaults to now", func(t *testing.T) {
		r, err := ResolveRange(RangeOptions{}, ref)
		require.NoError(t, err)
		assert.Nil(t, r.Start)
		require.NotNil(t, r.End)
		assert.Equal(t, now, *r.End)
	})

	t.Run("relative start is before end", func(t *testing.T) {
		r, err := ResolveRange(RangeOptions{Start: "-1h", End: "2024-01-17"}, ref)
		require.NoError(t, err)
		midnight := time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC).Unix()
		assert.Equal(t, midnight, *r.End)
		assert.Equal(t, midnight-3600, *r.Start)
	})

	t.Run("window before end", func(t *testing.T) {
		r, err := ResolveRange(RangeOptions{Window: "2d"}, ref)
		require.NoError(t, err)
		assert.Equal(t, now-2*86400, *r.Start)
		assert.Equal(t, now, *r.End)
	})

	t.Run("midpoint and window", func(t *testing.T) {
		r, err := ResolveRange(RangeOptions{Window: "2d", Midpoint: "2024-01-10"}, ref)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC).Unix(), *r.Start)
		assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC).Unix(), *r.End)
	})

	t.Run("midpoint requires window", func(t *testing.T) {
		_, err := ResolveRange(RangeOptions{Midpoint: "now"}, ref)
		assert.ErrorContains(t, err, "--midpoint requires --window")
	})

	t.Run("invalid start", func(t *testing.T) {
		_, err := ResolveRange(RangeOptions{Start: "whenever"}, ref)
		assert.ErrorContains(t, err, "--start")
	})

	t.Run("warns before logging epoch", func(t *testing.T) {
		r, err := ResolveRange(RangeOptions{Start: "1000"}, ref)
		require.NoError(t, err)
		require.Len(t, r.Warnings, 1)
		assert.Contains(t, r.Warnings[0], "startTime")
	})
}
