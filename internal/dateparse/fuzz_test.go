package dateparse

import (
	"testing"
	"time"
)

// FuzzParseFrom checks that ParseFrom never panics and that every accepted
// input maps to a time no later than now for relative expressions.
func FuzzParseFrom(f *testing.F) {
	seeds := []string{
		"now", "today", "yesterday",
		"-1m", "-24h", "-7d", "-2w", "-0d",
		"2024-01-15", "2024-01-17T08:30:00Z", "1705492800",
		"", " ", "-", "-99999999999999999999d", "invalid",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	ref := time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)

	f.Fuzz(func(t *testing.T, input string) {
		got, err := ParseFrom(input, ref)
		if err != nil {
			return
		}
		if agoPattern.MatchString(input) && got > ref.Unix() {
			t.Errorf("ParseFrom(%q) = %d, after reference %d", input, got, ref.Unix())
		}
	})
}
