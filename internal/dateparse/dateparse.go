// Package dateparse turns time expressions given on the command line into
// unix epoch seconds.
package dateparse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parse parses a time expression relative to the current time.
// Supported formats:
//   - 1700000000 (epoch seconds, passthrough)
//   - 2024-01-17T12:00:00Z (RFC3339)
//   - 2024-01-17 (midnight, local time)
//   - now, today, yesterday
//   - -90s, -30m, -2h, -7d, -1w (before now)
func Parse(input string) (int64, error) {
	return ParseFrom(input, time.Now())
}

// ParseFrom parses a time expression relative to now.
func ParseFrom(input string, now time.Time) (int64, error) {
	input = strings.ToLower(strings.TrimSpace(input))

	switch input {
	case "":
		return 0, fmt.Errorf("empty time")
	case "now":
		return now.Unix(), nil
	case "today":
		return midnight(now).Unix(), nil
	case "yesterday":
		return midnight(now).AddDate(0, 0, -1).Unix(), nil
	}

	if epochPattern.MatchString(input) {
		return strconv.ParseInt(input, 10, 64)
	}

	if match := agoPattern.FindStringSubmatch(input); match != nil {
		d, err := span(match[1], match[2])
		if err != nil {
			return 0, fmt.Errorf("invalid time %q: %w", input, err)
		}
		return now.Add(-d).Unix(), nil
	}

	if datePattern.MatchString(input) {
		t, err := time.ParseInLocation("2006-01-02", input, now.Location())
		if err != nil {
			return 0, fmt.Errorf("invalid date %q: %w", input, err)
		}
		return t.Unix(), nil
	}

	// RFC3339 is case sensitive.
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(input)); err == nil {
		return t.Unix(), nil
	}

	return 0, fmt.Errorf("unrecognized time %q (use epoch seconds, RFC3339, YYYY-MM-DD, now, today, yesterday or -N[smhdw])", input)
}

var (
	epochPattern = regexp.MustCompile(`^\d+$`)
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	agoPattern   = regexp.MustCompile(`^-(\d+)([smhdw])$`)
	spanPattern  = regexp.MustCompile(`^(\d+)([smhdw]?)$`)
)

var units = map[string]time.Duration{
	"":  time.Second,
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

func span(n, unit string) (time.Duration, error) {
	v, err := strconv.ParseInt(n, 10, 64)
	u := units[unit]
	if err != nil || v > math.MaxInt64/int64(u) {
		return 0, fmt.Errorf("out of range")
	}
	return time.Duration(v) * u, nil
}

// ParseDuration parses a span such as 90, 30s, 15m, 2h, 7d or 1w.
// A bare number is seconds.
func ParseDuration(input string) (time.Duration, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	match := spanPattern.FindStringSubmatch(input)
	if match == nil {
		return 0, fmt.Errorf("invalid duration %q (use N[smhdw])", input)
	}
	d, err := span(match[1], match[2])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", input, err)
	}
	return d, nil
}

func midnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// IsValid reports whether input is a recognized time expression.
func IsValid(input string) bool {
	_, err := Parse(input)
	return err == nil
}
