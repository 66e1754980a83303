package dateparse

import (
	"fmt"
	"strings"
	"time"
)

// LoggingEpoch is 2017-09-01T00:00:00Z. The Logging Service holds no
// records before it.
const LoggingEpoch int64 = 1504224000

// RangeOptions are the raw --start, --end, --window and --midpoint values.
// Empty strings are unset.
type RangeOptions struct {
	Start    string
	End      string
	Window   string
	Midpoint string
}

// Range is a resolved query time range in epoch seconds.
type Range struct {
	Start *int64
	End   *int64

	// Warnings lists times earlier than LoggingEpoch.
	Warnings []string
}

// ResolveRange turns o into a time range relative to now.
//
// End defaults to now. A relative start such as -1h is taken before the
// end rather than before now. Midpoint with Window sets both ends to
// Window/2 either side of Midpoint.
func ResolveRange(o RangeOptions, now time.Time) (Range, error) {
	var r Range

	end := now.Unix()
	if o.End != "" {
		v, err := ParseFrom(o.End, now)
		if err != nil {
			return r, fmt.Errorf("--end: %w", err)
		}
		end = v
	}
	r.End = &end

	if o.Start != "" {
		var start int64
		if match := agoPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(o.Start))); match != nil {
			d, err := span(match[1], match[2])
			if err != nil {
				return r, fmt.Errorf("--start: %w", err)
			}
			start = end - int64(d/time.Second)
		} else {
			v, err := ParseFrom(o.Start, now)
			if err != nil {
				return r, fmt.Errorf("--start: %w", err)
			}
			start = v
		}
		r.Start = &start
	}

	switch {
	case o.Midpoint != "" && o.Window == "":
		return r, fmt.Errorf("--midpoint requires --window")
	case o.Midpoint != "":
		mid, err := ParseFrom(o.Midpoint, now)
		if err != nil {
			return r, fmt.Errorf("--midpoint: %w", err)
		}
		window, err := ParseDuration(o.Window)
		if err != nil {
			return r, fmt.Errorf("--window: %w", err)
		}
		offset := int64(window/time.Second) / 2
		start, end := mid-offset, mid+offset
		r.Start, r.End = &start, &end
	case o.Window != "":
		window, err := ParseDuration(o.Window)
		if err != nil {
			return r, fmt.Errorf("--window: %w", err)
		}
		if r.Start == nil {
			start := *r.End - int64(window/time.Second)
			r.Start = &start
		}
	}

	for _, t := range []struct {
		name string
		v    *int64
	}{{"startTime", r.Start}, {"endTime", r.End}} {
		if t.v != nil && *t.v < LoggingEpoch {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %q < logging service epoch %q", t.name,
				time.Unix(*t.v, 0).UTC().Format(time.RFC3339), time.Unix(LoggingEpoch, 0).UTC().Format(time.RFC3339)))
		}
	}
	return r, nil
}
