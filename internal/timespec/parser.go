// Package timespec parses the --since and --until flags of drey hoard.
package timespec

import (
	"fmt"
	"time"
)

// Range bounds event timestamps. A zero end is open.
type Range struct {
	Since time.Time
	Until time.Time
}

// Contains reports whether t falls inside the range, bounds included.
func (r Range) Contains(t time.Time) bool {
	if !r.Since.IsZero() && t.Before(r.Since) {
		return false
	}
	if !r.Until.IsZero() && t.After(r.Until) {
		return false
	}
	return true
}

// IsOpen reports whether neither bound is set.
func (r Range) IsOpen() bool {
	return r.Since.IsZero() && r.Until.IsZero()
}

// Parse parses a time specification relative to now.
// Supports two formats:
//   - Go duration format: "1h", "30m", "1h30m" meaning that long before now
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
func Parse(spec string, now time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339Nano, spec); err == nil {
		return t, nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("negative duration: %s", spec)
		}
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// ParseRange parses both flags. Empty strings leave that end open.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var r Range
	var err error

	if since != "" {
		if r.Since, err = Parse(since, now); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		if r.Until, err = Parse(until, now); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !r.Since.IsZero() && !r.Until.IsZero() && !r.Since.Before(r.Until) {
		return Range{}, fmt.Errorf("--since must be before --until")
	}

	return r, nil
}
