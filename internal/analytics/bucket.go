// Package analytics turns raw usage events and prompt executions into the
// chart-ready series and tables served by the admin dashboard.
//
// All inputs are bounded result sets already filtered by time range, so every
// function here is a single pass over a slice. Times are bucketed in UTC.
package analytics

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the width of a chart bucket.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// MaxRange bounds how far back a single query may reach.
const MaxRange = 366 * 24 * time.Hour

// DefaultRange is used when the caller omits from.
const DefaultRange = 30 * 24 * time.Hour

// ParseGranularity accepts day, week or month. Empty input means day.
func ParseGranularity(raw string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(raw))) {
	case "", Day:
		return Day, nil
	case Week:
		return Week, nil
	case Month:
		return Month, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", raw)
	}
}

// BucketStart returns the start of the bucket containing t. Weeks start on Monday.
func BucketStart(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case Week:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// NextBucket returns the start of the bucket following start.
func NextBucket(start time.Time, g Granularity) time.Time {
	switch g {
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Buckets lists every bucket start intersecting [from, to), in order.
func Buckets(from, to time.Time, g Granularity) []time.Time {
	if !to.After(from) {
		return nil
	}
	var out []time.Time
	for b := BucketStart(from, g); b.Before(to); b = NextBucket(b, g) {
		out = append(out, b)
	}
	return out
}

// Label formats a bucket start for chart axes: 2026-01-05, 2026-W02 or 2026-01.
func Label(start time.Time, g Granularity) string {
	switch g {
	case Week:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case Month:
		return start.Format("2006-01")
	default:
		return start.Format("2006-01-02")
	}
}

// NormalizeRange fills in defaults for a [from, to) query window. A zero to
// means now, a zero from means DefaultRange before to.
func NormalizeRange(from, to, now time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-DefaultRange)
	}
	from, to = from.UTC(), to.UTC()
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be before to")
	}
	if to.Sub(from) > MaxRange {
		return time.Time{}, time.Time{}, fmt.Errorf("range exceeds %d days", int(MaxRange.Hours()/24))
	}
	return from, to, nil
}
