package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestParseGranularity(t *testing.T) {
	cases := []struct {
		raw     string
		want    Granularity
		wantErr bool
	}{
		{raw: "", want: Day},
		{raw: "day", want: Day},
		{raw: " WEEK ", want: Week},
		{raw: "month", want: Month},
		{raw: "year", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseGranularity(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBucketStart(t *testing.T) {
	// 2026-01-08 is a Thursday.
	ts := time.Date(2026, 1, 8, 17, 45, 12, 0, time.UTC)
	assert.Equal(t, date(2026, 1, 8, 0), BucketStart(ts, Day))
	assert.Equal(t, date(2026, 1, 5, 0), BucketStart(ts, Week))
	assert.Equal(t, date(2026, 1, 1, 0), BucketStart(ts, Month))

	// A Sunday belongs to the week that started the previous Monday.
	sunday := date(2026, 1, 11, 23)
	assert.Equal(t, date(2026, 1, 5, 0), BucketStart(sunday, Week))

	// Non-UTC input is bucketed by its UTC instant.
	tokyo := time.FixedZone("JST", 9*3600)
	local := time.Date(2026, 2, 1, 3, 0, 0, 0, tokyo) // 2026-01-31 18:00 UTC
	assert.Equal(t, date(2026, 1, 31, 0), BucketStart(local, Day))
	assert.Equal(t, date(2026, 1, 1, 0), BucketStart(local, Month))
}

func TestBuckets(t *testing.T) {
	days := Buckets(date(2026, 1, 1, 12), date(2026, 1, 4, 0), Day)
	assert.Equal(t, []time.Time{date(2026, 1, 1, 0), date(2026, 1, 2, 0), date(2026, 1, 3, 0)}, days)

	weeks := Buckets(date(2026, 1, 1, 0), date(2026, 1, 19, 0), Week)
	require.Len(t, weeks, 3)
	assert.Equal(t, date(2025, 12, 29, 0), weeks[0])
	assert.Equal(t, date(2026, 1, 12, 0), weeks[2])

	months := Buckets(date(2025, 11, 15, 0), date(2026, 2, 1, 0), Month)
	assert.Equal(t, []time.Time{date(2025, 11, 1, 0), date(2025, 12, 1, 0), date(2026, 1, 1, 0)}, months)

	assert.Nil(t, Buckets(date(2026, 1, 2, 0), date(2026, 1, 1, 0), Day))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "2026-01-05", Label(date(2026, 1, 5, 0), Day))
	assert.Equal(t, "2026-W02", Label(date(2026, 1, 5, 0), Week))
	assert.Equal(t, "2026-W01", Label(date(2025, 12, 29, 0), Week))
	assert.Equal(t, "2026-01", Label(date(2026, 1, 5, 0), Month))
}

func TestNormalizeRange(t *testing.T) {
	now := date(2026, 3, 1, 10)

	from, to, err := NormalizeRange(time.Time{}, time.Time{}, now)
	require.NoError(t, err)
	assert.Equal(t, now, to)
	assert.Equal(t, now.Add(-DefaultRange), from)

	_, _, err = NormalizeRange(now, now, now)
	assert.Error(t, err)

	_, _, err = NormalizeRange(now.AddDate(-2, 0, 0), now, now)
	assert.Error(t, err)
}
