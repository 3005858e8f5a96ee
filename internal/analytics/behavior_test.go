package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sircharge/admin/internal/store"
)

func TestActiveUsers(t *testing.T) {
	asOf := date(2026, 1, 31, 12)
	events := []store.UsageEvent{
		{UserID: "u1", OccurredAt: date(2026, 1, 31, 10)},
		{UserID: "u1", OccurredAt: date(2026, 1, 30, 10)},
		{UserID: "u2", OccurredAt: date(2026, 1, 27, 0)},
		{UserID: "u3", OccurredAt: date(2026, 1, 5, 0)},
		{UserID: "u4", OccurredAt: date(2025, 12, 20, 0)},
		{UserID: "u5", OccurredAt: date(2026, 2, 1, 0)},
		{UserID: "", OccurredAt: date(2026, 1, 31, 11)},
	}

	got := ActiveUsers(events, asOf)
	assert.Equal(t, 1, got.DAU)
	assert.Equal(t, 2, got.WAU)
	assert.Equal(t, 3, got.MAU)
	assert.Equal(t, 0.3333, got.Stickiness)
	assert.Equal(t, asOf, got.AsOf)
}

func TestActiveUsersEmpty(t *testing.T) {
	got := ActiveUsers(nil, date(2026, 1, 31, 0))
	assert.Zero(t, got.MAU)
	assert.Zero(t, got.Stickiness)
}

func retentionFixture() ([]store.User, []store.UsageEvent) {
	users := []store.User{
		{ID: "a", CreatedAt: date(2026, 1, 6, 9)},
		{ID: "b", CreatedAt: date(2026, 1, 7, 9)},
		{ID: "c", CreatedAt: date(2026, 1, 13, 9)},
		{ID: "late", CreatedAt: date(2026, 2, 1, 0)},
	}
	events := []store.UsageEvent{
		{UserID: "a", OccurredAt: date(2026, 1, 7, 0)},
		{UserID: "a", OccurredAt: date(2026, 1, 14, 0)},
		{UserID: "b", OccurredAt: date(2026, 1, 20, 0)},
		{UserID: "c", OccurredAt: date(2026, 1, 13, 10)},
		{UserID: "stranger", OccurredAt: date(2026, 1, 13, 10)},
	}
	return users, events
}

func TestRetentionCohorts(t *testing.T) {
	users, events := retentionFixture()
	cohorts := RetentionCohorts(users, events, 0, date(2026, 1, 21, 12))
	require.Len(t, cohorts, 2)

	first := cohorts[0]
	assert.Equal(t, date(2026, 1, 5, 0), first.Week)
	assert.Equal(t, "2026-W02", first.Label)
	assert.Equal(t, 2, first.Size)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, first.Retention)

	second := cohorts[1]
	assert.Equal(t, 1, second.Size)
	assert.Equal(t, []float64{1}, second.Retention, "the week of 2026-01-19 is still running")
}

func TestRetentionCohortsSkipUnfinishedWeeks(t *testing.T) {
	users := []store.User{{ID: "a", CreatedAt: date(2026, 3, 2, 9)}}
	events := []store.UsageEvent{
		{UserID: "a", OccurredAt: date(2026, 3, 2, 10)},
		{UserID: "a", OccurredAt: date(2026, 3, 10, 10)},
	}

	midWeek := RetentionCohorts(users, events, 4, date(2026, 3, 4, 12))
	require.Len(t, midWeek, 1)
	assert.Equal(t, 1, midWeek[0].Size)
	assert.Empty(t, midWeek[0].Retention)
	assert.NotNil(t, midWeek[0].Retention)

	weekBoundary := RetentionCohorts(users, events, 4, date(2026, 3, 9, 0))
	require.Len(t, weekBoundary, 1)
	assert.Equal(t, []float64{1}, weekBoundary[0].Retention)

	twoWeeks := RetentionCohorts(users, events, 4, date(2026, 3, 16, 0))
	require.Len(t, twoWeeks, 1)
	assert.Equal(t, []float64{1, 1}, twoWeeks[0].Retention)
}

func TestRetentionCohortsWindow(t *testing.T) {
	users, events := retentionFixture()
	cohorts := RetentionCohorts(users, events, 2, date(2026, 1, 21, 12))
	require.Len(t, cohorts, 2)
	assert.Equal(t, []float64{0.5, 0.5}, cohorts[0].Retention)
}

func TestActivityHeatmap(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	events := []store.UsageEvent{
		{SampleRate: 1, OccurredAt: date(2026, 1, 5, 8)},
		{SampleRate: 0.5, OccurredAt: date(2026, 1, 11, 23)},
		// Monday 08:30 UTC
		{SampleRate: 1, OccurredAt: time.Date(2026, 1, 5, 9, 30, 0, 0, cet)},
	}
	grid := ActivityHeatmap(events)
	require.Len(t, grid, 7)
	for _, row := range grid {
		require.Len(t, row, 24)
	}
	assert.Equal(t, 2.0, grid[0][8])
	assert.Equal(t, 2.0, grid[6][23])
	assert.Zero(t, grid[3][12])
}
