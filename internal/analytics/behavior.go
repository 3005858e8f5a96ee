package analytics

import (
	"sort"
	"time"

	"sircharge/admin/internal/store"
)

type ActiveUserCounts struct {
	AsOf       time.Time `json:"asOf"`
	DAU        int       `json:"dau"`
	WAU        int       `json:"wau"`
	MAU        int       `json:"mau"`
	Stickiness float64   `json:"stickiness"`
}

// ActiveUsers counts distinct users with an event in the 1, 7 and 30 days
// ending at asOf (inclusive).
func ActiveUsers(events []store.UsageEvent, asOf time.Time) ActiveUserCounts {
	day := asOf.Add(-24 * time.Hour)
	week := asOf.Add(-7 * 24 * time.Hour)
	month := asOf.Add(-30 * 24 * time.Hour)

	dau := make(map[string]struct{})
	wau := make(map[string]struct{})
	mau := make(map[string]struct{})
	for _, ev := range events {
		if ev.UserID == "" || ev.OccurredAt.After(asOf) {
			continue
		}
		if ev.OccurredAt.After(month) {
			mau[ev.UserID] = struct{}{}
		}
		if ev.OccurredAt.After(week) {
			wau[ev.UserID] = struct{}{}
		}
		if ev.OccurredAt.After(day) {
			dau[ev.UserID] = struct{}{}
		}
	}
	return ActiveUserCounts{
		AsOf:       asOf.UTC(),
		DAU:        len(dau),
		WAU:        len(wau),
		MAU:        len(mau),
		Stickiness: round4(ratio(float64(len(dau)), float64(len(mau)))),
	}
}

type Cohort struct {
	Week      time.Time `json:"week"`
	Label     string    `json:"label"`
	Size      int       `json:"size"`
	Retention []float64 `json:"retention"`
}

// RetentionCohorts groups users by signup week. Retention[i] is the share of
// the cohort with at least one event in the i-th week after signup. Only weeks
// that ended by asOf are listed, so a cohort from the current week has an
// empty list.
func RetentionCohorts(users []store.User, events []store.UsageEvent, weeks int, asOf time.Time) []Cohort {
	if weeks <= 0 {
		weeks = 8
	}
	signup := make(map[string]time.Time, len(users))
	members := make(map[time.Time][]string)
	for _, u := range users {
		if u.CreatedAt.IsZero() || u.CreatedAt.After(asOf) {
			continue
		}
		week := BucketStart(u.CreatedAt, Week)
		signup[u.ID] = week
		members[week] = append(members[week], u.ID)
	}

	// active[userID][offset]
	active := make(map[string]map[int]struct{})
	for _, ev := range events {
		cohortWeek, ok := signup[ev.UserID]
		if !ok || ev.OccurredAt.After(asOf) {
			continue
		}
		offset := int(BucketStart(ev.OccurredAt, Week).Sub(cohortWeek).Hours() / (24 * 7))
		if offset < 0 || offset >= weeks {
			continue
		}
		if active[ev.UserID] == nil {
			active[ev.UserID] = make(map[int]struct{})
		}
		active[ev.UserID][offset] = struct{}{}
	}

	cohorts := make([]Cohort, 0, len(members))
	for week, ids := range members {
		// week i is complete once week+7d*(i+1) <= asOf
		elapsed := int(asOf.Sub(week) / (7 * 24 * time.Hour))
		if elapsed > weeks {
			elapsed = weeks
		}
		retention := make([]float64, elapsed)
		for i := 0; i < elapsed; i++ {
			n := 0
			for _, id := range ids {
				if _, ok := active[id][i]; ok {
					n++
				}
			}
			retention[i] = round4(ratio(float64(n), float64(len(ids))))
		}
		cohorts = append(cohorts, Cohort{
			Week:      week,
			Label:     Label(week, Week),
			Size:      len(ids),
			Retention: retention,
		})
	}
	sort.Slice(cohorts, func(i, j int) bool { return cohorts[i].Week.Before(cohorts[j].Week) })
	return cohorts
}

// ActivityHeatmap returns estimated events per weekday (Monday first) and UTC hour.
func ActivityHeatmap(events []store.UsageEvent) [][]float64 {
	grid := make([][]float64, 7)
	for i := range grid {
		grid[i] = make([]float64, 24)
	}
	for _, ev := range events {
		t := ev.OccurredAt.UTC()
		day := (int(t.Weekday()) + 6) % 7
		grid[day][t.Hour()] += Weight(ev.SampleRate)
	}
	for _, row := range grid {
		for h := range row {
			row[h] = round2(row[h])
		}
	}
	return grid
}

type BehaviorReport struct {
	ActiveUsers ActiveUserCounts `json:"activeUsers"`
	Features    []FeatureShare   `json:"features"`
	Cohorts     []Cohort         `json:"cohorts"`
	Heatmap     [][]float64      `json:"heatmap"`
}
