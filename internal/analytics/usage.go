package analytics

import (
	"sort"
	"time"

	"sircharge/admin/internal/store"
)

// SeriesPoint is one bucket of a usage chart. Estimated values are
// extrapolated through the sample rate; Events is what was recorded.
type SeriesPoint struct {
	Bucket          time.Time `json:"bucket"`
	Label           string    `json:"label"`
	Events          int       `json:"events"`
	EstimatedEvents float64   `json:"estimatedEvents"`
	UniqueUsers     int       `json:"uniqueUsers"`
	TokensIn        float64   `json:"tokensIn"`
	TokensOut       float64   `json:"tokensOut"`
	Errors          float64   `json:"errors"`
	ErrorRate       float64   `json:"errorRate"`
	AvgLatencyMs    float64   `json:"avgLatencyMs"`
	P95LatencyMs    float64   `json:"p95LatencyMs"`
	LatencyWeight   float64   `json:"latencyWeight"`
}

type Totals struct {
	Events          int     `json:"events"`
	EstimatedEvents float64 `json:"estimatedEvents"`
	UniqueUsers     int     `json:"uniqueUsers"`
	TokensIn        float64 `json:"tokensIn"`
	TokensOut       float64 `json:"tokensOut"`
	Errors          float64 `json:"errors"`
	ErrorRate       float64 `json:"errorRate"`
	AvgLatencyMs    float64 `json:"avgLatencyMs"`
}

type UsageReport struct {
	Granularity Granularity   `json:"granularity"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	Series      []SeriesPoint `json:"series"`
	Totals      Totals        `json:"totals"`
}

// UsageSeries groups events into one point per bucket of [from, to). Empty
// buckets are kept as zero points so charts get a continuous axis.
func UsageSeries(events []store.UsageEvent, from, to time.Time, g Granularity) []SeriesPoint {
	starts, accs := bucketEvents(events, from, to, g)
	points := make([]SeriesPoint, 0, len(starts))
	for _, start := range starts {
		points = append(points, pointFrom(start, g, accs[start]))
	}
	return points
}

func bucketEvents(events []store.UsageEvent, from, to time.Time, g Granularity) ([]time.Time, map[time.Time]*accumulator) {
	starts := Buckets(from, to, g)
	accs := make(map[time.Time]*accumulator, len(starts))
	for _, start := range starts {
		accs[start] = newAccumulator()
	}
	for _, ev := range events {
		if ev.OccurredAt.Before(from) || !ev.OccurredAt.Before(to) {
			continue
		}
		acc, ok := accs[BucketStart(ev.OccurredAt, g)]
		if !ok {
			continue
		}
		acc.add(ev.UserID, ev.SampleRate, ev.Success, ev.LatencyMs, ev.TokensIn, ev.TokensOut)
	}
	return starts, accs
}

func pointFrom(start time.Time, g Granularity, acc *accumulator) SeriesPoint {
	return SeriesPoint{
		Bucket:          start,
		Label:           Label(start, g),
		Events:          acc.count,
		EstimatedEvents: round2(acc.weight),
		UniqueUsers:     len(acc.users),
		TokensIn:        round2(acc.tokensIn),
		TokensOut:       round2(acc.tokensOut),
		Errors:          round2(acc.errors),
		ErrorRate:       round4(ratio(acc.errors, acc.weight)),
		AvgLatencyMs:    round2(acc.latency.Mean()),
		P95LatencyMs:    Percentile(acc.latencies, 95),
		LatencyWeight:   acc.latency.Weight(),
	}
}

// BuildUsageReport computes the series and its totals. Totals merge the
// unrounded bucket accumulators and are rounded once at the end.
func BuildUsageReport(events []store.UsageEvent, from, to time.Time, g Granularity) UsageReport {
	starts, accs := bucketEvents(events, from, to, g)

	series := make([]SeriesPoint, 0, len(starts))
	var totals Totals
	var weighted, weightedErrors, tokensIn, tokensOut float64
	var latency WeightedMean
	users := make(map[string]struct{})
	for _, start := range starts {
		acc := accs[start]
		series = append(series, pointFrom(start, g, acc))
		totals.Events += acc.count
		weighted += acc.weight
		weightedErrors += acc.errors
		tokensIn += acc.tokensIn
		tokensOut += acc.tokensOut
		latency.Merge(acc.latency)
		for id := range acc.users {
			users[id] = struct{}{}
		}
	}
	totals.EstimatedEvents = round2(weighted)
	totals.Errors = round2(weightedErrors)
	totals.ErrorRate = round4(ratio(weightedErrors, weighted))
	totals.UniqueUsers = len(users)
	totals.TokensIn = round2(tokensIn)
	totals.TokensOut = round2(tokensOut)
	totals.AvgLatencyMs = round2(latency.Mean())

	return UsageReport{Granularity: g, From: from, To: to, Series: series, Totals: totals}
}

type FeatureShare struct {
	Feature         string  `json:"feature"`
	Events          int     `json:"events"`
	EstimatedEvents float64 `json:"estimatedEvents"`
	UniqueUsers     int     `json:"uniqueUsers"`
	Share           float64 `json:"share"`
	ErrorRate       float64 `json:"errorRate"`
}

// FeatureBreakdown ranks features by estimated events.
func FeatureBreakdown(events []store.UsageEvent) []FeatureShare {
	accs := make(map[string]*accumulator)
	var total float64
	for _, ev := range events {
		feature := ev.Feature
		if feature == "" {
			feature = "unknown"
		}
		acc, ok := accs[feature]
		if !ok {
			acc = newAccumulator()
			accs[feature] = acc
		}
		acc.add(ev.UserID, ev.SampleRate, ev.Success, ev.LatencyMs, ev.TokensIn, ev.TokensOut)
		total += Weight(ev.SampleRate)
	}

	out := make([]FeatureShare, 0, len(accs))
	for feature, acc := range accs {
		out = append(out, FeatureShare{
			Feature:         feature,
			Events:          acc.count,
			EstimatedEvents: round2(acc.weight),
			UniqueUsers:     len(acc.users),
			Share:           round4(ratio(acc.weight, total)),
			ErrorRate:       round4(ratio(acc.errors, acc.weight)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EstimatedEvents != out[j].EstimatedEvents {
			return out[i].EstimatedEvents > out[j].EstimatedEvents
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}
