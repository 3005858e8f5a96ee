package analytics

import (
	"math"
	"sort"
)

// Weight is how many real events one recorded event stands for. Rates outside
// (0, 1] are treated as unsampled.
func Weight(sampleRate float64) float64 {
	if math.IsNaN(sampleRate) || sampleRate <= 0 || sampleRate > 1 {
		return 1
	}
	return 1 / sampleRate
}

// Extrapolate scales a recorded count to the estimated real count.
func Extrapolate(count int, sampleRate float64) float64 {
	return float64(count) * Weight(sampleRate)
}

// WeightedMean accumulates a weighted average.
type WeightedMean struct {
	sum    float64
	weight float64
}

func (m *WeightedMean) Add(value, weight float64) {
	if weight <= 0 {
		return
	}
	m.sum += value * weight
	m.weight += weight
}

func (m *WeightedMean) Merge(other WeightedMean) {
	m.sum += other.sum
	m.weight += other.weight
}

func (m WeightedMean) Weight() float64 {
	return m.weight
}

func (m WeightedMean) Mean() float64 {
	if m.weight == 0 {
		return 0
	}
	return m.sum / m.weight
}

// Percentile returns the nearest-rank percentile (p in 0..100) of values.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// accumulator collects one group of weighted records.
type accumulator struct {
	count     int
	weight    float64
	errors    float64
	tokensIn  float64
	tokensOut float64
	latency   WeightedMean
	latencies []float64
	users     map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{users: make(map[string]struct{})}
}

func (a *accumulator) add(userID string, sampleRate float64, success bool, latencyMs float64, tokensIn, tokensOut int) {
	w := Weight(sampleRate)
	a.count++
	a.weight += w
	if !success {
		a.errors += w
	}
	a.tokensIn += float64(tokensIn) * w
	a.tokensOut += float64(tokensOut) * w
	if latencyMs > 0 {
		a.latency.Add(latencyMs, w)
		a.latencies = append(a.latencies, latencyMs)
	}
	if userID != "" {
		a.users[userID] = struct{}{}
	}
}
