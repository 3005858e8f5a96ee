package analytics

import (
	"sort"
	"strings"
	"time"

	"sircharge/admin/internal/store"
)

// ModelPrice is in US cents per 1K tokens.
type ModelPrice struct {
	InputPer1K  float64 `json:"inputPer1K" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"outputPer1K" yaml:"output_per_1k"`
}

// Pricing maps "provider/model" to a price. Unknown models use Default.
type Pricing struct {
	Models  map[string]ModelPrice `json:"models"`
	Default ModelPrice            `json:"default"`
}

func DefaultPricing() Pricing {
	return Pricing{
		Models: map[string]ModelPrice{
			"openai/gpt-4o":               {InputPer1K: 0.25, OutputPer1K: 1.0},
			"openai/gpt-4o-mini":          {InputPer1K: 0.015, OutputPer1K: 0.06},
			"anthropic/claude-3-5-haiku":  {InputPer1K: 0.08, OutputPer1K: 0.4},
			"anthropic/claude-3-5-sonnet": {InputPer1K: 0.3, OutputPer1K: 1.5},
			"google/gemini-1.5-flash":     {InputPer1K: 0.0075, OutputPer1K: 0.03},
			"google/gemini-1.5-pro":       {InputPer1K: 0.125, OutputPer1K: 0.5},
		},
		Default: ModelPrice{InputPer1K: 0.1, OutputPer1K: 0.3},
	}
}

// Cost returns the price of one call in cents.
func (p Pricing) Cost(provider, model string, tokensIn, tokensOut int) float64 {
	price, ok := p.Models[strings.ToLower(provider+"/"+model)]
	if !ok {
		price = p.Default
	}
	return float64(tokensIn)*price.InputPer1K/1000 + float64(tokensOut)*price.OutputPer1K/1000
}

type LanguageStat struct {
	Language     string  `json:"language"`
	Executions   float64 `json:"executions"`
	SuccessRate  float64 `json:"successRate"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	AvgTokensIn  float64 `json:"avgTokensIn"`
	AvgTokensOut float64 `json:"avgTokensOut"`
}

type PromptStat struct {
	PromptID           string         `json:"promptId"`
	Version            int            `json:"version"`
	Samples            int            `json:"samples"`
	Executions         float64        `json:"executions"`
	SuccessRate        float64        `json:"successRate"`
	AvgLatencyMs       float64        `json:"avgLatencyMs"`
	P95LatencyMs       float64        `json:"p95LatencyMs"`
	AvgTokensIn        float64        `json:"avgTokensIn"`
	AvgTokensOut       float64        `json:"avgTokensOut"`
	EstimatedCostCents float64        `json:"estimatedCostCents"`
	Languages          []LanguageStat `json:"languages"`
}

type promptKey struct {
	id      string
	version int
}

// PromptPerformance aggregates executions per prompt version, largest first.
func PromptPerformance(executions []store.PromptExecution, pricing Pricing) []PromptStat {
	type group struct {
		acc   *accumulator
		cost  float64
		langs map[string]*accumulator
	}
	groups := make(map[promptKey]*group)
	for _, ex := range executions {
		key := promptKey{id: ex.PromptID, version: ex.Version}
		g, ok := groups[key]
		if !ok {
			g = &group{acc: newAccumulator(), langs: make(map[string]*accumulator)}
			groups[key] = g
		}
		g.acc.add(ex.UserID, ex.SampleRate, ex.Success, ex.LatencyMs, ex.TokensIn, ex.TokensOut)
		g.cost += pricing.Cost(ex.Provider, ex.Model, ex.TokensIn, ex.TokensOut) * Weight(ex.SampleRate)

		lang := ex.Language
		if lang == "" {
			lang = "und"
		}
		la, ok := g.langs[lang]
		if !ok {
			la = newAccumulator()
			g.langs[lang] = la
		}
		la.add(ex.UserID, ex.SampleRate, ex.Success, ex.LatencyMs, ex.TokensIn, ex.TokensOut)
	}

	out := make([]PromptStat, 0, len(groups))
	for key, g := range groups {
		stat := PromptStat{
			PromptID:           key.id,
			Version:            key.version,
			Samples:            g.acc.count,
			Executions:         round2(g.acc.weight),
			SuccessRate:        round4(1 - ratio(g.acc.errors, g.acc.weight)),
			AvgLatencyMs:       round2(g.acc.latency.Mean()),
			P95LatencyMs:       Percentile(g.acc.latencies, 95),
			AvgTokensIn:        round2(ratio(g.acc.tokensIn, g.acc.weight)),
			AvgTokensOut:       round2(ratio(g.acc.tokensOut, g.acc.weight)),
			EstimatedCostCents: round2(g.cost),
		}
		for lang, la := range g.langs {
			stat.Languages = append(stat.Languages, LanguageStat{
				Language:     lang,
				Executions:   round2(la.weight),
				SuccessRate:  round4(1 - ratio(la.errors, la.weight)),
				AvgLatencyMs: round2(la.latency.Mean()),
				AvgTokensIn:  round2(ratio(la.tokensIn, la.weight)),
				AvgTokensOut: round2(ratio(la.tokensOut, la.weight)),
			})
		}
		sort.Slice(stat.Languages, func(i, j int) bool {
			if stat.Languages[i].Executions != stat.Languages[j].Executions {
				return stat.Languages[i].Executions > stat.Languages[j].Executions
			}
			return stat.Languages[i].Language < stat.Languages[j].Language
		})
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Executions != out[j].Executions {
			return out[i].Executions > out[j].Executions
		}
		if out[i].PromptID != out[j].PromptID {
			return out[i].PromptID < out[j].PromptID
		}
		return out[i].Version > out[j].Version
	})
	return out
}

type PromptPoint struct {
	Bucket       time.Time `json:"bucket"`
	Label        string    `json:"label"`
	Executions   float64   `json:"executions"`
	SuccessRate  float64   `json:"successRate"`
	AvgLatencyMs float64   `json:"avgLatencyMs"`
	P95LatencyMs float64   `json:"p95LatencyMs"`
	TokensIn     float64   `json:"tokensIn"`
	TokensOut    float64   `json:"tokensOut"`
}

// PromptSeries buckets the executions of one prompt across [from, to).
// An empty bucket reports a success rate of 0.
func PromptSeries(executions []store.PromptExecution, promptID string, from, to time.Time, g Granularity) []PromptPoint {
	starts := Buckets(from, to, g)
	accs := make(map[time.Time]*accumulator, len(starts))
	for _, start := range starts {
		accs[start] = newAccumulator()
	}
	for _, ex := range executions {
		if ex.PromptID != promptID || ex.ExecutedAt.Before(from) || !ex.ExecutedAt.Before(to) {
			continue
		}
		if acc, ok := accs[BucketStart(ex.ExecutedAt, g)]; ok {
			acc.add(ex.UserID, ex.SampleRate, ex.Success, ex.LatencyMs, ex.TokensIn, ex.TokensOut)
		}
	}

	points := make([]PromptPoint, 0, len(starts))
	for _, start := range starts {
		acc := accs[start]
		success := 0.0
		if acc.weight > 0 {
			success = round4(1 - acc.errors/acc.weight)
		}
		points = append(points, PromptPoint{
			Bucket:       start,
			Label:        Label(start, g),
			Executions:   round2(acc.weight),
			SuccessRate:  success,
			AvgLatencyMs: round2(acc.latency.Mean()),
			P95LatencyMs: Percentile(acc.latencies, 95),
			TokensIn:     round2(acc.tokensIn),
			TokensOut:    round2(acc.tokensOut),
		})
	}
	return points
}
