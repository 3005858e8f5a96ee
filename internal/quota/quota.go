// Package quota resolves a user's effective per-feature limits from their
// subscription tier and quota overrides, and compares them with usage.
package quota

import (
	"sort"
	"time"

	"sircharge/admin/internal/store"
)

// Unlimited is the limit value meaning no cap. Zero blocks the feature.
const Unlimited = -1

const SourceTier = "tier"

type Effective struct {
	TierID   string                 `json:"tierId"`
	TierName string                 `json:"tierName"`
	Limits   map[string]store.Limit `json:"limits"`
	// Sources maps each feature to "tier" or the id of the override that last
	// changed it.
	Sources map[string]string `json:"sources"`
}

// Active returns the overrides in effect at now, oldest first.
func Active(overrides []store.QuotaOverride, now time.Time) []store.QuotaOverride {
	out := make([]store.QuotaOverride, 0, len(overrides))
	for _, o := range overrides {
		if o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Resolve applies active overrides on top of base. An override naming another
// tier switches the base before any limits are applied; the newest such
// override wins. Limit patches then apply oldest first, field by field.
func Resolve(base store.SubscriptionTier, tiers map[string]store.SubscriptionTier, overrides []store.QuotaOverride, now time.Time) Effective {
	active := Active(overrides, now)

	tier := base
	for _, o := range active {
		if o.TierID == "" {
			continue
		}
		if t, ok := tiers[o.TierID]; ok {
			tier = t
		}
	}

	eff := Effective{
		TierID:   tier.ID,
		TierName: tier.Name,
		Limits:   make(map[string]store.Limit, len(tier.Limits)),
		Sources:  make(map[string]string, len(tier.Limits)),
	}
	for feature, limit := range tier.Limits {
		eff.Limits[feature] = limit
		eff.Sources[feature] = SourceTier
	}

	for _, o := range active {
		for feature, patch := range o.Limits {
			limit, ok := eff.Limits[feature]
			if !ok {
				limit = store.Limit{Daily: Unlimited, Monthly: Unlimited}
			}
			changed := false
			if patch.Daily != nil {
				limit.Daily = *patch.Daily
				changed = true
			}
			if patch.Monthly != nil {
				limit.Monthly = *patch.Monthly
				changed = true
			}
			if !changed {
				continue
			}
			eff.Limits[feature] = limit
			eff.Sources[feature] = o.ID
		}
	}
	return eff
}

const (
	PeriodDaily   = "daily"
	PeriodMonthly = "monthly"
)

// Usage holds estimated event counts per feature for the current UTC day and month.
type Usage struct {
	Daily   map[string]int
	Monthly map[string]int
}

type FeatureStatus struct {
	Feature   string `json:"feature"`
	Period    string `json:"period"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Exceeded  bool   `json:"exceeded"`
}

// Status reports usage against every limited feature, daily before monthly.
// Features with usage but no limit are reported as unlimited.
func Status(eff Effective, usage Usage) []FeatureStatus {
	features := make(map[string]struct{}, len(eff.Limits))
	for f := range eff.Limits {
		features[f] = struct{}{}
	}
	for f := range usage.Daily {
		features[f] = struct{}{}
	}
	for f := range usage.Monthly {
		features[f] = struct{}{}
	}
	names := make([]string, 0, len(features))
	for f := range features {
		names = append(names, f)
	}
	sort.Strings(names)

	out := make([]FeatureStatus, 0, 2*len(names))
	for _, f := range names {
		limit, ok := eff.Limits[f]
		if !ok {
			limit = store.Limit{Daily: Unlimited, Monthly: Unlimited}
		}
		out = append(out,
			status(f, PeriodDaily, usage.Daily[f], limit.Daily),
			status(f, PeriodMonthly, usage.Monthly[f], limit.Monthly),
		)
	}
	return out
}

func status(feature, period string, used, limit int) FeatureStatus {
	st := FeatureStatus{Feature: feature, Period: period, Used: used, Limit: limit}
	if limit < 0 {
		st.Remaining = Unlimited
		return st
	}
	st.Remaining = limit - used
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	st.Exceeded = used >= limit
	return st
}

// Windows returns the starts of the UTC day and month containing now.
func Windows(now time.Time) (dayStart, monthStart time.Time) {
	now = now.UTC()
	dayStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return dayStart, monthStart
}
