package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sircharge/admin/internal/store"
)

func intp(v int) *int { return &v }

var (
	now  = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	free = store.SubscriptionTier{
		ID:   "tier_free",
		Name: "Free",
		Limits: map[string]store.Limit{
			"assistant": {Daily: 10, Monthly: 100},
			"location":  {Daily: 50, Monthly: 1000},
		},
	}
	pro = store.SubscriptionTier{
		ID:   "tier_pro",
		Name: "Pro",
		Limits: map[string]store.Limit{
			"assistant": {Daily: 200, Monthly: Unlimited},
		},
	}
	tiers = map[string]store.SubscriptionTier{free.ID: free, pro.ID: pro}
)

func TestResolveWithoutOverrides(t *testing.T) {
	eff := Resolve(free, tiers, nil, now)
	assert.Equal(t, "tier_free", eff.TierID)
	assert.Equal(t, free.Limits, eff.Limits)
	assert.Equal(t, SourceTier, eff.Sources["assistant"])

	eff.Limits["assistant"] = store.Limit{}
	assert.Equal(t, 10, free.Limits["assistant"].Daily, "resolve must not alias tier limits")
}

func TestResolveAppliesFieldsInOrder(t *testing.T) {
	expired := now.Add(-time.Hour)
	later := now.Add(time.Hour)
	overrides := []store.QuotaOverride{
		{ID: "ov_new", CreatedAt: now.Add(-time.Hour), Limits: map[string]store.LimitPatch{"assistant": {Daily: intp(30)}}},
		{ID: "ov_old", CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: &later, Limits: map[string]store.LimitPatch{"assistant": {Daily: intp(20), Monthly: intp(500)}}},
		{ID: "ov_gone", CreatedAt: now.Add(-72 * time.Hour), ExpiresAt: &expired, Limits: map[string]store.LimitPatch{"location": {Daily: intp(0)}}},
		{ID: "ov_new_feature", CreatedAt: now.Add(-2 * time.Hour), Limits: map[string]store.LimitPatch{"export": {Monthly: intp(3)}}},
		{ID: "ov_empty", CreatedAt: now.Add(-time.Minute), Limits: map[string]store.LimitPatch{"location": {}}},
	}

	eff := Resolve(free, tiers, overrides, now)

	assert.Equal(t, store.Limit{Daily: 30, Monthly: 500}, eff.Limits["assistant"])
	assert.Equal(t, "ov_new", eff.Sources["assistant"])
	assert.Equal(t, store.Limit{Daily: 50, Monthly: 1000}, eff.Limits["location"], "expired and empty overrides do nothing")
	assert.Equal(t, SourceTier, eff.Sources["location"])
	assert.Equal(t, store.Limit{Daily: Unlimited, Monthly: 3}, eff.Limits["export"])
}

func TestResolveTierSwitch(t *testing.T) {
	overrides := []store.QuotaOverride{
		{ID: "ov_limit", CreatedAt: now.Add(-2 * time.Hour), Limits: map[string]store.LimitPatch{"assistant": {Daily: intp(5)}}},
		{ID: "ov_tier", CreatedAt: now.Add(-time.Hour), TierID: "tier_pro"},
	}
	eff := Resolve(free, tiers, overrides, now)

	assert.Equal(t, "tier_pro", eff.TierID)
	assert.Equal(t, store.Limit{Daily: 5, Monthly: Unlimited}, eff.Limits["assistant"], "limits apply on top of the switched tier")
	_, hasLocation := eff.Limits["location"]
	assert.False(t, hasLocation)

	unknown := []store.QuotaOverride{{ID: "ov_x", TierID: "tier_gone"}}
	assert.Equal(t, "tier_free", Resolve(free, tiers, unknown, now).TierID)
}

func TestStatus(t *testing.T) {
	eff := Effective{Limits: map[string]store.Limit{
		"assistant": {Daily: 10, Monthly: Unlimited},
		"location":  {Daily: 0, Monthly: 5},
	}}
	usage := Usage{
		Daily:   map[string]int{"assistant": 4, "diary": 7},
		Monthly: map[string]int{"assistant": 90, "location": 6},
	}

	got := Status(eff, usage)
	require.Len(t, got, 6)

	assert.Equal(t, FeatureStatus{Feature: "assistant", Period: PeriodDaily, Used: 4, Limit: 10, Remaining: 6}, got[0])
	assert.Equal(t, FeatureStatus{Feature: "assistant", Period: PeriodMonthly, Used: 90, Limit: Unlimited, Remaining: Unlimited}, got[1])
	assert.Equal(t, FeatureStatus{Feature: "diary", Period: PeriodDaily, Used: 7, Limit: Unlimited, Remaining: Unlimited}, got[2])
	assert.True(t, got[4].Exceeded, "a zero limit blocks the feature")
	assert.Equal(t, FeatureStatus{Feature: "location", Period: PeriodMonthly, Used: 6, Limit: 5, Remaining: 0, Exceeded: true}, got[5])
}

func TestWindows(t *testing.T) {
	day, month := Windows(time.Date(2026, 3, 10, 23, 30, 0, 0, time.FixedZone("PST", -8*3600)))
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), day)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), month)
}
