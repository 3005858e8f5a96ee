package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"sircharge/admin/internal/quota"
	"sircharge/admin/internal/store"
	"sircharge/admin/internal/util"
)

type TierView struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	PriceCents    int                    `json:"priceCents"`
	Currency      string                 `json:"currency"`
	BillingPeriod string                 `json:"billingPeriod"`
	Limits        map[string]store.Limit `json:"limits"`
	Features      []string               `json:"features"`
	IsDefault     bool                   `json:"isDefault"`
	SortOrder     int                    `json:"sortOrder"`
	Active        bool                   `json:"active"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

func tierView(t store.SubscriptionTier) TierView {
	limits := t.Limits
	if limits == nil {
		limits = map[string]store.Limit{}
	}
	features := t.Features
	if features == nil {
		features = []string{}
	}
	return TierView{
		ID:            t.ID,
		Name:          t.Name,
		Description:   t.Description,
		PriceCents:    t.PriceCents,
		Currency:      t.Currency,
		BillingPeriod: t.BillingPeriod,
		Limits:        limits,
		Features:      features,
		IsDefault:     t.IsDefault,
		SortOrder:     t.SortOrder,
		Active:        t.Active,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

type TierInput struct {
	Name          string                 `json:"name" validate:"required,notblank,max=80"`
	Description   string                 `json:"description" validate:"max=1000"`
	PriceCents    int                    `json:"priceCents" validate:"gte=0"`
	Currency      string                 `json:"currency" validate:"omitempty,len=3,alpha"`
	BillingPeriod string                 `json:"billingPeriod" validate:"omitempty,oneof=month year none"`
	Limits        map[string]store.Limit `json:"limits" validate:"dive,keys,required,max=64,endkeys"`
	Features      []string               `json:"features" validate:"dive,required,max=64"`
	IsDefault     bool                   `json:"isDefault"`
	SortOrder     int                    `json:"sortOrder"`
	Active        *bool                  `json:"active"`
}

func (in TierInput) validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	details := map[string]string{}
	for feature, limit := range in.Limits {
		if limit.Daily < quota.Unlimited {
			details["limits."+feature+".daily"] = "must be -1 (unlimited) or at least 0"
		}
		if limit.Monthly < quota.Unlimited {
			details["limits."+feature+".monthly"] = "must be -1 (unlimited) or at least 0"
		}
	}
	if len(details) > 0 {
		return validationError("Invalid limits", details)
	}
	return nil
}

func (in TierInput) apply(t *store.SubscriptionTier) {
	t.Name = strings.TrimSpace(in.Name)
	t.Description = strings.TrimSpace(in.Description)
	t.PriceCents = in.PriceCents
	// omitted currency and period keep the stored values on update
	if in.Currency != "" {
		t.Currency = strings.ToUpper(in.Currency)
	}
	if t.Currency == "" {
		t.Currency = "USD"
	}
	if in.BillingPeriod != "" {
		t.BillingPeriod = in.BillingPeriod
	}
	if t.BillingPeriod == "" {
		t.BillingPeriod = "month"
	}
	t.Limits = make(map[string]store.Limit, len(in.Limits))
	for feature, limit := range in.Limits {
		t.Limits[strings.TrimSpace(feature)] = limit
	}
	t.Features = in.Features
	t.IsDefault = in.IsDefault
	t.SortOrder = in.SortOrder
	if in.Active != nil {
		t.Active = *in.Active
	}
}

func (s *Service) ListTiers(ctx context.Context) ([]TierView, error) {
	tiers, err := s.store.ListTiers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TierView, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierView(t))
	}
	return out, nil
}

func (s *Service) CreateTier(ctx context.Context, input TierInput) (TierView, error) {
	if err := input.validate(); err != nil {
		return TierView{}, err
	}
	tier := store.SubscriptionTier{ID: util.NewID("tier"), Active: true}
	input.apply(&tier)
	if err := s.store.CreateTier(ctx, tier); err != nil {
		return TierView{}, err
	}
	s.invalidateDashboard(ctx)
	return s.tier(ctx, tier.ID)
}

// UpdateTier replaces a tier. Clearing isDefault on the current default is
// rejected because exactly one tier must stay default; mark another tier
// default instead.
func (s *Service) UpdateTier(ctx context.Context, id string, input TierInput) (TierView, error) {
	if err := input.validate(); err != nil {
		return TierView{}, err
	}
	tier, err := s.store.GetTier(ctx, id)
	if err != nil {
		return TierView{}, err
	}
	if tier.IsDefault && !input.IsDefault {
		return TierView{}, domainError(http.StatusConflict, "DEFAULT_TIER_REQUIRED", "Mark another tier as default instead", nil)
	}
	input.apply(&tier)
	if err := s.store.UpdateTier(ctx, tier); err != nil {
		return TierView{}, err
	}
	s.invalidateDashboard(ctx)
	return s.tier(ctx, id)
}

func (s *Service) DeleteTier(ctx context.Context, id string) error {
	if err := s.store.DeleteTier(ctx, id); err != nil {
		return err
	}
	s.invalidateDashboard(ctx)
	return nil
}

func (s *Service) tier(ctx context.Context, id string) (TierView, error) {
	t, err := s.store.GetTier(ctx, id)
	if err != nil {
		return TierView{}, err
	}
	return tierView(t), nil
}

type OverrideView struct {
	ID        string                      `json:"id"`
	UserID    string                      `json:"userId"`
	TierID    string                      `json:"tierId,omitempty"`
	Limits    map[string]store.LimitPatch `json:"limits"`
	Reason    string                      `json:"reason"`
	ExpiresAt *time.Time                  `json:"expiresAt"`
	CreatedBy string                      `json:"createdBy"`
	CreatedAt time.Time                   `json:"createdAt"`
	Active    bool                        `json:"active"`
}

func overrideView(o store.QuotaOverride, now time.Time) OverrideView {
	limits := o.Limits
	if limits == nil {
		limits = map[string]store.LimitPatch{}
	}
	return OverrideView{
		ID:        o.ID,
		UserID:    o.UserID,
		TierID:    o.TierID,
		Limits:    limits,
		Reason:    o.Reason,
		ExpiresAt: o.ExpiresAt,
		CreatedBy: o.CreatedBy,
		CreatedAt: o.CreatedAt,
		Active:    o.ExpiresAt == nil || o.ExpiresAt.After(now),
	}
}

type OverrideInput struct {
	TierID    string                      `json:"tierId" validate:"omitempty,max=64"`
	Limits    map[string]store.LimitPatch `json:"limits" validate:"dive,keys,required,max=64,endkeys"`
	Reason    string                      `json:"reason" validate:"required,notblank,max=500"`
	ExpiresAt *time.Time                  `json:"expiresAt"`
}

func (s *Service) ListOverrides(ctx context.Context, userID string) ([]OverrideView, error) {
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	overrides, err := s.store.ListOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]OverrideView, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, overrideView(o, now))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CreateOverride needs at least one set limit field or a tier switch, and an
// expiry, when given, in the future.
func (s *Service) CreateOverride(ctx context.Context, session Session, userID string, input OverrideInput) (OverrideView, error) {
	if err := validateStruct(input); err != nil {
		return OverrideView{}, err
	}
	now := s.now()
	details := map[string]string{}
	limits := make(map[string]store.LimitPatch, len(input.Limits))
	for feature, patch := range input.Limits {
		if patch.Daily == nil && patch.Monthly == nil {
			continue
		}
		if patch.Daily != nil && *patch.Daily < quota.Unlimited {
			details["limits."+feature+".daily"] = "must be -1 (unlimited) or at least 0"
		}
		if patch.Monthly != nil && *patch.Monthly < quota.Unlimited {
			details["limits."+feature+".monthly"] = "must be -1 (unlimited) or at least 0"
		}
		limits[strings.TrimSpace(feature)] = patch
	}
	tierID := strings.TrimSpace(input.TierID)
	if len(limits) == 0 && tierID == "" {
		details["limits"] = "set at least one limit or a tier"
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		details["expiresAt"] = "must be in the future"
	}
	if len(details) > 0 {
		return OverrideView{}, validationError("Invalid override", details)
	}

	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return OverrideView{}, err
	}
	if tierID != "" {
		if _, err := s.store.GetTier(ctx, tierID); errors.Is(err, store.ErrNotFound) {
			return OverrideView{}, validationError(fmt.Sprintf("unknown tier %q", tierID), map[string]string{"tierId": "unknown tier"})
		} else if err != nil {
			return OverrideView{}, err
		}
	}

	var expiresAt *time.Time
	if input.ExpiresAt != nil {
		t := input.ExpiresAt.UTC()
		expiresAt = &t
	}
	o := store.QuotaOverride{
		ID:        util.NewID("ovr"),
		UserID:    userID,
		TierID:    tierID,
		Limits:    limits,
		Reason:    strings.TrimSpace(input.Reason),
		ExpiresAt: expiresAt,
		CreatedBy: session.UserID,
		CreatedAt: now.UTC(),
	}
	if err := s.store.CreateOverride(ctx, o); err != nil {
		return OverrideView{}, err
	}
	s.invalidateDashboard(ctx)
	return overrideView(o, now), nil
}

func (s *Service) DeleteOverride(ctx context.Context, userID, overrideID string) error {
	if err := s.store.DeleteOverride(ctx, userID, overrideID); err != nil {
		return err
	}
	s.invalidateDashboard(ctx)
	return nil
}
