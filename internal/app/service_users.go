package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sircharge/admin/internal/analytics"
	"sircharge/admin/internal/quota"
	"sircharge/admin/internal/rbac"
	"sircharge/admin/internal/search"
	"sircharge/admin/internal/store"
)

const userSummaryWindow = 30 * 24 * time.Hour

// UserView never carries the password hash.
type UserView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"displayName"`
	Role          string     `json:"role"`
	TierID        string     `json:"tierId"`
	Status        string     `json:"status"`
	Locale        string     `json:"locale"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastActiveAt  *time.Time `json:"lastActiveAt"`
	DeactivatedAt *time.Time `json:"deactivatedAt"`
}

func userView(u store.User) UserView {
	return UserView{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Role:          u.Role,
		TierID:        u.TierID,
		Status:        u.Status,
		Locale:        u.Locale,
		CreatedAt:     u.CreatedAt,
		LastActiveAt:  u.LastActiveAt,
		DeactivatedAt: u.DeactivatedAt,
	}
}

type UserPage struct {
	Items  []UserView `json:"items"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

type UsageSummary struct {
	From     time.Time                `json:"from"`
	To       time.Time                `json:"to"`
	Totals   analytics.Totals         `json:"totals"`
	Features []analytics.FeatureShare `json:"features"`
}

type UserDetail struct {
	User      UserView              `json:"user"`
	Tier      *TierView             `json:"tier"`
	Quota     quota.Effective       `json:"quota"`
	Status    []quota.FeatureStatus `json:"quotaStatus"`
	Overrides []OverrideView        `json:"overrides"`
	Usage     UsageSummary          `json:"usage"`
}

func (s *Service) ListUsers(ctx context.Context, filter store.UserFilter) (UserPage, error) {
	filter.Limit = store.ClampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	users, total, err := s.store.ListUsers(ctx, filter)
	if err != nil {
		return UserPage{}, err
	}
	items := make([]UserView, 0, len(users))
	for _, u := range users {
		items = append(items, userView(u))
	}
	return UserPage{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// GetUserDetail assembles the profile page. The quota status covers the
// current UTC day and month.
func (s *Service) GetUserDetail(ctx context.Context, userID string) (UserDetail, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return UserDetail{}, err
	}

	now := s.now().UTC()
	dayStart, monthStart := quota.Windows(now)
	summaryFrom := now.Add(-userSummaryWindow)

	var (
		tiers     []store.SubscriptionTier
		overrides []store.QuotaOverride
		daily     map[string]int
		monthly   map[string]int
		events    []store.UsageEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tiers, err = s.store.ListTiers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		overrides, err = s.store.ListOverrides(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		daily, err = s.store.UsageByFeature(gctx, userID, dayStart, now)
		return err
	})
	g.Go(func() error {
		var err error
		monthly, err = s.store.UsageByFeature(gctx, userID, monthStart, now)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = s.store.ListUsageEvents(gctx, store.UsageFilter{From: summaryFrom, To: now, UserID: userID})
		return err
	})
	if err := g.Wait(); err != nil {
		return UserDetail{}, fmt.Errorf("load user detail: %w", err)
	}

	byID := make(map[string]store.SubscriptionTier, len(tiers))
	var base store.SubscriptionTier
	for _, t := range tiers {
		byID[t.ID] = t
		if t.IsDefault && base.ID == "" {
			base = t
		}
	}
	if t, ok := byID[user.TierID]; ok {
		base = t
	}

	effective := quota.Resolve(base, byID, overrides, now)
	detail := UserDetail{
		User:      userView(user),
		Quota:     effective,
		Status:    quota.Status(effective, quota.Usage{Daily: daily, Monthly: monthly}),
		Overrides: make([]OverrideView, 0, len(overrides)),
	}
	if t, ok := byID[effective.TierID]; ok {
		view := tierView(t)
		detail.Tier = &view
	}
	for i := len(overrides) - 1; i >= 0; i-- {
		detail.Overrides = append(detail.Overrides, overrideView(overrides[i], now))
	}
	report := analytics.BuildUsageReport(events, summaryFrom, now, analytics.Day)
	detail.Usage = UsageSummary{
		From:     summaryFrom,
		To:       now,
		Totals:   report.Totals,
		Features: analytics.FeatureBreakdown(events),
	}
	return detail, nil
}

// UpdateUserRole changes a role. Admins cannot demote themselves so there is
// always someone left to undo a mistake.
func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) (UserView, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if !rbac.Valid(role) {
		return UserView{}, validationError("Unknown role", map[string]string{"role": "role is not a known role"})
	}
	if userID == session.UserID && rbac.Normalize(role) != rbac.RoleAdmin {
		return UserView{}, domainError(http.StatusConflict, "SELF_DEMOTION", "You cannot remove your own admin role", nil)
	}
	if err := s.store.UpdateUserRole(ctx, userID, role); err != nil {
		return UserView{}, err
	}
	return s.reloadUser(ctx, userID)
}

func (s *Service) UpdateUserStatus(ctx context.Context, session Session, userID, status string) (UserView, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != store.UserStatusActive && status != store.UserStatusDisabled {
		return UserView{}, validationError("Unknown status", map[string]string{"status": "status must be active or disabled"})
	}
	if userID == session.UserID && status == store.UserStatusDisabled {
		return UserView{}, domainError(http.StatusConflict, "SELF_DISABLE", "You cannot disable your own account", nil)
	}
	if err := s.store.UpdateUserStatus(ctx, userID, status); err != nil {
		return UserView{}, err
	}
	s.invalidateDashboard(ctx)
	return s.reloadUser(ctx, userID)
}

// UpdateUserTier assigns a tier. An empty id returns the user to the default tier.
func (s *Service) UpdateUserTier(ctx context.Context, userID, tierID string) (UserView, error) {
	tierID = strings.TrimSpace(tierID)
	if tierID != "" {
		if _, err := s.store.GetTier(ctx, tierID); errors.Is(err, store.ErrNotFound) {
			return UserView{}, validationError(fmt.Sprintf("unknown tier %q", tierID), map[string]string{"tierId": "unknown tier"})
		} else if err != nil {
			return UserView{}, err
		}
	}
	if err := s.store.UpdateUserTier(ctx, userID, tierID); err != nil {
		return UserView{}, err
	}
	s.invalidateDashboard(ctx)
	return s.reloadUser(ctx, userID)
}

func (s *Service) reloadUser(ctx context.Context, userID string) (UserView, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	s.indexUser(user)
	return userView(user), nil
}

// Search runs a free-text query over the vocabulary and user indexes.
func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, validationError("q is required", map[string]string{"q": "q is required"})
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}
