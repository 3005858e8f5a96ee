package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sircharge/admin/internal/analytics"
	"sircharge/admin/internal/store"
)

const (
	dashboardPrefix   = "dash:"
	overviewCacheKey  = dashboardPrefix + "overview"
	overviewWindow    = 30 * 24 * time.Hour
	defaultCohortWeek = 8
	maxCohortWeeks    = 26
	topFeatures       = 5
)

type Overview struct {
	GeneratedAt         time.Time                  `json:"generatedAt"`
	TotalUsers          int                        `json:"totalUsers"`
	NewUsers7d          int                        `json:"newUsers7d"`
	DisabledUsers       int                        `json:"disabledUsers"`
	ActiveTiers         int                        `json:"activeTiers"`
	PromptConfigs       int                        `json:"promptConfigs"`
	ActiveUsers         analytics.ActiveUserCounts `json:"activeUsers"`
	EstimatedEvents30d  float64                    `json:"estimatedEvents30d"`
	PromptExecutions30d float64                    `json:"promptExecutions30d"`
	ErrorRate           float64                    `json:"errorRate"`
	TopFeatures         []analytics.FeatureShare   `json:"topFeatures"`
}

// Overview is computed from three independent reads and cached under dash:overview.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	var cached Overview
	hit, err := s.cache.Get(ctx, overviewCacheKey, &cached)
	if err != nil {
		s.logger.Warn("read overview cache", zap.Error(err))
	}
	if hit {
		return cached, nil
	}

	now := s.now().UTC()
	from := now.Add(-overviewWindow)

	var (
		counts     store.DashboardCounts
		events     []store.UsageEvent
		executions []store.PromptExecution
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.store.DashboardCounts(gctx, now)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = s.store.ListUsageEvents(gctx, store.UsageFilter{From: from, To: now})
		return err
	})
	g.Go(func() error {
		var err error
		executions, err = s.store.ListPromptExecutions(gctx, store.ExecutionFilter{From: from, To: now})
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, fmt.Errorf("load overview: %w", err)
	}

	report := analytics.BuildUsageReport(events, from, now, analytics.Day)
	features := analytics.FeatureBreakdown(events)
	if len(features) > topFeatures {
		features = features[:topFeatures]
	}
	var execEstimate float64
	for _, ex := range executions {
		execEstimate += analytics.Weight(ex.SampleRate)
	}

	overview := Overview{
		GeneratedAt:         now,
		TotalUsers:          counts.TotalUsers,
		NewUsers7d:          counts.NewUsers7d,
		DisabledUsers:       counts.DisabledUsers,
		ActiveTiers:         counts.ActiveTiers,
		PromptConfigs:       counts.PromptConfigs,
		ActiveUsers:         analytics.ActiveUsers(events, now),
		EstimatedEvents30d:  report.Totals.EstimatedEvents,
		PromptExecutions30d: roundTo2(execEstimate),
		ErrorRate:           report.Totals.ErrorRate,
		TopFeatures:         features,
	}
	if err := s.cache.Set(ctx, overviewCacheKey, overview); err != nil {
		s.logger.Warn("write overview cache", zap.Error(err))
	}
	return overview, nil
}

type RangeQuery struct {
	From        time.Time
	To          time.Time
	Granularity string
	Feature     string
}

func (s *Service) UsageAnalytics(ctx context.Context, q RangeQuery) (analytics.UsageReport, error) {
	from, to, err := s.normalizeRange(q.From, q.To)
	if err != nil {
		return analytics.UsageReport{}, err
	}
	g, err := analytics.ParseGranularity(q.Granularity)
	if err != nil {
		return analytics.UsageReport{}, validationError(err.Error(), nil)
	}
	events, err := s.store.ListUsageEvents(ctx, store.UsageFilter{From: from, To: to, Feature: q.Feature})
	if err != nil {
		return analytics.UsageReport{}, err
	}
	return analytics.BuildUsageReport(events, from, to, g), nil
}

func (s *Service) FeatureAnalytics(ctx context.Context, q RangeQuery) ([]analytics.FeatureShare, error) {
	from, to, err := s.normalizeRange(q.From, q.To)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListUsageEvents(ctx, store.UsageFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	return analytics.FeatureBreakdown(events), nil
}

// BehaviorAnalytics reads at least the 30 days before to so MAU is complete
// even for short ranges. Cohorts cover users who signed up inside the range.
func (s *Service) BehaviorAnalytics(ctx context.Context, q RangeQuery, weeks int) (analytics.BehaviorReport, error) {
	from, to, err := s.normalizeRange(q.From, q.To)
	if err != nil {
		return analytics.BehaviorReport{}, err
	}
	if weeks <= 0 {
		weeks = defaultCohortWeek
	}
	if weeks > maxCohortWeeks {
		return analytics.BehaviorReport{}, validationError(fmt.Sprintf("weeks must be at most %d", maxCohortWeeks), nil)
	}

	scanFrom := from
	if mauStart := to.Add(-overviewWindow); mauStart.Before(scanFrom) {
		scanFrom = mauStart
	}

	var (
		events []store.UsageEvent
		users  []store.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = s.store.ListUsageEvents(gctx, store.UsageFilter{From: scanFrom, To: to})
		return err
	})
	g.Go(func() error {
		var err error
		users, err = s.store.ListUsersCreatedSince(gctx, from)
		return err
	})
	if err := g.Wait(); err != nil {
		return analytics.BehaviorReport{}, fmt.Errorf("load behavior: %w", err)
	}

	inRange := make([]store.UsageEvent, 0, len(events))
	for _, ev := range events {
		if !ev.OccurredAt.Before(from) {
			inRange = append(inRange, ev)
		}
	}
	return analytics.BehaviorReport{
		ActiveUsers: analytics.ActiveUsers(events, to),
		Features:    analytics.FeatureBreakdown(inRange),
		Cohorts:     analytics.RetentionCohorts(users, inRange, weeks, to),
		Heatmap:     analytics.ActivityHeatmap(inRange),
	}, nil
}

func (s *Service) PromptAnalytics(ctx context.Context, q RangeQuery) ([]analytics.PromptStat, error) {
	from, to, err := s.normalizeRange(q.From, q.To)
	if err != nil {
		return nil, err
	}
	executions, err := s.store.ListPromptExecutions(ctx, store.ExecutionFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	return analytics.PromptPerformance(executions, s.pricing), nil
}

func (s *Service) PromptSeries(ctx context.Context, promptID string, q RangeQuery) ([]analytics.PromptPoint, error) {
	from, to, err := s.normalizeRange(q.From, q.To)
	if err != nil {
		return nil, err
	}
	g, err := analytics.ParseGranularity(q.Granularity)
	if err != nil {
		return nil, validationError(err.Error(), nil)
	}
	if _, err := s.store.GetPromptConfig(ctx, promptID); err != nil {
		return nil, err
	}
	executions, err := s.store.ListPromptExecutions(ctx, store.ExecutionFilter{From: from, To: to, PromptID: promptID})
	if err != nil {
		return nil, err
	}
	return analytics.PromptSeries(executions, promptID, from, to, g), nil
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
