package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sircharge/admin/internal/store"
	"sircharge/admin/internal/util"
)

const emailConcurrency = 4

type NotificationView struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Channel   string     `json:"channel"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	SentAt    *time.Time `json:"sentAt"`
	ReadAt    *time.Time `json:"readAt"`
}

func notificationView(n store.Notification) NotificationView {
	return NotificationView{
		ID:        n.ID,
		UserID:    n.UserID,
		Channel:   n.Channel,
		Title:     n.Title,
		Body:      n.Body,
		Status:    n.Status,
		Error:     n.Error,
		CreatedBy: n.CreatedBy,
		CreatedAt: n.CreatedAt,
		SentAt:    n.SentAt,
		ReadAt:    n.ReadAt,
	}
}

type NotificationPage struct {
	Items []NotificationView `json:"items"`
	Total int                `json:"total"`
}

type NotificationStats struct {
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"byStatus"`
	ByChannel    map[string]int `json:"byChannel"`
	DeliveryRate float64        `json:"deliveryRate"`
}

type SendNotificationInput struct {
	UserID  string `json:"userId" validate:"required_without=TierID,max=64"`
	TierID  string `json:"tierId" validate:"max=64"`
	Channel string `json:"channel" validate:"required,oneof=push email in_app"`
	Title   string `json:"title" validate:"required,notblank,max=200"`
	Body    string `json:"body" validate:"required,notblank,max=5000"`
}

type SendResult struct {
	Recipients int `json:"recipients"`
	Queued     int `json:"queued"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

func (s *Service) ListNotifications(ctx context.Context, filter store.NotificationFilter) (NotificationPage, error) {
	from, to, err := s.normalizeRange(filter.From, filter.To)
	if err != nil {
		return NotificationPage{}, err
	}
	filter.From, filter.To = from, to
	items, total, err := s.store.ListNotifications(ctx, filter)
	if err != nil {
		return NotificationPage{}, err
	}
	out := make([]NotificationView, 0, len(items))
	for _, n := range items {
		out = append(out, notificationView(n))
	}
	return NotificationPage{Items: out, Total: total}, nil
}

// NotificationStats counts by status and channel. The delivery rate is
// (sent + read) over everything that left the queue.
func (s *Service) NotificationStats(ctx context.Context, from, to time.Time) (NotificationStats, error) {
	from, to, err := s.normalizeRange(from, to)
	if err != nil {
		return NotificationStats{}, err
	}
	counts, err := s.store.NotificationCounts(ctx, from, to)
	if err != nil {
		return NotificationStats{}, err
	}
	return notificationStats(counts, from, to), nil
}

func notificationStats(counts []store.NotificationCount, from, to time.Time) NotificationStats {
	stats := NotificationStats{
		From:      from,
		To:        to,
		ByStatus:  map[string]int{},
		ByChannel: map[string]int{},
	}
	for _, c := range counts {
		stats.Total += c.Count
		stats.ByStatus[c.Status] += c.Count
		stats.ByChannel[c.Channel] += c.Count
	}
	delivered := stats.ByStatus[store.NotificationSent] + stats.ByStatus[store.NotificationRead]
	attempted := stats.Total - stats.ByStatus[store.NotificationQueued]
	if attempted > 0 {
		stats.DeliveryRate = roundTo4(float64(delivered) / float64(attempted))
	}
	return stats
}

// SendNotification records one row per recipient. Email goes out through
// SMTP right away; push and in-app rows stay queued for the app to pick up.
func (s *Service) SendNotification(ctx context.Context, session Session, input SendNotificationInput) (SendResult, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	input.TierID = strings.TrimSpace(input.TierID)
	if err := validateStruct(input); err != nil {
		return SendResult{}, err
	}
	if input.UserID != "" && input.TierID != "" {
		return SendResult{}, validationError("Target either a user or a tier", map[string]string{"tierId": "cannot be combined with userId"})
	}

	recipients, err := s.recipients(ctx, input)
	if err != nil {
		return SendResult{}, err
	}

	result := SendResult{Recipients: len(recipients)}
	rows := make([]store.Notification, 0, len(recipients))
	for _, user := range recipients {
		n := store.Notification{
			ID:        util.NewID("ntf"),
			UserID:    user.ID,
			Channel:   input.Channel,
			Title:     strings.TrimSpace(input.Title),
			Body:      input.Body,
			Status:    store.NotificationQueued,
			CreatedBy: session.UserID,
		}
		if err := s.store.InsertNotification(ctx, n); err != nil {
			return result, err
		}
		rows = append(rows, n)
	}

	if input.Channel != store.ChannelEmail {
		result.Queued = len(rows)
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(emailConcurrency)
	for i, n := range rows {
		user := recipients[i]
		g.Go(func() error {
			status, errMsg := store.NotificationSent, ""
			if err := s.deliverEmail(user, n); err != nil {
				status, errMsg = store.NotificationFailed, err.Error()
				s.logger.Warn("send notification email", zap.String("notification_id", n.ID), zap.Error(err))
			}
			if err := s.store.UpdateNotificationStatus(gctx, n.ID, status, errMsg, s.now()); err != nil {
				return err
			}
			mu.Lock()
			if status == store.NotificationSent {
				result.Sent++
			} else {
				result.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("record email delivery: %w", err)
	}
	return result, nil
}

func (s *Service) deliverEmail(user store.User, n store.Notification) error {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return errors.New("email is not configured")
	}
	return s.mailer.SendNotificationEmail(user.Email, user.DisplayName, n.Title, n.Body)
}

func (s *Service) recipients(ctx context.Context, input SendNotificationInput) ([]store.User, error) {
	if input.TierID == "" {
		user, err := s.store.GetUserByID(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		if user.Status != store.UserStatusActive {
			return nil, validationError("User is disabled", map[string]string{"userId": "user is disabled"})
		}
		return []store.User{user}, nil
	}
	if _, err := s.store.GetTier(ctx, input.TierID); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsersByTier(ctx, input.TierID)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, validationError("Tier has no active users", map[string]string{"tierId": "tier has no active users"})
	}
	return users, nil
}

func roundTo4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
