package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	if n.Status == "" {
		n.Status = NotificationQueued
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, channel, title, body, status, error, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.UserID, n.Channel, n.Title, n.Body, n.Status, n.Error, n.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// UpdateNotificationStatus records a delivery outcome. sentAt is stored only
// for sent notifications.
func (s *PostgresStore) UpdateNotificationStatus(ctx context.Context, id, status, errMsg string, sentAt time.Time) error {
	var sent any
	if status == NotificationSent && !sentAt.IsZero() {
		sent = sentAt
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status=$2, error=$3, sent_at=COALESCE($4, sent_at) WHERE id=$1
	`, id, status, errMsg, sent)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	return expectAffected(res, "update notification status")
}

const notificationWhere = `
	WHERE ($1='' OR user_id=$1)
	  AND ($2='' OR channel=$2)
	  AND ($3='' OR status=$3)
	  AND created_at >= $4 AND created_at < $5
`

func (s *PostgresStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, int, error) {
	args := []any{filter.UserID, filter.Channel, filter.Status, filter.From, filter.To}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`+notificationWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, channel, title, body, status, error, created_by, created_at, sent_at, read_at
		FROM notifications`+notificationWhere+`
		ORDER BY created_at DESC, id
		LIMIT $6 OFFSET $7
	`, append(args, ClampLimit(filter.Limit), clampOffset(filter.Offset))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var (
			item   Notification
			sentAt sql.NullTime
			readAt sql.NullTime
		)
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Channel,
			&item.Title,
			&item.Body,
			&item.Status,
			&item.Error,
			&item.CreatedBy,
			&item.CreatedAt,
			&sentAt,
			&readAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		item.SentAt = timePtr(sentAt)
		item.ReadAt = timePtr(readAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) NotificationCounts(ctx context.Context, from, to time.Time) ([]NotificationCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, status, COUNT(*)
		FROM notifications
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY channel, status
		ORDER BY channel, status
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("count notifications by status: %w", err)
	}
	defer rows.Close()

	items := make([]NotificationCount, 0)
	for rows.Next() {
		var item NotificationCount
		if err := rows.Scan(&item.Channel, &item.Status, &item.Count); err != nil {
			return nil, fmt.Errorf("scan notification count: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification counts: %w", err)
	}
	return items, nil
}
