package app

import (
	"context"
	"io"

	"sircharge/admin/internal/export"
	"sircharge/admin/internal/store"
)

// maxExportPages bounds paged exports to MaxLimit * maxExportPages rows.
const maxExportPages = 250

// Export writes one CSV report. Usage, prompt and notification reports cover
// the requested range; the user report is a full listing.
func (s *Service) Export(ctx context.Context, kind export.Kind, q RangeQuery, w io.Writer) error {
	switch kind {
	case export.KindUsage:
		report, err := s.UsageAnalytics(ctx, q)
		if err != nil {
			return err
		}
		return export.UsageSeriesCSV(w, report.Series)
	case export.KindPrompts:
		stats, err := s.PromptAnalytics(ctx, q)
		if err != nil {
			return err
		}
		return export.PromptPerformanceCSV(w, stats)
	case export.KindUsers:
		users, err := s.allUsers(ctx)
		if err != nil {
			return err
		}
		return export.UsersCSV(w, users)
	case export.KindNotifications:
		rows, err := s.allNotifications(ctx, q)
		if err != nil {
			return err
		}
		return export.NotificationsCSV(w, rows)
	default:
		return validationError("Unknown export", nil)
	}
}

func (s *Service) allUsers(ctx context.Context) ([]store.User, error) {
	out := make([]store.User, 0)
	for page := 0; page < maxExportPages; page++ {
		items, _, err := s.store.ListUsers(ctx, store.UserFilter{Limit: store.MaxLimit, Offset: page * store.MaxLimit})
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if len(items) < store.MaxLimit {
			break
		}
	}
	return out, nil
}

func (s *Service) allNotifications(ctx context.Context, q RangeQuery) ([]store.Notification, error) {
	from, to, err := s.normalizeRange(q.From, q.To)
	if err != nil {
		return nil, err
	}
	out := make([]store.Notification, 0)
	for page := 0; page < maxExportPages; page++ {
		items, _, err := s.store.ListNotifications(ctx, store.NotificationFilter{
			From:   from,
			To:     to,
			Limit:  store.MaxLimit,
			Offset: page * store.MaxLimit,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if len(items) < store.MaxLimit {
			break
		}
	}
	return out, nil
}
