// Package export writes admin reports as CSV.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"sircharge/admin/internal/analytics"
	"sircharge/admin/internal/store"
)

// Kind names an exportable report.
type Kind string

const (
	KindUsage         Kind = "usage"
	KindUsers         Kind = "users"
	KindPrompts       Kind = "prompts"
	KindNotifications Kind = "notifications"
)

const MimeType = "text/csv; charset=utf-8"

var ErrUnknownKind = errors.New("unknown export kind")

func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.TrimSuffix(raw, ".csv")); k {
	case KindUsage, KindUsers, KindPrompts, KindNotifications:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// Filename returns e.g. "sircharge-usage-20260310.csv".
func Filename(kind Kind, now time.Time) string {
	return fmt.Sprintf("sircharge-%s-%s.csv", kind, now.UTC().Format("20060102"))
}

var (
	usageHeader         = []string{"bucket", "label", "events", "estimated_events", "unique_users", "tokens_in", "tokens_out", "errors", "error_rate", "avg_latency_ms", "p95_latency_ms"}
	usersHeader         = []string{"id", "email", "display_name", "role", "status", "tier_id", "locale", "created_at", "last_active_at"}
	promptHeader        = []string{"prompt_id", "version", "language", "samples", "executions", "success_rate", "avg_latency_ms", "p95_latency_ms", "avg_tokens_in", "avg_tokens_out", "estimated_cost_cents"}
	notificationsHeader = []string{"id", "user_id", "channel", "title", "status", "error", "created_by", "created_at", "sent_at", "read_at"}
)

func UsageSeriesCSV(w io.Writer, points []analytics.SeriesPoint) error {
	return write(w, usageHeader, len(points), func(i int) []string {
		p := points[i]
		return []string{
			formatTime(p.Bucket),
			p.Label,
			strconv.Itoa(p.Events),
			num(p.EstimatedEvents),
			strconv.Itoa(p.UniqueUsers),
			num(p.TokensIn),
			num(p.TokensOut),
			num(p.Errors),
			num(p.ErrorRate),
			num(p.AvgLatencyMs),
			num(p.P95LatencyMs),
		}
	})
}

// UsersCSV never writes password hashes.
func UsersCSV(w io.Writer, users []store.User) error {
	return write(w, usersHeader, len(users), func(i int) []string {
		u := users[i]
		return []string{
			u.ID,
			text(u.Email),
			text(u.DisplayName),
			u.Role,
			u.Status,
			u.TierID,
			u.Locale,
			formatTime(u.CreatedAt),
			formatTimePtr(u.LastActiveAt),
		}
	})
}

// PromptPerformanceCSV writes one row per prompt version with language "*",
// followed by one row per language of that version.
func PromptPerformanceCSV(w io.Writer, rows []analytics.PromptStat) error {
	var records [][]string
	for _, s := range rows {
		version := strconv.Itoa(s.Version)
		records = append(records, []string{
			s.PromptID, version, "*",
			strconv.Itoa(s.Samples),
			num(s.Executions),
			num(s.SuccessRate),
			num(s.AvgLatencyMs),
			num(s.P95LatencyMs),
			num(s.AvgTokensIn),
			num(s.AvgTokensOut),
			num(s.EstimatedCostCents),
		})
		for _, l := range s.Languages {
			records = append(records, []string{
				s.PromptID, version, l.Language,
				"",
				num(l.Executions),
				num(l.SuccessRate),
				num(l.AvgLatencyMs),
				"",
				num(l.AvgTokensIn),
				num(l.AvgTokensOut),
				"",
			})
		}
	}
	return write(w, promptHeader, len(records), func(i int) []string { return records[i] })
}

func NotificationsCSV(w io.Writer, rows []store.Notification) error {
	return write(w, notificationsHeader, len(rows), func(i int) []string {
		n := rows[i]
		return []string{
			n.ID,
			n.UserID,
			n.Channel,
			text(n.Title),
			n.Status,
			text(n.Error),
			n.CreatedBy,
			formatTime(n.CreatedAt),
			formatTimePtr(n.SentAt),
			formatTimePtr(n.ReadAt),
		}
	})
}

func write(w io.Writer, header []string, n int, row func(int) []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// num formats without exponent and with no trailing zeros.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// text neutralises cells a spreadsheet would evaluate as a formula.
func text(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
