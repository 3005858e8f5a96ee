package store

import (
	"context"
	"fmt"
	"math"
	"time"
)

func (s *PostgresStore) ListUsageEvents(ctx context.Context, filter UsageFilter) ([]UsageEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, feature, event_type, latency_ms, tokens_in, tokens_out, success, sample_rate, occurred_at
		FROM usage_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		  AND ($3='' OR feature=$3)
		  AND ($4='' OR user_id=$4)
		ORDER BY occurred_at
		LIMIT $5
	`, filter.From, filter.To, filter.Feature, filter.UserID, s.scanLimit+1)
	if err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	defer rows.Close()

	items := make([]UsageEvent, 0)
	for rows.Next() {
		var ev UsageEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.UserID,
			&ev.Feature,
			&ev.EventType,
			&ev.LatencyMs,
			&ev.TokensIn,
			&ev.TokensOut,
			&ev.Success,
			&ev.SampleRate,
			&ev.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		items = append(items, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage events: %w", err)
	}
	if len(items) > s.scanLimit {
		return nil, fmt.Errorf("list usage events: %w", ErrTooManyRows)
	}
	return items, nil
}

// UsageByFeature returns estimated event counts per feature for one user in
// [from, to), extrapolated through the sample rate.
func (s *PostgresStore) UsageByFeature(ctx context.Context, userID string, from, to time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT feature,
			COALESCE(SUM(CASE WHEN sample_rate > 0 AND sample_rate <= 1 THEN 1 / sample_rate ELSE 1 END), 0)
		FROM usage_events
		WHERE user_id=$1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY feature
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("usage by feature: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			feature string
			total   float64
		)
		if err := rows.Scan(&feature, &total); err != nil {
			return nil, fmt.Errorf("scan usage by feature: %w", err)
		}
		out[feature] = int(math.Round(total))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage by feature: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListPromptExecutions(ctx context.Context, filter ExecutionFilter) ([]PromptExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt_id, version, language, provider, model, latency_ms, tokens_in, tokens_out,
			success, error_code, sample_rate, user_id, executed_at
		FROM prompt_executions
		WHERE executed_at >= $1 AND executed_at < $2
		  AND ($3='' OR prompt_id=$3)
		ORDER BY executed_at
		LIMIT $4
	`, filter.From, filter.To, filter.PromptID, s.scanLimit+1)
	if err != nil {
		return nil, fmt.Errorf("list prompt executions: %w", err)
	}
	defer rows.Close()

	items := make([]PromptExecution, 0)
	for rows.Next() {
		var ex PromptExecution
		if err := rows.Scan(
			&ex.ID,
			&ex.PromptID,
			&ex.Version,
			&ex.Language,
			&ex.Provider,
			&ex.Model,
			&ex.LatencyMs,
			&ex.TokensIn,
			&ex.TokensOut,
			&ex.Success,
			&ex.ErrorCode,
			&ex.SampleRate,
			&ex.UserID,
			&ex.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan prompt execution: %w", err)
		}
		items = append(items, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt executions: %w", err)
	}
	if len(items) > s.scanLimit {
		return nil, fmt.Errorf("list prompt executions: %w", ErrTooManyRows)
	}
	return items, nil
}
