package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const tierColumns = `id, name, description, price_cents, currency, billing_period, limits, features, is_default, sort_order, active, created_at, updated_at`

func scanTier(row rowScanner) (SubscriptionTier, error) {
	var (
		tier        SubscriptionTier
		limitsRaw   []byte
		featuresRaw []byte
	)
	if err := row.Scan(
		&tier.ID,
		&tier.Name,
		&tier.Description,
		&tier.PriceCents,
		&tier.Currency,
		&tier.BillingPeriod,
		&limitsRaw,
		&featuresRaw,
		&tier.IsDefault,
		&tier.SortOrder,
		&tier.Active,
		&tier.CreatedAt,
		&tier.UpdatedAt,
	); err != nil {
		return SubscriptionTier{}, err
	}
	if err := json.Unmarshal(limitsRaw, &tier.Limits); err != nil {
		return SubscriptionTier{}, fmt.Errorf("decode tier limits: %w", err)
	}
	_ = json.Unmarshal(featuresRaw, &tier.Features)
	if tier.Limits == nil {
		tier.Limits = map[string]Limit{}
	}
	if tier.Features == nil {
		tier.Features = []string{}
	}
	return tier, nil
}

func (s *PostgresStore) ListTiers(ctx context.Context) ([]SubscriptionTier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tierColumns+` FROM subscription_tiers ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()

	items := make([]SubscriptionTier, 0)
	for rows.Next() {
		tier, err := scanTier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		items = append(items, tier)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tiers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTier(ctx context.Context, id string) (SubscriptionTier, error) {
	tier, err := scanTier(s.db.QueryRowContext(ctx, `SELECT `+tierColumns+` FROM subscription_tiers WHERE id=$1`, id))
	if err != nil {
		return SubscriptionTier{}, notFound(err)
	}
	return tier, nil
}

func (s *PostgresStore) GetDefaultTier(ctx context.Context) (SubscriptionTier, error) {
	tier, err := scanTier(s.db.QueryRowContext(ctx, `SELECT `+tierColumns+` FROM subscription_tiers WHERE is_default`))
	if err != nil {
		return SubscriptionTier{}, notFound(err)
	}
	return tier, nil
}

func (s *PostgresStore) CreateTier(ctx context.Context, tier SubscriptionTier) error {
	return s.writeTier(ctx, tier, true)
}

func (s *PostgresStore) UpdateTier(ctx context.Context, tier SubscriptionTier) error {
	return s.writeTier(ctx, tier, false)
}

// writeTier keeps exactly one default: marking a tier default clears the flag
// on every other tier in the same transaction.
func (s *PostgresStore) writeTier(ctx context.Context, tier SubscriptionTier, insert bool) error {
	limits := tier.Limits
	if limits == nil {
		limits = map[string]Limit{}
	}
	features := tier.Features
	if features == nil {
		features = []string{}
	}
	limitsJSON, err := encodeJSON(limits, "tier limits")
	if err != nil {
		return err
	}
	featuresJSON, err := encodeJSON(features, "tier features")
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write tier: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if tier.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE subscription_tiers SET is_default=FALSE, updated_at=NOW() WHERE is_default AND id<>$1`, tier.ID); err != nil {
			return fmt.Errorf("clear default tier: %w", err)
		}
	}

	args := []any{tier.ID, tier.Name, tier.Description, tier.PriceCents, tier.Currency, tier.BillingPeriod, limitsJSON, featuresJSON, tier.IsDefault, tier.SortOrder, tier.Active}
	if insert {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscription_tiers (id, name, description, price_cents, currency, billing_period, limits, features, is_default, sort_order, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11)
		`, args...)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE subscription_tiers
			SET name=$2, description=$3, price_cents=$4, currency=$5, billing_period=$6,
				limits=$7::jsonb, features=$8::jsonb, is_default=$9, sort_order=$10, active=$11, updated_at=NOW()
			WHERE id=$1
		`, args...)
		if err == nil {
			err = expectAffected(res, "update tier")
		}
	}
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("write tier: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write tier: %w", err)
	}
	return nil
}

// DeleteTier refuses the default tier and tiers that still have users.
func (s *PostgresStore) DeleteTier(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tier: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var isDefault bool
	err = tx.QueryRowContext(ctx, `SELECT is_default FROM subscription_tiers WHERE id=$1 FOR UPDATE`, id).Scan(&isDefault)
	if err != nil {
		return notFound(err)
	}
	if isDefault {
		return ErrTierInUse
	}
	var assigned int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE tier_id=$1`, id).Scan(&assigned); err != nil {
		return fmt.Errorf("count tier users: %w", err)
	}
	if assigned > 0 {
		return ErrTierInUse
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscription_tiers WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete tier: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tier: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOverrides(ctx context.Context, userID string) ([]QuotaOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tier_id, limits, reason, expires_at, created_by, created_at
		FROM quota_overrides
		WHERE user_id=$1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	items := make([]QuotaOverride, 0)
	for rows.Next() {
		var (
			item      QuotaOverride
			limitsRaw []byte
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.TierID, &limitsRaw, &item.Reason, &expiresAt, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if err := json.Unmarshal(limitsRaw, &item.Limits); err != nil {
			return nil, fmt.Errorf("decode override limits: %w", err)
		}
		item.ExpiresAt = timePtr(expiresAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateOverride(ctx context.Context, o QuotaOverride) error {
	limits := o.Limits
	if limits == nil {
		limits = map[string]LimitPatch{}
	}
	limitsJSON, err := encodeJSON(limits, "override limits")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quota_overrides (id, user_id, tier_id, limits, reason, expires_at, created_by)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
	`, o.ID, o.UserID, o.TierID, limitsJSON, o.Reason, nullableTime(o.ExpiresAt), o.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert override: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteOverride(ctx context.Context, userID, overrideID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quota_overrides WHERE id=$1 AND user_id=$2`, overrideID, userID)
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return expectAffected(res, "delete override")
}
