package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, email, display_name, password_hash, role, tier_id, status, locale, created_at, last_active_at, deactivated_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var (
		user        User
		tierID      sql.NullString
		lastActive  sql.NullTime
		deactivated sql.NullTime
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Role,
		&tierID,
		&user.Status,
		&user.Locale,
		&user.CreatedAt,
		&lastActive,
		&deactivated,
		&user.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	user.TierID = nullString(tierID)
	user.LastActiveAt = timePtr(lastActive)
	user.DeactivatedAt = timePtr(deactivated)
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	if user.Role == "" {
		user.Role = "user"
	}
	if user.Status == "" {
		user.Status = UserStatusActive
	}
	if user.Locale == "" {
		user.Locale = "en"
	}
	var tierID any
	if user.TierID != "" {
		tierID = user.TierID
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role, tier_id, status, locale)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8)
		RETURNING `+userColumns,
		user.ID, strings.TrimSpace(user.Email), user.DisplayName, user.PasswordHash, user.Role, tierID, user.Status, user.Locale)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, strings.TrimSpace(email)))
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

// effectiveTier resolves a NULL tier_id to the default tier.
const effectiveTier = `COALESCE(tier_id, (SELECT id FROM subscription_tiers WHERE is_default LIMIT 1))`

func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]User, int, error) {
	where := `
		WHERE ($1='' OR email ILIKE '%' || $1 || '%' OR display_name ILIKE '%' || $1 || '%' OR id=$1)
		  AND ($2='' OR ` + effectiveTier + `=$2)
		  AND ($3='' OR status=$3)
		  AND ($4='' OR role=$4)
	`
	args := []any{strings.TrimSpace(filter.Search), filter.TierID, filter.Status, filter.Role}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users`+where+`
		ORDER BY created_at DESC, id
		LIMIT $5 OFFSET $6
	`, append(args, ClampLimit(filter.Limit), clampOffset(filter.Offset))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return items, total, nil
}

// ListUsersByTier returns active users on a tier, including users without an
// explicit tier when tierID is the default.
func (s *PostgresStore) ListUsersByTier(ctx context.Context, tierID string) ([]User, error) {
	return s.queryUsers(ctx, "list users by tier", `
		SELECT `+userColumns+` FROM users
		WHERE `+effectiveTier+`=$1 AND status='active'
		ORDER BY created_at
		LIMIT $2
	`, tierID, s.scanLimit+1)
}

// ListUsersCreatedSince feeds retention cohorts.
func (s *PostgresStore) ListUsersCreatedSince(ctx context.Context, since time.Time) ([]User, error) {
	return s.queryUsers(ctx, "list users created since", `
		SELECT `+userColumns+` FROM users
		WHERE created_at >= $1
		ORDER BY created_at
		LIMIT $2
	`, since, s.scanLimit+1)
}

// queryUsers expects scanLimit+1 as the query's LIMIT.
func (s *PostgresStore) queryUsers(ctx context.Context, what, query string, args ...any) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	if len(items) > s.scanLimit {
		return nil, fmt.Errorf("%s: %w", what, ErrTooManyRows)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return expectAffected(res, "update user role")
}

// UpdateUserStatus also stamps or clears deactivated_at.
func (s *PostgresStore) UpdateUserStatus(ctx context.Context, userID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET status=$2,
			deactivated_at=CASE WHEN $2='disabled' THEN COALESCE(deactivated_at, NOW()) ELSE NULL END,
			updated_at=NOW()
		WHERE id=$1
	`, userID, status)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	return expectAffected(res, "update user status")
}

func (s *PostgresStore) UpdateUserTier(ctx context.Context, userID, tierID string) error {
	var tier any
	if tierID != "" {
		tier = tierID
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET tier_id=$2, updated_at=NOW() WHERE id=$1`, userID, tier)
	if err != nil {
		return fmt.Errorf("update user tier: %w", err)
	}
	return expectAffected(res, "update user tier")
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return expectAffected(res, "update user password")
}

func (s *PostgresStore) TouchUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_active_at=NOW() WHERE id=$1`, userID); err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.display_name, u.password_hash, u.role, u.tier_id, u.status, u.locale,
			u.created_at, u.last_active_at, u.deactivated_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) SavePasswordReset(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save password reset: %w", err)
	}
	return nil
}

// ConsumePasswordReset marks a reset token used and returns its user. Expired,
// used or unknown tokens return ErrNotFound.
func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_resets
		SET used_at=NOW()
		WHERE token_hash=$1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`, tokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) DashboardCounts(ctx context.Context, now time.Time) (DashboardCounts, error) {
	var counts DashboardCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE created_at >= $1),
			(SELECT COUNT(*) FROM users WHERE status='disabled'),
			(SELECT COUNT(*) FROM subscription_tiers WHERE active),
			(SELECT COUNT(*) FROM prompt_configs WHERE NOT archived)
	`, now.Add(-7*24*time.Hour)).Scan(
		&counts.TotalUsers,
		&counts.NewUsers7d,
		&counts.DisabledUsers,
		&counts.ActiveTiers,
		&counts.PromptConfigs,
	)
	if err != nil {
		return DashboardCounts{}, fmt.Errorf("dashboard counts: %w", err)
	}
	return counts, nil
}
