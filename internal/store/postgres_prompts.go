package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const promptConfigColumns = `id, name, description, active_version, latest_version, archived, created_by, created_at, updated_at`

func scanPromptConfig(row rowScanner) (PromptConfig, error) {
	var cfg PromptConfig
	err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.Description,
		&cfg.ActiveVersion,
		&cfg.LatestVersion,
		&cfg.Archived,
		&cfg.CreatedBy,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	return cfg, err
}

// CreatePromptConfig stores a new config together with its first version.
func (s *PostgresStore) CreatePromptConfig(ctx context.Context, cfg PromptConfig, first PromptVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create prompt config: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO prompt_configs (id, name, description, active_version, latest_version, created_by)
		VALUES ($1, $2, $3, 1, 1, $4)
	`, cfg.ID, cfg.Name, cfg.Description, cfg.CreatedBy); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert prompt config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO prompt_versions (config_id, version, commit_hash, message, created_by)
		VALUES ($1, 1, $2, $3, $4)
	`, cfg.ID, first.CommitHash, first.Message, first.CreatedBy); err != nil {
		return fmt.Errorf("insert prompt version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create prompt config: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPromptConfig(ctx context.Context, id string) (PromptConfig, error) {
	cfg, err := scanPromptConfig(s.db.QueryRowContext(ctx, `SELECT `+promptConfigColumns+` FROM prompt_configs WHERE id=$1`, id))
	if err != nil {
		return PromptConfig{}, notFound(err)
	}
	return cfg, nil
}

func (s *PostgresStore) ListPromptConfigs(ctx context.Context, includeArchived bool) ([]PromptConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+promptConfigColumns+`
		FROM prompt_configs
		WHERE $1 OR NOT archived
		ORDER BY name
	`, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list prompt configs: %w", err)
	}
	defer rows.Close()

	items := make([]PromptConfig, 0)
	for rows.Next() {
		cfg, err := scanPromptConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt config: %w", err)
		}
		items = append(items, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt configs: %w", err)
	}
	return items, nil
}

// AddPromptVersion appends the next version number under a row lock and
// returns it. The active version is left alone.
// AddPromptVersion records the next version and carries the version's name
// and description onto the config row.
func (s *PostgresStore) AddPromptVersion(ctx context.Context, v PromptVersion, name, description string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin add prompt version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		latest   int
		archived bool
	)
	err = tx.QueryRowContext(ctx, `SELECT latest_version, archived FROM prompt_configs WHERE id=$1 FOR UPDATE`, v.ConfigID).Scan(&latest, &archived)
	if errors.Is(err, sql.ErrNoRows) || archived {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock prompt config: %w", err)
	}

	next := latest + 1
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO prompt_versions (config_id, version, commit_hash, message, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, v.ConfigID, next, v.CommitHash, v.Message, v.CreatedBy); err != nil {
		return 0, fmt.Errorf("insert prompt version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE prompt_configs SET latest_version=$2, name=$3, description=$4, updated_at=NOW() WHERE id=$1
	`, v.ConfigID, next, name, description); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("update prompt config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit add prompt version: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) ListPromptVersions(ctx context.Context, configID string) ([]PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT config_id, version, commit_hash, message, created_by, created_at
		FROM prompt_versions
		WHERE config_id=$1
		ORDER BY version DESC
	`, configID)
	if err != nil {
		return nil, fmt.Errorf("list prompt versions: %w", err)
	}
	defer rows.Close()

	items := make([]PromptVersion, 0)
	for rows.Next() {
		var v PromptVersion
		if err := rows.Scan(&v.ConfigID, &v.Version, &v.CommitHash, &v.Message, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt version: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPromptVersion(ctx context.Context, configID string, version int) (PromptVersion, error) {
	var v PromptVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT config_id, version, commit_hash, message, created_by, created_at
		FROM prompt_versions
		WHERE config_id=$1 AND version=$2
	`, configID, version).Scan(&v.ConfigID, &v.Version, &v.CommitHash, &v.Message, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return PromptVersion{}, notFound(err)
	}
	return v, nil
}

func (s *PostgresStore) SetActivePromptVersion(ctx context.Context, configID string, version int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE prompt_configs
		SET active_version=$2, updated_at=NOW()
		WHERE id=$1 AND NOT archived AND $2 >= 1 AND $2 <= latest_version
	`, configID, version)
	if err != nil {
		return fmt.Errorf("activate prompt version: %w", err)
	}
	return expectAffected(res, "activate prompt version")
}

func (s *PostgresStore) ArchivePromptConfig(ctx context.Context, configID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE prompt_configs SET archived=TRUE, updated_at=NOW() WHERE id=$1 AND NOT archived`, configID)
	if err != nil {
		return fmt.Errorf("archive prompt config: %w", err)
	}
	return expectAffected(res, "archive prompt config")
}
