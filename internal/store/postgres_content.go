package store

import (
	"context"
	"database/sql"
	"fmt"
)

const contentColumns = `id, slug, locale, section, title, body, image_key, sort_order, published, published_at, updated_by, updated_at, created_at`

func scanContent(row rowScanner) (ContentBlock, error) {
	var (
		item        ContentBlock
		publishedAt sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.Slug,
		&item.Locale,
		&item.Section,
		&item.Title,
		&item.Body,
		&item.ImageKey,
		&item.SortOrder,
		&item.Published,
		&publishedAt,
		&item.UpdatedBy,
		&item.UpdatedAt,
		&item.CreatedAt,
	); err != nil {
		return ContentBlock{}, err
	}
	item.PublishedAt = timePtr(publishedAt)
	return item, nil
}

func (s *PostgresStore) ListContent(ctx context.Context, filter ContentFilter) ([]ContentBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contentColumns+`
		FROM content_blocks
		WHERE ($1='' OR locale=$1)
		  AND ($2='' OR section=$2)
		  AND (NOT $3 OR published)
		ORDER BY section, sort_order, slug
	`, filter.Locale, filter.Section, filter.PublishedOnly)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	items := make([]ContentBlock, 0)
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetContent(ctx context.Context, id string) (ContentBlock, error) {
	item, err := scanContent(s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content_blocks WHERE id=$1`, id))
	if err != nil {
		return ContentBlock{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) CreateContent(ctx context.Context, item ContentBlock) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_blocks (id, slug, locale, section, title, body, sort_order, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.Slug, item.Locale, item.Section, item.Title, item.Body, item.SortOrder, item.UpdatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateContent(ctx context.Context, item ContentBlock) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_blocks
		SET slug=$2, locale=$3, section=$4, title=$5, body=$6, sort_order=$7, updated_by=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Slug, item.Locale, item.Section, item.Title, item.Body, item.SortOrder, item.UpdatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update content: %w", err)
	}
	return expectAffected(res, "update content")
}

// SetContentPublished keeps the first publish time across republishes.
func (s *PostgresStore) SetContentPublished(ctx context.Context, id string, published bool, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_blocks
		SET published=$2,
			published_at=CASE WHEN $2 THEN COALESCE(published_at, NOW()) ELSE published_at END,
			updated_by=$3,
			updated_at=NOW()
		WHERE id=$1
	`, id, published, updatedBy)
	if err != nil {
		return fmt.Errorf("set content published: %w", err)
	}
	return expectAffected(res, "set content published")
}

func (s *PostgresStore) SetContentImage(ctx context.Context, id, imageKey, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE content_blocks SET image_key=$2, updated_by=$3, updated_at=NOW() WHERE id=$1
	`, id, imageKey, updatedBy)
	if err != nil {
		return fmt.Errorf("set content image: %w", err)
	}
	return expectAffected(res, "set content image")
}

func (s *PostgresStore) DeleteContent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM content_blocks WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	return expectAffected(res, "delete content")
}
