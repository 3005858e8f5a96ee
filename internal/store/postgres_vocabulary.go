package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const vocabularyColumns = `id, language, term, definition, category, synonyms, created_at, updated_at`

func scanVocabulary(row rowScanner) (VocabularyTerm, error) {
	var (
		item        VocabularyTerm
		synonymsRaw []byte
	)
	if err := row.Scan(&item.ID, &item.Language, &item.Term, &item.Definition, &item.Category, &synonymsRaw, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return VocabularyTerm{}, err
	}
	_ = json.Unmarshal(synonymsRaw, &item.Synonyms)
	if item.Synonyms == nil {
		item.Synonyms = []string{}
	}
	return item, nil
}

// ListVocabulary filters by language and category. When IDs is set only those
// terms are returned, in no particular order.
func (s *PostgresStore) ListVocabulary(ctx context.Context, filter VocabularyFilter) ([]VocabularyTerm, int, error) {
	ids := filter.IDs
	if ids == nil {
		ids = []string{}
	}
	where := `
		WHERE ($1='' OR language=$1)
		  AND ($2='' OR category=$2)
		  AND (NOT $3 OR id = ANY($4))
	`
	args := []any{filter.Language, filter.Category, filter.IDs != nil, ids}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vocabulary_terms`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count vocabulary: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+vocabularyColumns+` FROM vocabulary_terms`+where+`
		ORDER BY language, LOWER(term)
		LIMIT $5 OFFSET $6
	`, append(args, ClampLimit(filter.Limit), clampOffset(filter.Offset))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list vocabulary: %w", err)
	}
	defer rows.Close()

	items := make([]VocabularyTerm, 0)
	for rows.Next() {
		item, err := scanVocabulary(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan vocabulary term: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate vocabulary: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) GetVocabularyTerm(ctx context.Context, id string) (VocabularyTerm, error) {
	item, err := scanVocabulary(s.db.QueryRowContext(ctx, `SELECT `+vocabularyColumns+` FROM vocabulary_terms WHERE id=$1`, id))
	if err != nil {
		return VocabularyTerm{}, notFound(err)
	}
	return item, nil
}

// FindVocabularyTerm matches the term case-insensitively within a language.
func (s *PostgresStore) FindVocabularyTerm(ctx context.Context, language, term string) (VocabularyTerm, error) {
	item, err := scanVocabulary(s.db.QueryRowContext(ctx, `
		SELECT `+vocabularyColumns+` FROM vocabulary_terms WHERE language=$1 AND LOWER(term)=LOWER($2)
	`, language, strings.TrimSpace(term)))
	if err != nil {
		return VocabularyTerm{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) CreateVocabularyTerm(ctx context.Context, item VocabularyTerm) error {
	synonyms, err := encodeJSON(nonNilStrings(item.Synonyms), "synonyms")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vocabulary_terms (id, language, term, definition, category, synonyms)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, item.ID, item.Language, item.Term, item.Definition, item.Category, synonyms)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert vocabulary term: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateVocabularyTerm(ctx context.Context, item VocabularyTerm) error {
	synonyms, err := encodeJSON(nonNilStrings(item.Synonyms), "synonyms")
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE vocabulary_terms
		SET language=$2, term=$3, definition=$4, category=$5, synonyms=$6::jsonb, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Language, item.Term, item.Definition, item.Category, synonyms)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update vocabulary term: %w", err)
	}
	return expectAffected(res, "update vocabulary term")
}

func (s *PostgresStore) DeleteVocabularyTerm(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vocabulary_terms WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete vocabulary term: %w", err)
	}
	return expectAffected(res, "delete vocabulary term")
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
