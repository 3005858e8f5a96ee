package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const defaultLimit = 20

// PgSearch implements Searcher with ILIKE queries against Postgres. It backs
// search whenever Meilisearch is not configured or unhealthy.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// Search unions vocabulary and user matches. Exact matches rank first, then
// prefix matches, then substring matches.
func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	escaped := escapeLike(text)
	args := []any{text, "%" + escaped + "%", escaped + "%"}
	argN := 4

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultVocabulary {
		where := "(v.term ILIKE $2 OR v.definition ILIKE $2 OR v.synonyms::text ILIKE $2)"
		if q.Language != "" {
			where += fmt.Sprintf(" AND v.language = $%d", argN)
			args = append(args, q.Language)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'vocabulary'::text AS type, v.id, v.term AS title, v.definition AS snippet,
				v.language,
				CASE WHEN LOWER(v.term) = LOWER($1) THEN 0 WHEN v.term ILIKE $3 THEN 1 ELSE 2 END AS rank
			FROM vocabulary_terms v
			WHERE %s`, where))
	}

	if q.FilterType == "" || q.FilterType == ResultUser {
		subQueries = append(subQueries, `
			SELECT 'user'::text AS type, u.id,
				CASE WHEN u.display_name <> '' THEN u.display_name ELSE u.email END AS title,
				u.email AS snippet,
				''::text AS language,
				CASE WHEN LOWER(u.email) = LOWER($1) THEN 0 WHEN u.email ILIKE $3 OR u.display_name ILIKE $3 THEN 1 ELSE 2 END AS rank
			FROM users u
			WHERE (u.email ILIKE $2 OR u.display_name ILIKE $2)`)
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, language
		FROM (%s) sub
		ORDER BY rank, title
		LIMIT %d OFFSET %d`, union, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgsearch count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgsearch query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Language); err != nil {
			return nil, 0, fmt.Errorf("pgsearch scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]VocabularyRecord, []UserRecord, error) {
	vocabRows, err := p.db.QueryContext(ctx, `
		SELECT id, language, term, definition, category, synonyms
		FROM vocabulary_terms
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load vocabulary: %w", err)
	}
	defer vocabRows.Close()

	terms := make([]VocabularyRecord, 0)
	for vocabRows.Next() {
		var v VocabularyRecord
		var synonyms []byte
		if err := vocabRows.Scan(&v.ID, &v.Language, &v.Term, &v.Definition, &v.Category, &synonyms); err != nil {
			return nil, nil, fmt.Errorf("scan vocabulary: %w", err)
		}
		if len(synonyms) > 0 {
			if err := json.Unmarshal(synonyms, &v.Synonyms); err != nil {
				return nil, nil, fmt.Errorf("decode synonyms for %s: %w", v.ID, err)
			}
		}
		terms = append(terms, v)
	}
	if err := vocabRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate vocabulary: %w", err)
	}

	userRows, err := p.db.QueryContext(ctx, `
		SELECT id, email, display_name, role, status, COALESCE(tier_id, '')
		FROM users
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load users: %w", err)
	}
	defer userRows.Close()

	users := make([]UserRecord, 0)
	for userRows.Next() {
		var u UserRecord
		if err := userRows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.Status, &u.TierID); err != nil {
			return nil, nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := userRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate users: %w", err)
	}

	return terms, users, nil
}
