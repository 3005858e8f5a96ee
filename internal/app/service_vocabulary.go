package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sircharge/admin/internal/search"
	"sircharge/admin/internal/store"
	"sircharge/admin/internal/util"
)

const (
	vocabularySearchLimit = 100
	maxImportRows         = 5000
)

var importColumns = []string{"language", "term", "definition", "category", "synonyms"}

type VocabularyView struct {
	ID         string    `json:"id"`
	Language   string    `json:"language"`
	Term       string    `json:"term"`
	Definition string    `json:"definition"`
	Category   string    `json:"category"`
	Synonyms   []string  `json:"synonyms"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func vocabularyView(v store.VocabularyTerm) VocabularyView {
	synonyms := v.Synonyms
	if synonyms == nil {
		synonyms = []string{}
	}
	return VocabularyView{
		ID:         v.ID,
		Language:   v.Language,
		Term:       v.Term,
		Definition: v.Definition,
		Category:   v.Category,
		Synonyms:   synonyms,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
}

type VocabularyPage struct {
	Items []VocabularyView `json:"items"`
	Total int              `json:"total"`
}

type VocabularyInput struct {
	Language   string   `json:"language" validate:"required,notblank,min=2,max=10"`
	Term       string   `json:"term" validate:"required,notblank,max=200"`
	Definition string   `json:"definition" validate:"required,notblank,max=4000"`
	Category   string   `json:"category" validate:"max=80"`
	Synonyms   []string `json:"synonyms" validate:"max=50,dive,max=200"`
}

func (in VocabularyInput) normalize() VocabularyInput {
	in.Language = strings.ToLower(strings.TrimSpace(in.Language))
	in.Term = strings.TrimSpace(in.Term)
	in.Definition = strings.TrimSpace(in.Definition)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	synonyms := make([]string, 0, len(in.Synonyms))
	seen := make(map[string]struct{}, len(in.Synonyms))
	for _, syn := range in.Synonyms {
		syn = strings.TrimSpace(syn)
		key := strings.ToLower(syn)
		if _, dup := seen[key]; syn == "" || dup {
			continue
		}
		seen[key] = struct{}{}
		synonyms = append(synonyms, syn)
	}
	in.Synonyms = synonyms
	return in
}

func (in VocabularyInput) apply(item *store.VocabularyTerm) {
	item.Language = in.Language
	item.Term = in.Term
	item.Definition = in.Definition
	item.Category = in.Category
	item.Synonyms = in.Synonyms
}

type ImportLineError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

type ImportResult struct {
	Created int               `json:"created"`
	Updated int               `json:"updated"`
	Skipped int               `json:"skipped"`
	Errors  []ImportLineError `json:"errors"`
}

// ListVocabulary filters by language and category. A non-empty query is
// resolved through the search index and the matching terms come back in
// rank order.
func (s *Service) ListVocabulary(ctx context.Context, filter store.VocabularyFilter, q string) (VocabularyPage, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		items, total, err := s.store.ListVocabulary(ctx, filter)
		if err != nil {
			return VocabularyPage{}, err
		}
		return vocabularyPage(items, total), nil
	}

	var ids []string
	if s.search != nil {
		resp := s.search.Search(search.Query{
			Text:       q,
			FilterType: search.ResultVocabulary,
			Language:   filter.Language,
			Limit:      vocabularySearchLimit,
		})
		ids = resp.IDs(search.ResultVocabulary)
	}
	if len(ids) == 0 {
		return VocabularyPage{Items: []VocabularyView{}}, nil
	}
	filter.IDs = ids
	filter.Limit = len(ids)
	filter.Offset = 0
	items, _, err := s.store.ListVocabulary(ctx, filter)
	if err != nil {
		return VocabularyPage{}, err
	}

	rank := make(map[string]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}
	ordered := make([]store.VocabularyTerm, len(ids))
	found := make([]bool, len(ids))
	for _, item := range items {
		if i, ok := rank[item.ID]; ok {
			ordered[i] = item
			found[i] = true
		}
	}
	out := make([]store.VocabularyTerm, 0, len(items))
	for i, item := range ordered {
		if found[i] {
			out = append(out, item)
		}
	}
	return vocabularyPage(out, len(out)), nil
}

func vocabularyPage(items []store.VocabularyTerm, total int) VocabularyPage {
	out := make([]VocabularyView, 0, len(items))
	for _, item := range items {
		out = append(out, vocabularyView(item))
	}
	return VocabularyPage{Items: out, Total: total}
}

func (s *Service) CreateVocabularyTerm(ctx context.Context, input VocabularyInput) (VocabularyView, error) {
	input = input.normalize()
	if err := validateStruct(input); err != nil {
		return VocabularyView{}, err
	}
	item := store.VocabularyTerm{ID: util.NewID("voc")}
	input.apply(&item)
	if err := s.store.CreateVocabularyTerm(ctx, item); err != nil {
		return VocabularyView{}, termConflict(err)
	}
	return s.reloadVocabulary(ctx, item.ID)
}

func (s *Service) UpdateVocabularyTerm(ctx context.Context, id string, input VocabularyInput) (VocabularyView, error) {
	input = input.normalize()
	if err := validateStruct(input); err != nil {
		return VocabularyView{}, err
	}
	item, err := s.store.GetVocabularyTerm(ctx, id)
	if err != nil {
		return VocabularyView{}, err
	}
	input.apply(&item)
	if err := s.store.UpdateVocabularyTerm(ctx, item); err != nil {
		return VocabularyView{}, termConflict(err)
	}
	return s.reloadVocabulary(ctx, id)
}

func (s *Service) DeleteVocabularyTerm(ctx context.Context, id string) error {
	if err := s.store.DeleteVocabularyTerm(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteVocabulary(id)
	}
	return nil
}

// ImportVocabulary reads CSV rows of language,term,definition,category,synonyms
// with a header line. Synonyms are separated by "|". Rows matching an existing
// term in the same language update it; identical rows are skipped. Bad rows
// are reported by line and do not stop the import.
func (s *Service) ImportVocabulary(ctx context.Context, r io.Reader) (ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return ImportResult{}, validationError("CSV file is empty", nil)
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return ImportResult{}, validationError("Invalid CSV: "+err.Error(), nil)
		}
		return ImportResult{}, fmt.Errorf("read csv header: %w", err)
	}
	columns, err := importColumnIndex(header)
	if err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{Errors: []ImportLineError{}}
	rows := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return result, fmt.Errorf("read csv: %w", err)
			}
			result.Errors = append(result.Errors, ImportLineError{Line: parseErr.Line, Error: parseErr.Err.Error()})
			continue
		}
		line, _ := reader.FieldPos(0)
		if rows++; rows > maxImportRows {
			return result, validationError(fmt.Sprintf("Import is limited to %d rows", maxImportRows), nil)
		}
		if isBlankRecord(record) {
			continue
		}
		outcome, err := s.importRow(ctx, columns, record)
		if err != nil {
			var domainErr *DomainError
			if errors.As(err, &domainErr) || isValidationFailure(err) {
				result.Errors = append(result.Errors, ImportLineError{Line: line, Error: importErrorText(err)})
				continue
			}
			return result, err
		}
		switch outcome {
		case importCreated:
			result.Created++
		case importUpdated:
			result.Updated++
		default:
			result.Skipped++
		}
	}
	return result, nil
}

type importOutcome int

const (
	importSkipped importOutcome = iota
	importCreated
	importUpdated
)

func (s *Service) importRow(ctx context.Context, columns map[string]int, record []string) (importOutcome, error) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}
	var synonyms []string
	if raw := field("synonyms"); raw != "" {
		synonyms = strings.Split(raw, "|")
	}
	input := VocabularyInput{
		Language:   field("language"),
		Term:       field("term"),
		Definition: field("definition"),
		Category:   field("category"),
		Synonyms:   synonyms,
	}.normalize()
	if err := validateStruct(input); err != nil {
		return importSkipped, err
	}

	existing, err := s.store.FindVocabularyTerm(ctx, input.Language, input.Term)
	if errors.Is(err, store.ErrNotFound) {
		item := store.VocabularyTerm{ID: util.NewID("voc")}
		input.apply(&item)
		if err := s.store.CreateVocabularyTerm(ctx, item); err != nil {
			return importSkipped, termConflict(err)
		}
		s.indexVocabulary(item)
		return importCreated, nil
	}
	if err != nil {
		return importSkipped, err
	}
	if sameTerm(existing, input) {
		return importSkipped, nil
	}
	input.apply(&existing)
	if err := s.store.UpdateVocabularyTerm(ctx, existing); err != nil {
		return importSkipped, termConflict(err)
	}
	s.indexVocabulary(existing)
	return importUpdated, nil
}

func importColumnIndex(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	var missing []string
	for _, name := range importColumns[:3] {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, validationError("CSV header is missing columns: "+strings.Join(missing, ", "), map[string]string{"expected": strings.Join(importColumns, ",")})
	}
	return columns, nil
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func sameTerm(existing store.VocabularyTerm, input VocabularyInput) bool {
	if existing.Definition != input.Definition || existing.Category != input.Category || len(existing.Synonyms) != len(input.Synonyms) {
		return false
	}
	for i := range existing.Synonyms {
		if existing.Synonyms[i] != input.Synonyms[i] {
			return false
		}
	}
	return existing.Term == input.Term
}

func termConflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return domainError(http.StatusConflict, "TERM_EXISTS", "Term already exists for this language", nil)
	}
	return err
}

func importErrorText(err error) string {
	_, _, message, details := mapError(err)
	if fields, ok := details.(map[string]string); ok && len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for _, name := range importColumns {
			if msg, ok := fields[name]; ok {
				parts = append(parts, msg)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	return message
}

func (s *Service) reloadVocabulary(ctx context.Context, id string) (VocabularyView, error) {
	item, err := s.store.GetVocabularyTerm(ctx, id)
	if err != nil {
		return VocabularyView{}, err
	}
	s.indexVocabulary(item)
	return vocabularyView(item), nil
}

func (s *Service) indexVocabulary(item store.VocabularyTerm) {
	if s.search == nil {
		return
	}
	s.search.IndexVocabulary(search.VocabularyRecord{
		ID:         item.ID,
		Language:   item.Language,
		Term:       item.Term,
		Definition: item.Definition,
		Category:   item.Category,
		Synonyms:   item.Synonyms,
	})
}
