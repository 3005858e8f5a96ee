package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// engine is the primary backend: a searcher that also accepts index writes.
type engine interface {
	Searcher
	Indexer
	IndexVocabularyBatch(terms []VocabularyRecord) error
	IndexUsers(users []UserRecord) error
}

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	primary  engine
	fallback Searcher
	pg       *PgSearch
	logger   *zap.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *PgSearch, logger *zap.Logger) *Service {
	s := newService(nil, pg, logger)
	if meili != nil {
		s.primary = meili
	}
	s.pg = pg
	return s
}

func newService(primary engine, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger.Named("search")}
}

// Backend names the backend a search would use right now.
func (s *Service) Backend() string {
	if s.usePrimary() {
		return "meilisearch"
	}
	return "postgres"
}

func (s *Service) usePrimary() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
// Errors are logged and produce an empty response.
func (s *Service) Search(q Query) Response {
	if s.usePrimary() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to postgres", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexVocabulary indexes a term (fire-and-forget to Meilisearch).
func (s *Service) IndexVocabulary(v VocabularyRecord) {
	s.async("index vocabulary", v.ID, func(e engine) error { return e.IndexVocabulary(v) })
}

// IndexUser indexes a user (fire-and-forget to Meilisearch).
func (s *Service) IndexUser(u UserRecord) {
	s.async("index user", u.ID, func(e engine) error { return e.IndexUser(u) })
}

func (s *Service) DeleteVocabulary(id string) {
	s.async("delete vocabulary", id, func(e engine) error { return e.DeleteVocabulary(id) })
}

func (s *Service) DeleteUser(id string) {
	s.async("delete user", id, func(e engine) error { return e.DeleteUser(id) })
}

func (s *Service) async(op, id string, fn func(engine) error) {
	if !s.usePrimary() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(s.primary); err != nil {
			s.logger.Warn("search "+op, zap.String("id", id), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight index writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAll pushes the given records to Meilisearch.
func (s *Service) ReindexAll(terms []VocabularyRecord, users []UserRecord) {
	if !s.usePrimary() {
		return
	}
	if len(terms) > 0 {
		if err := s.primary.IndexVocabularyBatch(terms); err != nil {
			s.logger.Warn("reindex vocabulary", zap.Error(err))
		}
	}
	if len(users) > 0 {
		if err := s.primary.IndexUsers(users); err != nil {
			s.logger.Warn("reindex users", zap.Error(err))
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.usePrimary() || s.pg == nil {
		return
	}
	terms, users, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	s.ReindexAll(terms, users)
	s.logger.Info("reindexed search", zap.Int("vocabulary", len(terms)), zap.Int("users", len(users)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
