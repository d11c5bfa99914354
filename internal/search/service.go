package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, pgfts: pgfts, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS. Errors
// are logged and yield an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPage indexes a page (fire-and-forget to Meilisearch).
func (s *Service) IndexPage(rec PageRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexPages([]PageRecord{rec}); err != nil {
			s.logger.Warn("index page", zap.String("page_id", rec.ID), zap.Error(err))
		}
	}()
}

// DeletePages removes pages from the index (fire-and-forget).
func (s *Service) DeletePages(ids ...string) {
	if !s.meiliReady() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeletePage(id); err != nil {
				s.logger.Warn("delete page from index", zap.String("page_id", id), zap.Error(err))
			}
		}
	}()
}

// ReindexDoc pushes every page of a doc, used after a doc slug change.
func (s *Service) ReindexDoc(ctx context.Context, docID string) {
	if !s.meiliReady() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadDocRecords(ctx, docID)
	if err != nil {
		s.logger.Warn("reindex doc load failed", zap.String("doc_id", docID), zap.Error(err))
		return
	}
	go func() {
		if err := s.meili.IndexPages(records); err != nil {
			s.logger.Warn("reindex doc", zap.String("doc_id", docID), zap.Error(err))
		}
	}()
}

// ReindexAll loads every page from PostgreSQL and pushes it to Meilisearch
// synchronously. It returns the number of records sent.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if s.meili == nil {
		return 0, fmt.Errorf("meilisearch not configured")
	}
	if !s.meili.Healthy() {
		return 0, fmt.Errorf("meilisearch unhealthy")
	}
	if s.pgfts == nil {
		return 0, fmt.Errorf("postgres search not configured")
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.meili.IndexPages(records); err != nil {
		return 0, fmt.Errorf("reindex pages: %w", err)
	}
	s.logger.Info("search reindex complete", zap.Int("pages", len(records)))
	return len(records), nil
}

// Healthy reports whether the primary search engine is available.
func (s *Service) Healthy() bool {
	return s.meiliReady()
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func (s *Service) meiliReady() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
