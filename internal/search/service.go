package search

import (
	"context"
	"log/slog"

	"github.com/kirbyniko/research-platform-sub006/internal/errs"
	"github.com/kirbyniko/research-platform-sub006/internal/logging"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili   *Meili
	primary Searcher
	pgfts   *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{meili: meili, pgfts: pgfts}
	if meili != nil {
		s.primary = meili
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		logging.Warn(ctx, "search: meilisearch error, falling back to pgfts", slog.Any("error", errs.Loggable(err)))
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		logging.Error(ctx, "search: pgfts error", slog.Any("error", errs.Loggable(err)))
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "pgfts"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "pgfts"}
}

// IndexRecord pushes a record to Meilisearch in the background. The PG
// fallback needs no indexing: its tsvector is a generated column.
func (s *Service) IndexRecord(doc RecordDocument) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRecords([]RecordDocument{doc}); err != nil {
			logging.Warn(context.Background(), "search: index record",
				slog.String("record_id", doc.ID), slog.Any("error", errs.Loggable(err)))
		}
	}()
}

func (s *Service) DeleteRecord(recordID int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRecord(recordID); err != nil {
			logging.Warn(context.Background(), "search: delete record",
				slog.Int64("record_id", recordID), slog.Any("error", errs.Loggable(err)))
		}
	}()
}

// ReindexAllFromPG pushes every live record into Meilisearch and reports
// how many were sent.
func (s *Service) ReindexAllFromPG(ctx context.Context) (int, error) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return 0, nil
	}
	docs, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return 0, errs.Wrap(err, "reindex load")
	}
	if err := s.meili.IndexRecords(docs); err != nil {
		return 0, errs.Wrap(err, "reindex push")
	}
	return len(docs), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
