package search

import (
	"context"
	"log/slog"
	"sync"
)

// Service is the facade that tries Meilisearch first and falls back to the
// database searcher.
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   *slog.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, fallback Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back. Failures are
// logged and reported as an empty result.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q = q.Normalized()
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search: meilisearch error, falling back", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("search: fallback error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexIdea indexes an idea (fire-and-forget to Meilisearch).
func (s *Service) IndexIdea(idea IdeaRecord) {
	s.async("index idea", idea.ID, func() error { return s.meili.IndexIdeas([]IdeaRecord{idea}) })
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(comment CommentRecord) {
	s.async("index comment", comment.ID, func() error { return s.meili.IndexComments([]CommentRecord{comment}) })
}

// DeleteIdea removes an idea and its comments from the index (fire-and-forget).
func (s *Service) DeleteIdea(id string, commentIDs []string) {
	s.async("delete idea", id, func() error { return s.meili.DeleteIdea(id, commentIDs) })
}

func (s *Service) async(op, id string, fn func() error) {
	if !s.meiliReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(); err != nil {
			s.logger.Warn("search: "+op, "id", id, "error", err)
		}
	}()
}

// Wait blocks until in-flight index updates are done. Used on shutdown.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Reindex replaces the Meilisearch contents with every record from loader.
// Documents of deleted ideas do not survive it.
func (s *Service) Reindex(ctx context.Context, loader RecordLoader) {
	if !s.meiliReady() || loader == nil {
		return
	}
	ideas, comments, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("search: reindex load failed", "error", err)
		return
	}
	if err := s.meili.Clear(); err != nil {
		s.logger.Error("search: reindex clear", "error", err)
		return
	}
	if err := s.meili.IndexIdeas(ideas); err != nil {
		s.logger.Error("search: reindex ideas", "error", err)
	}
	if err := s.meili.IndexComments(comments); err != nil {
		s.logger.Error("search: reindex comments", "error", err)
	}
	s.logger.Info("search: reindexed", "ideas", len(ideas), "comments", len(comments))
}

// KeepIndexed reindexes in the background now and again every time
// Meilisearch recovers from an outage.
func (s *Service) KeepIndexed(ctx context.Context, loader RecordLoader) {
	if s.meili == nil || loader == nil {
		return
	}
	reindex := func() {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.Reindex(ctx, loader)
		}()
	}
	s.meili.OnRecover(reindex)
	reindex()
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
