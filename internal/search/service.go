package search

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is the facade that tries the index first and falls back to
// Postgres.
type Service struct {
	index    Index
	fallback Searcher
	log      *zap.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. index may be nil when Meilisearch is
// not configured.
func NewService(index Index, fallback Searcher, logger *zap.Logger) *Service {
	return &Service{index: index, fallback: fallback, log: logger.Named("search")}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries the index if healthy, otherwise the fallback. Errors are
// logged and answered with an empty result set.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.log.Warn("index search failed, falling back to postgres", zap.Error(err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}
}

// async runs fn in the background; mutations never wait on the index.
func (s *Service) async(op, id string, fn func() error) {
	if !s.indexReady() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(); err != nil {
			s.log.Warn("index update failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
		}
	}()
}

func (s *Service) IndexSubject(r SubjectRecord) {
	s.async("index subject", r.ID, func() error { return s.index.IndexSubjects([]SubjectRecord{r}) })
}

func (s *Service) IndexTopic(r TopicRecord) {
	s.async("index topic", r.ID, func() error { return s.index.IndexTopics([]TopicRecord{r}) })
}

func (s *Service) IndexArticle(r ArticleRecord) {
	s.async("index article", r.ID, func() error { return s.index.IndexArticles([]ArticleRecord{r}) })
}

func (s *Service) Delete(kind ResultType, id string) {
	s.async("delete "+string(kind), id, func() error { return s.index.Delete(kind, id) })
}

// Wait blocks until every background index update has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAll loads the three kinds concurrently and pushes them to the index.
func (s *Service) ReindexAll(ctx context.Context, loader Loader) error {
	if !s.indexReady() {
		return nil
	}

	var (
		subjects []SubjectRecord
		topics   []TopicRecord
		articles []ArticleRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		subjects, err = loader.LoadSubjects(gctx)
		return err
	})
	g.Go(func() (err error) {
		topics, err = loader.LoadTopics(gctx)
		return err
	})
	g.Go(func() (err error) {
		articles, err = loader.LoadArticles(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("reindex load: %w", err)
	}

	if err := s.index.IndexSubjects(subjects); err != nil {
		return fmt.Errorf("reindex subjects: %w", err)
	}
	if err := s.index.IndexTopics(topics); err != nil {
		return fmt.Errorf("reindex topics: %w", err)
	}
	if err := s.index.IndexArticles(articles); err != nil {
		return fmt.Errorf("reindex articles: %w", err)
	}
	s.log.Info("reindexed content",
		zap.Int("subjects", len(subjects)),
		zap.Int("topics", len(topics)),
		zap.Int("articles", len(articles)))
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
