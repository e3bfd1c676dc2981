package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"lectern/api/internal/filestore"
	"lectern/api/internal/rank"
	"lectern/api/internal/rbac"
	"lectern/api/internal/search"
	"lectern/api/internal/store"
	"lectern/api/internal/util"
)

// conflictAttempts bounds how often a write re-reads neighbours after the
// store reports a rank collision.
const conflictAttempts = 3

type SubjectInput struct {
	Title    string
	Slug     string
	Position store.Position
}

type TopicInput struct {
	SubjectID string
	Title     string
	Slug      string
	Position  store.Position
}

type ArticleInput struct {
	TopicID   string
	Title     string
	Slug      string
	// Body and Published are left unchanged on update when nil.
	Body      *string
	Published *bool
	// SHA, when set on update, must match the mirrored file.
	SHA      string
	Position store.Position
}

type MoveInput struct {
	// ParentID re-parents topics and articles. Empty keeps the current parent.
	ParentID string
	Position store.Position
}

func (s *Service) placer() store.Placer {
	return func(before, after string) (string, error) {
		r, err := s.engine.Compute(before, after)
		if err != nil {
			s.metrics.RankFailed(rankFailure(err))
			return "", err
		}
		s.metrics.RankComputed(string(rank.ModeFor(before, after)), r.Precision())
		return r.String(), nil
	}
}

func rankFailure(err error) string {
	switch {
	case errors.Is(err, rank.ErrMalformed):
		return "malformed"
	case errors.Is(err, rank.ErrInvalidOrder):
		return "invalid_order"
	default:
		return "other"
	}
}

// rebalancer spreads a scope evenly across the bucket after the one its
// first item is in. Every stored rank must parse; a corrupt scope is left
// untouched.
func (s *Service) rebalancer() store.Rebalancer {
	return func(current []string) ([]string, error) {
		if len(current) == 0 {
			return nil, nil
		}
		var bucket rank.Bucket
		for i, value := range current {
			r, err := rank.Parse(value)
			if err != nil {
				s.metrics.RankFailed(rankFailure(err))
				return nil, err
			}
			if i == 0 {
				bucket = r.Bucket()
			}
		}
		spread, err := s.engine.Spread(rank.NextBucket(bucket), len(current))
		if err != nil {
			return nil, err
		}
		out := make([]string, len(spread))
		for i, r := range spread {
			out[i] = r.String()
		}
		return out, nil
	}
}

// retryConflicts reruns fn while the store reports a rank collision. Each
// attempt reads fresh neighbours.
func (s *Service) retryConflicts(kind store.Kind, fn func() error) error {
	var err error
	for attempt := 1; attempt <= conflictAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, store.ErrRankConflict) {
			return err
		}
		s.metrics.RankConflict(string(kind))
		s.log.Warn("rank conflict, retrying", zap.String("kind", string(kind)), zap.Int("attempt", attempt))
	}
	return err
}

func (s *Service) needsRebalance(value string) bool {
	if s.cfg.RankRebalanceThreshold <= 0 {
		return false
	}
	r, err := rank.Parse(value)
	return err == nil && r.Precision() > s.cfg.RankRebalanceThreshold
}

func normalizeTitleSlug(title, slug string) (string, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", validationError("title is required")
	}
	slug = util.Slugify(firstNonBlank(slug, title))
	if slug == "" {
		return "", "", validationError("slug must contain letters or digits")
	}
	return title, slug, nil
}

// Tree returns every subject with its topics and article summaries, each
// level in rank order.
func (s *Service) Tree(ctx context.Context, session Session) ([]map[string]any, error) {
	subjects, err := s.store.ListSubjects(ctx)
	if err != nil {
		return nil, err
	}
	topics, err := s.store.ListAllTopics(ctx)
	if err != nil {
		return nil, err
	}
	articles, err := s.store.ListAllArticles(ctx)
	if err != nil {
		return nil, err
	}
	showDrafts := s.Can(session.Role, rbac.ActionWrite)

	articlesByTopic := make(map[string][]map[string]any)
	for _, article := range articles {
		if !article.Published && !showDrafts {
			continue
		}
		articlesByTopic[article.TopicID] = append(articlesByTopic[article.TopicID], articleSummary(article))
	}
	topicsBySubject := make(map[string][]map[string]any)
	for _, topic := range topics {
		view := topicView(topic)
		view["articles"] = nonNilViews(articlesByTopic[topic.ID])
		topicsBySubject[topic.SubjectID] = append(topicsBySubject[topic.SubjectID], view)
	}
	out := make([]map[string]any, 0, len(subjects))
	for _, subject := range subjects {
		view := subjectView(subject)
		view["topics"] = nonNilViews(topicsBySubject[subject.ID])
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) ListTopics(ctx context.Context, subjectID string) ([]map[string]any, error) {
	if _, err := s.store.GetSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	topics, err := s.store.ListTopics(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(topics))
	for _, topic := range topics {
		out = append(out, topicView(topic))
	}
	return out, nil
}

func (s *Service) ListArticles(ctx context.Context, session Session, topicID string) ([]map[string]any, error) {
	if _, err := s.store.GetTopic(ctx, topicID); err != nil {
		return nil, err
	}
	articles, err := s.store.ListArticles(ctx, topicID)
	if err != nil {
		return nil, err
	}
	showDrafts := s.Can(session.Role, rbac.ActionWrite)
	out := make([]map[string]any, 0, len(articles))
	for _, article := range articles {
		if article.Published || showDrafts {
			out = append(out, articleSummary(article))
		}
	}
	return out, nil
}

// GetArticle returns the article body from the database and the blob hash
// of its mirrored file. Drafts are hidden from readers without write access.
func (s *Service) GetArticle(ctx context.Context, session Session, articleID string) (map[string]any, error) {
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if !article.Published && !s.Can(session.Role, rbac.ActionWrite) {
		return nil, fmt.Errorf("article %s: %w", articleID, sql.ErrNoRows)
	}
	view := articleView(article)
	if s.files != nil && article.FilePath != "" {
		if sha, err := s.files.FetchSHA(article.FilePath); err == nil {
			view["sha"] = sha
		} else {
			s.log.Warn("mirror sha lookup failed", zap.String("article_id", article.ID), zap.Error(err))
		}
	}
	return view, nil
}

func (s *Service) ArticleHistory(ctx context.Context, session Session, articleID string, limit int) ([]map[string]any, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_UNAVAILABLE", "Article mirror is not configured", nil)
	}
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if article.FilePath == "" {
		return []map[string]any{}, nil
	}
	commits, err := s.files.History(article.FilePath, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		out = append(out, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return out, nil
}

// Subjects

func (s *Service) CreateSubject(ctx context.Context, session Session, input SubjectInput) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	title, slug, err := normalizeTitleSlug(input.Title, input.Slug)
	if err != nil {
		return nil, err
	}
	var created store.Subject
	err = s.retryConflicts(store.KindSubject, func() error {
		var err error
		created, err = s.store.InsertSubject(ctx, store.Subject{
			ID:        util.NewID("sub"),
			Title:     title,
			Slug:      slug,
			UpdatedBy: session.UserName,
		}, input.Position, s.placer())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.indexSubject(created)
	return s.placedView(subjectView(created), created.Rank), nil
}

func (s *Service) UpdateSubject(ctx context.Context, session Session, subjectID string, input SubjectInput) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	current, err := s.store.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	title, slug, err := normalizeTitleSlug(firstNonBlank(input.Title, current.Title), firstNonBlank(input.Slug, current.Slug))
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateSubject(ctx, store.Subject{ID: subjectID, Title: title, Slug: slug, UpdatedBy: session.UserName})
	if err != nil {
		return nil, err
	}
	s.indexSubject(updated)
	if updated.Slug != current.Slug {
		topics, err := s.store.ListTopics(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		for _, topic := range topics {
			s.relocateArticles(ctx, topic.ID, session.UserName)
		}
	}
	return subjectView(updated), nil
}

func (s *Service) MoveSubject(ctx context.Context, session Session, subjectID string, input MoveInput) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionReorder); err != nil {
		return nil, err
	}
	var moved store.Subject
	err := s.retryConflicts(store.KindSubject, func() error {
		var err error
		moved, err = s.store.MoveSubject(ctx, subjectID, input.Position, s.placer(), session.UserName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.placedView(subjectView(moved), moved.Rank), nil
}

func (s *Service) DeleteSubject(ctx context.Context, session Session, subjectID string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	topics, err := s.store.ListTopics(ctx, subjectID)
	if err != nil {
		return err
	}
	var articles []store.Article
	for _, topic := range topics {
		items, err := s.store.ListArticles(ctx, topic.ID)
		if err != nil {
			return err
		}
		articles = append(articles, items...)
	}
	if err := s.store.DeleteSubject(ctx, subjectID); err != nil {
		return err
	}
	s.forgetArticles(ctx, articles, session.UserName)
	for _, topic := range topics {
		s.deindex(search.ResultTopic, topic.ID)
	}
	s.deindex(search.ResultSubject, subjectID)
	return nil
}

// Topics

func (s *Service) CreateTopic(ctx context.Context, session Session, input TopicInput) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.SubjectID) == "" {
		return nil, validationError("subjectId is required")
	}
	title, slug, err := normalizeTitleSlug(input.Title, input.Slug)
	if err != nil {
		return nil, err
	}
	var created store.Topic
	err = s.retryConflicts(store.KindTopic, func() error {
		var err error
		created, err = s.store.InsertTopic(ctx, store.Topic{
			ID:        util.NewID("top"),
			SubjectID: input.SubjectID,
			Title:     title,
			Slug:      slug,
			UpdatedBy: session.UserName,
		}, input.Position, s.placer())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.indexTopic(created)
	return s.placedView(topicView(created), created.Rank), nil
}

func (s *Service) UpdateTopic(ctx context.Context, session Session, topicID string, input TopicInput) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	current, err := s.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	title, slug, err := normalizeTitleSlug(firstNonBlank(input.Title, current.Title), firstNonBlank(input.Slug, current.Slug))
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateTopic(ctx, store.Topic{ID: topicID, Title: title, Slug: slug, UpdatedBy: session.UserName})
	if err != nil {
		return nil, err
	}
	s.indexTopic(updated)
	if updated.Slug != current.Slug {
		s.relocateArticles(ctx, topicID, session.UserName)
	}
	return topicView(updated), nil
}

func (s *Service) MoveTopic(ctx context.Context, session Session, topicID string, input MoveInput) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionReorder); err != nil {
		return nil, err
	}
	current, err := s.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	subjectID := firstNonBlank(input.ParentID, current.SubjectID)
	var moved store.Topic
	err = s.retryConflicts(store.KindTopic, func() error {
		var err error
		moved, err = s.store.MoveTopic(ctx, topicID, subjectID, input.Position, s.placer(), session.UserName)
		return err
	})
	if err != nil {
		return nil, err
	}
	if moved.SubjectID != current.SubjectID {
		s.indexTopic(moved)
		s.relocateArticles(ctx, topicID, session.UserName)
	}
	return s.placedView(topicView(moved), moved.Rank), nil
}

func (s *Service) DeleteTopic(ctx context.Context, session Session, topicID string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	articles, err := s.store.ListArticles(ctx, topicID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTopic(ctx, topicID); err != nil {
		return err
	}
	s.forgetArticles(ctx, articles, session.UserName)
	s.deindex(search.ResultTopic, topicID)
	return nil
}

// Articles

func (s *Service) CreateArticle(ctx context.Context, session Session, input ArticleInput) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.TopicID) == "" {
		return nil, validationError("topicId is required")
	}
	title, slug, err := normalizeTitleSlug(input.Title, input.Slug)
	if err != nil {
		return nil, err
	}
	topic, err := s.store.GetTopic(ctx, input.TopicID)
	if err != nil {
		return nil, err
	}
	var body string
	if input.Body != nil {
		body = *input.Body
	}
	var created store.Article
	err = s.retryConflicts(store.KindArticle, func() error {
		var err error
		created, err = s.store.InsertArticle(ctx, store.Article{
			ID:        util.NewID("art"),
			TopicID:   topic.ID,
			Title:     title,
			Slug:      slug,
			Body:      body,
			Published: input.Published != nil && *input.Published,
			UpdatedBy: session.UserName,
		}, input.Position, s.placer())
		return err
	})
	if err != nil {
		return nil, err
	}
	created = s.mirrorArticle(ctx, created, "", session.UserName, "Create "+created.Title)
	s.indexArticle(created, topic.SubjectID)
	return s.placedView(articleView(created), created.Rank), nil
}

func (s *Service) UpdateArticle(ctx context.Context, session Session, articleID string, input ArticleInput) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return nil, err
	}
	current, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if input.SHA != "" && s.files != nil && current.FilePath != "" {
		sha, err := s.files.FetchSHA(current.FilePath)
		if err != nil {
			return nil, err
		}
		if sha != input.SHA {
			return nil, domainError(http.StatusConflict, "STALE_SHA", "Article changed since it was read", map[string]any{"sha": sha})
		}
	}
	title, slug, err := normalizeTitleSlug(firstNonBlank(input.Title, current.Title), firstNonBlank(input.Slug, current.Slug))
	if err != nil {
		return nil, err
	}
	next := current
	next.Title = title
	next.Slug = slug
	if input.Body != nil {
		next.Body = *input.Body
	}
	if input.Published != nil {
		next.Published = *input.Published
	}
	next.UpdatedBy = session.UserName
	updated, err := s.store.UpdateArticle(ctx, next)
	if err != nil {
		return nil, err
	}
	updated = s.mirrorArticle(ctx, updated, current.FilePath, session.UserName, "Update "+updated.Title)
	if topic, err := s.store.GetTopic(ctx, updated.TopicID); err == nil {
		s.indexArticle(updated, topic.SubjectID)
	}
	return articleView(updated), nil
}

func (s *Service) MoveArticle(ctx context.Context, session Session, articleID string, input MoveInput) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionReorder); err != nil {
		return nil, err
	}
	current, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	topicID := firstNonBlank(input.ParentID, current.TopicID)
	var moved store.Article
	err = s.retryConflicts(store.KindArticle, func() error {
		var err error
		moved, err = s.store.MoveArticle(ctx, articleID, topicID, input.Position, s.placer(), session.UserName)
		return err
	})
	if err != nil {
		return nil, err
	}
	if moved.TopicID != current.TopicID {
		moved = s.mirrorArticle(ctx, moved, current.FilePath, session.UserName, "Move "+moved.Title)
		if topic, err := s.store.GetTopic(ctx, moved.TopicID); err == nil {
			s.indexArticle(moved, topic.SubjectID)
		}
	}
	return s.placedView(articleView(moved), moved.Rank), nil
}

func (s *Service) DeleteArticle(ctx context.Context, session Session, articleID string) error {
	if err := s.authorize(session, rbac.ActionWrite); err != nil {
		return err
	}
	article, err := s.store.GetArticle(ctx, articleID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteArticle(ctx, articleID); err != nil {
		return err
	}
	s.forgetArticles(ctx, []store.Article{article}, session.UserName)
	return nil
}

// Ranking

// Rebalance rewrites every rank in scope into the next bucket, evenly
// spaced at the coarsest precision that fits.
func (s *Service) Rebalance(ctx context.Context, session Session, scope store.Scope) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionReorder); err != nil {
		return nil, err
	}
	if err := s.requireScope(ctx, scope); err != nil {
		return nil, err
	}
	count, err := s.store.RebalanceScope(ctx, scope, s.rebalancer())
	if err != nil {
		return nil, err
	}
	s.metrics.Rebalanced(string(scope.Kind))
	s.log.Info("scope rebalanced", zap.String("scope", scope.Key()), zap.Int("items", count), zap.String("by", session.UserID))
	return map[string]any{"ok": true, "scope": scope.Key(), "items": count}, nil
}

// RankStatus reports the longest mantissa stored in scope and whether it
// exceeds the rebalance threshold.
func (s *Service) RankStatus(ctx context.Context, session Session, scope store.Scope) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionReorder); err != nil {
		return nil, err
	}
	if err := s.requireScope(ctx, scope); err != nil {
		return nil, err
	}
	longest, err := s.store.LongestRank(ctx, scope)
	if err != nil {
		return nil, err
	}
	// Stored length includes the "<bucket>|" prefix.
	digits := max(longest-2, 0)
	threshold := s.cfg.RankRebalanceThreshold
	return map[string]any{
		"scope":              scope.Key(),
		"longestPrecision":   digits,
		"threshold":          threshold,
		"rebalanceSuggested": threshold > 0 && digits > threshold,
	}, nil
}

// ComputeRank runs the engine on raw neighbour values without touching
// storage.
func (s *Service) ComputeRank(session Session, before, after string) (map[string]any, error) {
	if err := s.authorize(session, rbac.ActionReorder); err != nil {
		return nil, err
	}
	before, after = strings.TrimSpace(before), strings.TrimSpace(after)
	r, err := s.placer()(before, after)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"rank":               r,
		"mode":               string(rank.ModeFor(before, after)),
		"precision":          len(r) - 2,
		"rebalanceSuggested": s.needsRebalance(r),
	}, nil
}

func (s *Service) requireScope(ctx context.Context, scope store.Scope) error {
	switch scope.Kind {
	case store.KindSubject:
		return nil
	case store.KindTopic:
		_, err := s.store.GetSubject(ctx, scope.ParentID)
		return err
	case store.KindArticle:
		_, err := s.store.GetTopic(ctx, scope.ParentID)
		return err
	}
	return validationError(fmt.Sprintf("unknown kind %q", scope.Kind))
}

func (s *Service) placedView(view map[string]any, value string) map[string]any {
	view["rebalanceSuggested"] = s.needsRebalance(value)
	return view
}

// Mirror

// mirrorArticle writes the article body to its file and records the path
// and blob hash. oldPath is removed when the article's path changed. Mirror
// failures are logged and counted; the database stays authoritative.
func (s *Service) mirrorArticle(ctx context.Context, article store.Article, oldPath, author, message string) store.Article {
	if s.files == nil {
		return article
	}
	fail := func(op string, err error) store.Article {
		s.metrics.MirrorFailed(op)
		s.log.Warn("article mirror failed", zap.String("op", op), zap.String("article_id", article.ID), zap.Error(err))
		return article
	}

	loc, err := s.store.GetArticleLocation(ctx, article.ID)
	if err != nil {
		return fail("locate", err)
	}
	path := filestore.ArticlePath(loc)
	if oldPath != "" && oldPath != path {
		s.removeFile(ctx, oldPath, author, message)
	}

	sha, err := s.files.FetchSHA(path)
	switch {
	case errors.Is(err, filestore.ErrNotFound):
		file, err := s.files.Create(ctx, path, article.Body, message, author)
		if err != nil {
			return fail("create", err)
		}
		sha = file.SHA
	case err != nil:
		return fail("read", err)
	case sha != filestore.BlobSHA(article.Body):
		file, err := s.files.Update(ctx, path, article.Body, message, author, sha)
		if err != nil {
			return fail("update", err)
		}
		sha = file.SHA
	}

	if err := s.store.SetArticleFile(ctx, article.ID, path, sha); err != nil {
		return fail("record", err)
	}
	article.FilePath = path
	article.FileSHA = sha
	return article
}

func (s *Service) removeFile(ctx context.Context, path, author, message string) {
	sha, err := s.files.FetchSHA(path)
	if errors.Is(err, filestore.ErrNotFound) {
		return
	}
	if err == nil {
		_, err = s.files.Delete(ctx, path, message, author, sha)
	}
	if err != nil {
		s.metrics.MirrorFailed("delete")
		s.log.Warn("article mirror delete failed", zap.String("path", path), zap.Error(err))
	}
}

// relocateArticles rewrites mirror paths after a topic or subject changed
// slug or parent.
func (s *Service) relocateArticles(ctx context.Context, topicID, author string) {
	articles, err := s.store.ListArticles(ctx, topicID)
	if err != nil {
		s.log.Warn("list articles for relocation failed", zap.String("topic_id", topicID), zap.Error(err))
		return
	}
	topic, topicErr := s.store.GetTopic(ctx, topicID)
	for _, article := range articles {
		moved := s.mirrorArticle(ctx, article, article.FilePath, author, "Move "+article.Title)
		if topicErr == nil {
			s.indexArticle(moved, topic.SubjectID)
		}
	}
}

func (s *Service) forgetArticles(ctx context.Context, articles []store.Article, author string) {
	for _, article := range articles {
		if s.files != nil && article.FilePath != "" {
			s.removeFile(ctx, article.FilePath, author, "Delete "+article.Title)
		}
		s.deindex(search.ResultArticle, article.ID)
	}
}

// Search indexing

func (s *Service) indexSubject(subject store.Subject) {
	if s.search != nil {
		s.search.IndexSubject(search.SubjectRecord{ID: subject.ID, Title: subject.Title, Slug: subject.Slug})
	}
}

func (s *Service) indexTopic(topic store.Topic) {
	if s.search != nil {
		s.search.IndexTopic(search.TopicRecord{ID: topic.ID, Title: topic.Title, Slug: topic.Slug, SubjectID: topic.SubjectID})
	}
}

func (s *Service) indexArticle(article store.Article, subjectID string) {
	if s.search != nil {
		s.search.IndexArticle(search.ArticleRecord{
			ID:        article.ID,
			Title:     article.Title,
			Slug:      article.Slug,
			Body:      article.Body,
			TopicID:   article.TopicID,
			SubjectID: subjectID,
			Published: article.Published,
		})
	}
}

func (s *Service) deindex(kind search.ResultType, id string) {
	if s.search != nil {
		s.search.Delete(kind, id)
	}
}
