package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lectern/api/internal/store"
)

// DataStore is the read side export needs.
type DataStore interface {
	GetSubject(ctx context.Context, id string) (store.Subject, error)
	GetTopic(ctx context.Context, id string) (store.Topic, error)
	ListArticles(ctx context.Context, topicID string) ([]store.Article, error)
}

type Service struct {
	store    DataStore
	printer  Printer
	uploader Uploader
	logger   *zap.Logger
	now      func() time.Time
}

// NewService builds an exporter. uploader may be nil, in which case results
// carry only the PDF bytes.
func NewService(store DataStore, printer Printer, uploader Uploader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, printer: printer, uploader: uploader, logger: logger, now: time.Now}
}

// RenderHTML builds the printable document for a topic, articles in rank
// order.
func (s *Service) RenderHTML(ctx context.Context, req Request) (string, store.Subject, store.Topic, error) {
	topic, err := s.store.GetTopic(ctx, req.TopicID)
	if err != nil {
		return "", store.Subject{}, store.Topic{}, fmt.Errorf("get topic: %w", err)
	}
	subject, err := s.store.GetSubject(ctx, topic.SubjectID)
	if err != nil {
		return "", store.Subject{}, store.Topic{}, fmt.Errorf("get subject: %w", err)
	}
	articles, err := s.store.ListArticles(ctx, topic.ID)
	if err != nil {
		return "", store.Subject{}, store.Topic{}, fmt.Errorf("list articles: %w", err)
	}

	data := TemplateData{Subject: subject.Title, Title: topic.Title, GeneratedAt: s.now().UTC()}
	for _, article := range articles {
		if req.PublishedOnly && !article.Published {
			continue
		}
		body, err := MarkdownToHTML(article.Body)
		if err != nil {
			return "", store.Subject{}, store.Topic{}, fmt.Errorf("article %s: %w", article.ID, err)
		}
		data.Articles = append(data.Articles, TemplateArticle{Title: article.Title, BodyHTML: body})
	}
	if len(data.Articles) == 0 {
		return "", store.Subject{}, store.Topic{}, ErrEmptyTopic
	}

	html, err := RenderTopicHTML(data)
	if err != nil {
		return "", store.Subject{}, store.Topic{}, fmt.Errorf("render template: %w", err)
	}
	return html, subject, topic, nil
}

// Export prints the topic to PDF and, when an uploader is configured,
// stores it and returns a download URL.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	html, subject, topic, err := s.RenderHTML(ctx, req)
	if err != nil {
		return nil, err
	}
	pdf, err := s.printer.PrintPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Data:     pdf,
		Filename: filename(subject.Slug, topic.Slug),
		MimeType: "application/pdf",
	}
	if s.uploader == nil {
		return result, nil
	}

	key := fmt.Sprintf("topics/%s/%d-%s", topic.ID, s.now().Unix(), result.Filename)
	url, expires, err := s.uploader.Upload(ctx, key, pdf, result.MimeType)
	if err != nil {
		// The PDF is still returned inline.
		s.logger.Warn("export upload failed", zap.String("topic_id", topic.ID), zap.Error(err))
		return result, nil
	}
	result.URL = url
	result.ExpiresAt = expires
	return result, nil
}
