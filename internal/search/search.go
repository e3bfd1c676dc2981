// Package search indexes the content tree in Meilisearch and falls back to
// PostgreSQL pattern matching when Meilisearch is unavailable.
package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSubject ResultType = "subject"
	ResultTopic   ResultType = "topic"
	ResultArticle ResultType = "article"
)

func (t ResultType) Valid() bool {
	return t == ResultSubject || t == ResultTopic || t == ResultArticle
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	SubjectID string     `json:"subjectId,omitempty"`
	TopicID   string     `json:"topicId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
	// PublishedOnly hides unpublished articles.
	PublishedOnly bool
}

func (q Query) normalized() Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a search backend that can also store records.
type Index interface {
	Searcher
	IndexSubjects(records []SubjectRecord) error
	IndexTopics(records []TopicRecord) error
	IndexArticles(records []ArticleRecord) error
	Delete(kind ResultType, id string) error
}

// Loader reads every searchable record, used for full reindexing.
type Loader interface {
	LoadSubjects(ctx context.Context) ([]SubjectRecord, error)
	LoadTopics(ctx context.Context) ([]TopicRecord, error)
	LoadArticles(ctx context.Context) ([]ArticleRecord, error)
}

type SubjectRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

type TopicRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	SubjectID string `json:"subjectId"`
}

type ArticleRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	Body      string `json:"body"`
	TopicID   string `json:"topicId"`
	SubjectID string `json:"subjectId"`
	Published bool   `json:"published"`
}
