package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher with ILIKE matching backed by the pg_trgm
// indexes, and Loader for reindexing.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = q.normalized()

	query, args := buildFallbackQuery(q)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.SubjectID, &r.TopicID, &total); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// buildFallbackQuery unions the matching rows of the selected kinds. Title
// matches rank before body matches, then tree order.
func buildFallbackQuery(q Query) (string, []any) {
	pattern := "%" + escapeLike(strings.TrimSpace(q.Text)) + "%"
	args := []any{pattern}

	var parts []string
	if q.FilterType == "" || q.FilterType == ResultSubject {
		parts = append(parts, `
			SELECT 'subject'::text AS type, s.id, s.title, s.slug AS snippet, s.id AS subject_id, ''::text AS topic_id,
				0 AS weight, s.rank AS r1, ''::text AS r2, ''::text AS r3
			FROM subjects s
			WHERE s.title ILIKE $1`)
	}
	if q.FilterType == "" || q.FilterType == ResultTopic {
		parts = append(parts, `
			SELECT 'topic'::text, t.id, t.title, t.slug, t.subject_id, t.id,
				0, s.rank, t.rank, ''::text
			FROM topics t
			JOIN subjects s ON s.id = t.subject_id
			WHERE t.title ILIKE $1`)
	}
	if q.FilterType == "" || q.FilterType == ResultArticle {
		published := ""
		if q.PublishedOnly {
			published = " AND a.published"
		}
		parts = append(parts, `
			SELECT 'article'::text, a.id, a.title, left(a.body, 200), t.subject_id, a.topic_id,
				CASE WHEN a.title ILIKE $1 THEN 0 ELSE 1 END, s.rank, t.rank, a.rank
			FROM articles a
			JOIN topics t ON t.id = a.topic_id
			JOIN subjects s ON s.id = t.subject_id
			WHERE (a.title ILIKE $1 OR a.body ILIKE $1)`+published)
	}

	args = append(args, q.Limit, q.Offset)
	query := fmt.Sprintf(`
		SELECT type, id, title, snippet, subject_id, topic_id, COUNT(*) OVER () AS total
		FROM (%s) hits
		ORDER BY weight ASC, r1 ASC, r2 ASC, r3 ASC
		LIMIT $2 OFFSET $3`, strings.Join(parts, "\n\t\t\tUNION ALL"))
	return query, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (p *PgFTS) LoadSubjects(ctx context.Context) ([]SubjectRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, title, slug FROM subjects`)
	if err != nil {
		return nil, fmt.Errorf("load subjects: %w", err)
	}
	defer rows.Close()

	records := make([]SubjectRecord, 0)
	for rows.Next() {
		var r SubjectRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Slug); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (p *PgFTS) LoadTopics(ctx context.Context) ([]TopicRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, title, slug, subject_id FROM topics`)
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}
	defer rows.Close()

	records := make([]TopicRecord, 0)
	for rows.Next() {
		var r TopicRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Slug, &r.SubjectID); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (p *PgFTS) LoadArticles(ctx context.Context) ([]ArticleRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.title, a.slug, a.body, a.topic_id, t.subject_id, a.published
		FROM articles a
		JOIN topics t ON t.id = a.topic_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load articles: %w", err)
	}
	defer rows.Close()

	records := make([]ArticleRecord, 0)
	for rows.Next() {
		var r ArticleRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Slug, &r.Body, &r.TopicID, &r.SubjectID, &r.Published); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
