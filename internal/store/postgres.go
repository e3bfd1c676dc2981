package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, display_name, email, password_hash, role, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// UpsertUser creates the user or refreshes name, hash and role of an
// existing one with the same email.
func (s *PostgresStore) UpsertUser(ctx context.Context, user User) (User, error) {
	out, err := scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name, email, password_hash, role)
		VALUES ($1, lower($2), $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET display_name = EXCLUDED.display_name,
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			updated_at = NOW()
		RETURNING `+userColumns,
		user.DisplayName, user.Email, user.PasswordHash, user.Role))
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return out, nil
}

// --- subjects ---

const subjectColumns = `id, title, slug, rank, updated_by_name, created_at, updated_at`

func scanSubject(row rowScanner) (Subject, error) {
	var item Subject
	err := row.Scan(&item.ID, &item.Title, &item.Slug, &item.Rank, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) ListSubjects(ctx context.Context) ([]Subject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subjectColumns+` FROM subjects ORDER BY rank ASC`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	items := make([]Subject, 0)
	for rows.Next() {
		item, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSubject(ctx context.Context, subjectID string) (Subject, error) {
	return scanSubject(s.db.QueryRowContext(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE id = $1`, subjectID))
}

// InsertSubject stores item at pos; item.Rank is ignored and replaced by the
// placed rank.
func (s *PostgresStore) InsertSubject(ctx context.Context, item Subject, pos Position, place Placer) (Subject, error) {
	var out Subject
	err := s.withScopeLock(ctx, SubjectScope(), func(tx *sql.Tx) error {
		r, err := placeIn(ctx, tx, SubjectScope(), pos, "", place)
		if err != nil {
			return err
		}
		out, err = scanSubject(tx.QueryRowContext(ctx, `
			INSERT INTO subjects (id, title, slug, rank, updated_by_name)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+subjectColumns,
			item.ID, item.Title, item.Slug, r, item.UpdatedBy))
		if err != nil {
			return fmt.Errorf("insert subject: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *PostgresStore) UpdateSubject(ctx context.Context, item Subject) (Subject, error) {
	out, err := scanSubject(s.db.QueryRowContext(ctx, `
		UPDATE subjects
		SET title = $2, slug = $3, updated_by_name = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+subjectColumns,
		item.ID, item.Title, item.Slug, item.UpdatedBy))
	if err != nil {
		return Subject{}, wrapNotFound("update subject", err)
	}
	return out, nil
}

func (s *PostgresStore) MoveSubject(ctx context.Context, subjectID string, pos Position, place Placer, updatedBy string) (Subject, error) {
	var out Subject
	err := s.withScopeLock(ctx, SubjectScope(), func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "subjects", subjectID); err != nil {
			return err
		}
		r, err := placeIn(ctx, tx, SubjectScope(), pos, subjectID, place)
		if err != nil {
			return err
		}
		out, err = scanSubject(tx.QueryRowContext(ctx, `
			UPDATE subjects SET rank = $2, updated_by_name = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING `+subjectColumns,
			subjectID, r, updatedBy))
		if err != nil {
			return fmt.Errorf("move subject: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *PostgresStore) DeleteSubject(ctx context.Context, subjectID string) error {
	return execOne(ctx, s.db, "delete subject", `DELETE FROM subjects WHERE id = $1`, subjectID)
}

// --- topics ---

const topicColumns = `id, subject_id, title, slug, rank, updated_by_name, created_at, updated_at`

func scanTopic(row rowScanner) (Topic, error) {
	var item Topic
	err := row.Scan(&item.ID, &item.SubjectID, &item.Title, &item.Slug, &item.Rank, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) ListTopics(ctx context.Context, subjectID string) ([]Topic, error) {
	return s.queryTopics(ctx, `SELECT `+topicColumns+` FROM topics WHERE subject_id = $1 ORDER BY rank ASC`, subjectID)
}

// ListAllTopics returns every topic ordered by subject rank, then topic rank.
func (s *PostgresStore) ListAllTopics(ctx context.Context) ([]Topic, error) {
	return s.queryTopics(ctx, `
		SELECT t.id, t.subject_id, t.title, t.slug, t.rank, t.updated_by_name, t.created_at, t.updated_at
		FROM topics t
		JOIN subjects s ON s.id = t.subject_id
		ORDER BY s.rank ASC, t.rank ASC`)
}

func (s *PostgresStore) queryTopics(ctx context.Context, query string, args ...any) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	items := make([]Topic, 0)
	for rows.Next() {
		item, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTopic(ctx context.Context, topicID string) (Topic, error) {
	return scanTopic(s.db.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = $1`, topicID))
}

func (s *PostgresStore) InsertTopic(ctx context.Context, item Topic, pos Position, place Placer) (Topic, error) {
	scope := TopicScope(item.SubjectID)
	var out Topic
	err := s.withScopeLock(ctx, scope, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "subjects", item.SubjectID); err != nil {
			return err
		}
		r, err := placeIn(ctx, tx, scope, pos, "", place)
		if err != nil {
			return err
		}
		out, err = scanTopic(tx.QueryRowContext(ctx, `
			INSERT INTO topics (id, subject_id, title, slug, rank, updated_by_name)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+topicColumns,
			item.ID, item.SubjectID, item.Title, item.Slug, r, item.UpdatedBy))
		if err != nil {
			return fmt.Errorf("insert topic: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *PostgresStore) UpdateTopic(ctx context.Context, item Topic) (Topic, error) {
	out, err := scanTopic(s.db.QueryRowContext(ctx, `
		UPDATE topics
		SET title = $2, slug = $3, updated_by_name = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+topicColumns,
		item.ID, item.Title, item.Slug, item.UpdatedBy))
	if err != nil {
		return Topic{}, wrapNotFound("update topic", err)
	}
	return out, nil
}

// MoveTopic re-ranks the topic inside subjectID, moving it there first when
// it currently belongs to another subject.
func (s *PostgresStore) MoveTopic(ctx context.Context, topicID, subjectID string, pos Position, place Placer, updatedBy string) (Topic, error) {
	scope := TopicScope(subjectID)
	var out Topic
	err := s.withScopeLock(ctx, scope, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "topics", topicID); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "subjects", subjectID); err != nil {
			return err
		}
		r, err := placeIn(ctx, tx, scope, pos, topicID, place)
		if err != nil {
			return err
		}
		out, err = scanTopic(tx.QueryRowContext(ctx, `
			UPDATE topics SET subject_id = $2, rank = $3, updated_by_name = $4, updated_at = NOW()
			WHERE id = $1
			RETURNING `+topicColumns,
			topicID, subjectID, r, updatedBy))
		if err != nil {
			return fmt.Errorf("move topic: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *PostgresStore) DeleteTopic(ctx context.Context, topicID string) error {
	return execOne(ctx, s.db, "delete topic", `DELETE FROM topics WHERE id = $1`, topicID)
}

// --- articles ---

const articleColumns = `id, topic_id, title, slug, rank, body, published, file_path, file_sha, updated_by_name, created_at, updated_at`

func scanArticle(row rowScanner) (Article, error) {
	var item Article
	err := row.Scan(
		&item.ID,
		&item.TopicID,
		&item.Title,
		&item.Slug,
		&item.Rank,
		&item.Body,
		&item.Published,
		&item.FilePath,
		&item.FileSHA,
		&item.UpdatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListArticles(ctx context.Context, topicID string) ([]Article, error) {
	return s.queryArticles(ctx, `SELECT `+articleColumns+` FROM articles WHERE topic_id = $1 ORDER BY rank ASC`, topicID)
}

// ListAllArticles returns every article in tree order.
func (s *PostgresStore) ListAllArticles(ctx context.Context) ([]Article, error) {
	return s.queryArticles(ctx, `
		SELECT a.id, a.topic_id, a.title, a.slug, a.rank, a.body, a.published, a.file_path, a.file_sha, a.updated_by_name, a.created_at, a.updated_at
		FROM articles a
		JOIN topics t ON t.id = a.topic_id
		JOIN subjects s ON s.id = t.subject_id
		ORDER BY s.rank ASC, t.rank ASC, a.rank ASC`)
}

func (s *PostgresStore) queryArticles(ctx context.Context, query string, args ...any) ([]Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		item, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, articleID string) (Article, error) {
	return scanArticle(s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, articleID))
}

func (s *PostgresStore) InsertArticle(ctx context.Context, item Article, pos Position, place Placer) (Article, error) {
	scope := ArticleScope(item.TopicID)
	var out Article
	err := s.withScopeLock(ctx, scope, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "topics", item.TopicID); err != nil {
			return err
		}
		r, err := placeIn(ctx, tx, scope, pos, "", place)
		if err != nil {
			return err
		}
		out, err = scanArticle(tx.QueryRowContext(ctx, `
			INSERT INTO articles (id, topic_id, title, slug, rank, body, published, file_path, file_sha, updated_by_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+articleColumns,
			item.ID, item.TopicID, item.Title, item.Slug, r, item.Body, item.Published, item.FilePath, item.FileSHA, item.UpdatedBy))
		if err != nil {
			return fmt.Errorf("insert article: %w", err)
		}
		return nil
	})
	return out, err
}

// UpdateArticle rewrites the editable fields. Rank and topic are left to
// MoveArticle.
func (s *PostgresStore) UpdateArticle(ctx context.Context, item Article) (Article, error) {
	out, err := scanArticle(s.db.QueryRowContext(ctx, `
		UPDATE articles
		SET title = $2, slug = $3, body = $4, published = $5, updated_by_name = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING `+articleColumns,
		item.ID, item.Title, item.Slug, item.Body, item.Published, item.UpdatedBy))
	if err != nil {
		return Article{}, wrapNotFound("update article", err)
	}
	return out, nil
}

// SetArticleFile records where the article body is mirrored.
func (s *PostgresStore) SetArticleFile(ctx context.Context, articleID, path, sha string) error {
	return execOne(ctx, s.db, "set article file",
		`UPDATE articles SET file_path = $2, file_sha = $3 WHERE id = $1`, articleID, path, sha)
}

func (s *PostgresStore) MoveArticle(ctx context.Context, articleID, topicID string, pos Position, place Placer, updatedBy string) (Article, error) {
	scope := ArticleScope(topicID)
	var out Article
	err := s.withScopeLock(ctx, scope, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "articles", articleID); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "topics", topicID); err != nil {
			return err
		}
		r, err := placeIn(ctx, tx, scope, pos, articleID, place)
		if err != nil {
			return err
		}
		out, err = scanArticle(tx.QueryRowContext(ctx, `
			UPDATE articles SET topic_id = $2, rank = $3, updated_by_name = $4, updated_at = NOW()
			WHERE id = $1
			RETURNING `+articleColumns,
			articleID, topicID, r, updatedBy))
		if err != nil {
			return fmt.Errorf("move article: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, articleID string) error {
	return execOne(ctx, s.db, "delete article", `DELETE FROM articles WHERE id = $1`, articleID)
}

// GetArticleLocation returns the slugs that make up the article's mirror path.
func (s *PostgresStore) GetArticleLocation(ctx context.Context, articleID string) (ArticleLocation, error) {
	var loc ArticleLocation
	err := s.db.QueryRowContext(ctx, `
		SELECT s.slug, t.slug, a.slug
		FROM articles a
		JOIN topics t ON t.id = a.topic_id
		JOIN subjects s ON s.id = t.subject_id
		WHERE a.id = $1
	`, articleID).Scan(&loc.SubjectSlug, &loc.TopicSlug, &loc.ArticleSlug)
	if err != nil {
		return ArticleLocation{}, err
	}
	return loc, nil
}

// --- helpers ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execOne runs a statement that must touch exactly one row and reports
// sql.ErrNoRows otherwise.
func execOne(ctx context.Context, db execer, op, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// requireRow locks the row for the rest of the transaction and fails with
// sql.ErrNoRows when it is missing.
func requireRow(ctx context.Context, tx *sql.Tx, table, id string) error {
	var found string
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, table), id).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock %s %s: %w", table, id, err)
	}
	return nil
}

func wrapNotFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	return translateWriteError(fmt.Errorf("%s: %w", op, err))
}
