package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInvalidPosition means the requested neighbours do not describe a
	// gap in the scope: unknown ids, ids from another scope, the moved item
	// itself, neighbours that are not adjacent, or an inverted pair.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrRankConflict means another writer stored the same rank in the scope
	// first. Retrying with fresh neighbours resolves it.
	ErrRankConflict = errors.New("rank conflict")
	// ErrDuplicateSlug means the slug is already used by a sibling.
	ErrDuplicateSlug = errors.New("duplicate slug")
)

const uniqueViolation = "23505"

type scopeTable struct {
	table     string
	parentCol string
}

func tableFor(kind Kind) (scopeTable, error) {
	switch kind {
	case KindSubject:
		return scopeTable{table: "subjects"}, nil
	case KindTopic:
		return scopeTable{table: "topics", parentCol: "subject_id"}, nil
	case KindArticle:
		return scopeTable{table: "articles", parentCol: "topic_id"}, nil
	default:
		return scopeTable{}, fmt.Errorf("unknown scope kind %q", kind)
	}
}

// filter returns the scope predicate using placeholder $n.
func (t scopeTable) filter(scope Scope, n int) (string, []any) {
	if t.parentCol == "" {
		return "TRUE", nil
	}
	return fmt.Sprintf("%s = $%d", t.parentCol, n), []any{scope.ParentID}
}

// withScopeLock runs fn in a transaction holding the scope's advisory lock,
// so read-neighbours / compute / write happens without a concurrent writer
// slipping into the same gap.
func (s *PostgresStore) withScopeLock(ctx context.Context, scope Scope, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scope tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope.Key()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lock scope %s: %w", scope.Key(), err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return translateWriteError(err)
	}
	if err := tx.Commit(); err != nil {
		return translateWriteError(fmt.Errorf("commit scope tx: %w", err))
	}
	return nil
}

func translateWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "subjects_rank_unique", "topics_rank_unique", "articles_rank_unique":
		return fmt.Errorf("%w: %s", ErrRankConflict, pgErr.ConstraintName)
	case "subjects_slug_key", "topics_slug_unique", "articles_slug_unique":
		return fmt.Errorf("%w: %s", ErrDuplicateSlug, pgErr.ConstraintName)
	}
	return err
}

// Neighbours resolves pos to the ranks around the target gap inside scope:
// before is the rank that will follow the item, after the rank that will
// precede it. excludeID is skipped by every lookup so an item can be moved
// relative to its current neighbours.
func Neighbours(ctx context.Context, tx *sql.Tx, scope Scope, pos Position, excludeID string) (before, after string, err error) {
	t, err := tableFor(scope.Kind)
	if err != nil {
		return "", "", err
	}
	if excludeID != "" && (pos.AfterID == excludeID || pos.BeforeID == excludeID) {
		return "", "", fmt.Errorf("%w: item cannot be placed next to itself", ErrInvalidPosition)
	}

	switch {
	case pos.IsEnd():
		after, err = t.tail(ctx, tx, scope, excludeID)
	case pos.BeforeID == "":
		if after, err = t.rankOf(ctx, tx, scope, pos.AfterID); err == nil {
			before, err = t.successor(ctx, tx, scope, after, excludeID)
		}
	case pos.AfterID == "":
		if before, err = t.rankOf(ctx, tx, scope, pos.BeforeID); err == nil {
			after, err = t.predecessor(ctx, tx, scope, before, excludeID)
		}
	default:
		if after, err = t.rankOf(ctx, tx, scope, pos.AfterID); err != nil {
			return "", "", err
		}
		if before, err = t.rankOf(ctx, tx, scope, pos.BeforeID); err != nil {
			return "", "", err
		}
		if after >= before {
			return "", "", fmt.Errorf("%w: %s does not precede %s", ErrInvalidPosition, pos.AfterID, pos.BeforeID)
		}
		var between int
		between, err = t.countBetween(ctx, tx, scope, after, before, excludeID)
		if err == nil && between > 0 {
			err = fmt.Errorf("%w: %s and %s are not adjacent", ErrInvalidPosition, pos.AfterID, pos.BeforeID)
		}
	}
	if err != nil {
		return "", "", err
	}
	return before, after, nil
}

func placeIn(ctx context.Context, tx *sql.Tx, scope Scope, pos Position, movingID string, place Placer) (string, error) {
	before, after, err := Neighbours(ctx, tx, scope, pos, movingID)
	if err != nil {
		return "", err
	}
	return place(before, after)
}

func (t scopeTable) rankOf(ctx context.Context, tx *sql.Tx, scope Scope, id string) (string, error) {
	where, args := t.filter(scope, 2)
	query := fmt.Sprintf(`SELECT rank FROM %s WHERE id = $1 AND %s`, t.table, where)
	var value string
	err := tx.QueryRowContext(ctx, query, append([]any{id}, args...)...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s is not in %s", ErrInvalidPosition, id, scope.Key())
	}
	if err != nil {
		return "", fmt.Errorf("read rank of %s: %w", id, err)
	}
	return value, nil
}

func (t scopeTable) tail(ctx context.Context, tx *sql.Tx, scope Scope, excludeID string) (string, error) {
	where, args := t.filter(scope, 2)
	query := fmt.Sprintf(`SELECT rank FROM %s WHERE id <> $1 AND %s ORDER BY rank DESC LIMIT 1`, t.table, where)
	return optionalRank(tx.QueryRowContext(ctx, query, append([]any{excludeID}, args...)...))
}

func (t scopeTable) successor(ctx context.Context, tx *sql.Tx, scope Scope, after, excludeID string) (string, error) {
	where, args := t.filter(scope, 3)
	query := fmt.Sprintf(`SELECT rank FROM %s WHERE rank > $1 AND id <> $2 AND %s ORDER BY rank ASC LIMIT 1`, t.table, where)
	return optionalRank(tx.QueryRowContext(ctx, query, append([]any{after, excludeID}, args...)...))
}

func (t scopeTable) predecessor(ctx context.Context, tx *sql.Tx, scope Scope, before, excludeID string) (string, error) {
	where, args := t.filter(scope, 3)
	query := fmt.Sprintf(`SELECT rank FROM %s WHERE rank < $1 AND id <> $2 AND %s ORDER BY rank DESC LIMIT 1`, t.table, where)
	return optionalRank(tx.QueryRowContext(ctx, query, append([]any{before, excludeID}, args...)...))
}

func (t scopeTable) countBetween(ctx context.Context, tx *sql.Tx, scope Scope, after, before, excludeID string) (int, error) {
	where, args := t.filter(scope, 4)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE rank > $1 AND rank < $2 AND id <> $3 AND %s`, t.table, where)
	var count int
	if err := tx.QueryRowContext(ctx, query, append([]any{after, before, excludeID}, args...)...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count ranks between: %w", err)
	}
	return count, nil
}

func optionalRank(row *sql.Row) (string, error) {
	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read neighbour rank: %w", err)
	}
	return value, nil
}

// RebalanceScope rewrites every rank in scope in one transaction. The
// unique constraints are deferred so old and new values may overlap while
// rows are being rewritten.
func (s *PostgresStore) RebalanceScope(ctx context.Context, scope Scope, rebalance Rebalancer) (int, error) {
	t, err := tableFor(scope.Kind)
	if err != nil {
		return 0, err
	}
	count := 0
	err = s.withScopeLock(ctx, scope, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SET CONSTRAINTS ALL DEFERRED`); err != nil {
			return fmt.Errorf("defer constraints: %w", err)
		}
		where, args := t.filter(scope, 1)
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id, rank FROM %s WHERE %s ORDER BY rank ASC`, t.table, where), args...)
		if err != nil {
			return fmt.Errorf("list scope ranks: %w", err)
		}
		var ids, ranks []string
		for rows.Next() {
			var id, value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return fmt.Errorf("scan scope rank: %w", err)
			}
			ids = append(ids, id)
			ranks = append(ranks, value)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate scope ranks: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		replacement, err := rebalance(ranks)
		if err != nil {
			return err
		}
		if len(replacement) != len(ids) {
			return fmt.Errorf("rebalance returned %d ranks for %d items", len(replacement), len(ids))
		}
		update := fmt.Sprintf(`UPDATE %s SET rank = $2, updated_at = NOW() WHERE id = $1`, t.table)
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, update, id, replacement[i]); err != nil {
				return fmt.Errorf("rewrite rank of %s: %w", id, err)
			}
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// LongestRank reports the longest rank stored in scope, in bytes.
func (s *PostgresStore) LongestRank(ctx context.Context, scope Scope) (int, error) {
	t, err := tableFor(scope.Kind)
	if err != nil {
		return 0, err
	}
	where, args := t.filter(scope, 1)
	var longest int
	query := fmt.Sprintf(`SELECT COALESCE(MAX(length(rank)), 0) FROM %s WHERE %s`, t.table, where)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&longest); err != nil {
		return 0, fmt.Errorf("longest rank in %s: %w", scope.Key(), err)
	}
	return longest, nil
}
