package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// QueueEntry is one member of a user's ordered task set.
type QueueEntry struct {
	TaskID string
	Score  float64
}

// QueueRepository stores each user's ordered set of pending task IDs and
// the single current-task pointer. Every operation is a single statement,
// so operations for one user are atomic without an application lock.
type QueueRepository struct {
	db Querier
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db Querier) *QueueRepository {
	return &QueueRepository{db: db}
}

// WithTx returns a copy of the repository bound to tx.
func (r *QueueRepository) WithTx(tx pgx.Tx) *QueueRepository {
	return &QueueRepository{db: tx}
}

// Add inserts taskID with score, or replaces the score when already present.
// A re-added task keeps its original insertion order among equal scores.
func (r *QueueRepository) Add(ctx context.Context, userID, taskID string, score float64) error {
	query, args, err := psql.
		Insert("queue_entries").
		Columns("user_id", "task_id", "score").
		Values(userID, taskID, score).
		Suffix("ON CONFLICT (user_id, task_id) DO UPDATE SET score = EXCLUDED.score").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Add query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("add queue entry: %w", err)
	}
	return nil
}

// PopHighest atomically removes and returns the highest-scored entry.
// Equal scores pop in insertion order. Returns nil when the queue is empty.
// Concurrent pops for the same user never return the same entry.
func (r *QueueRepository) PopHighest(ctx context.Context, userID string) (*QueueEntry, error) {
	var entry QueueEntry
	err := r.db.QueryRow(ctx, `
		DELETE FROM queue_entries
		WHERE (user_id, task_id) = (
			SELECT user_id, task_id
			FROM queue_entries
			WHERE user_id = $1
			ORDER BY score DESC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING task_id, score
	`, userID).Scan(&entry.TaskID, &entry.Score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop queue entry: %w", err)
	}
	return &entry, nil
}

// PeekTop returns up to n entries in pop order without removing them.
// n <= 0 returns every entry.
func (r *QueueRepository) PeekTop(ctx context.Context, userID string, n int) ([]QueueEntry, error) {
	qb := psql.
		Select("task_id", "score").
		From("queue_entries").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("score DESC", "seq ASC")
	if n > 0 {
		qb = qb.Limit(uint64(n))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build PeekTop query: %w", err)
	}
	return r.queryEntries(ctx, query, args...)
}

// LockEntries returns the user's entries locked FOR UPDATE. Entries held by
// another transaction (a pop or a status change in flight) are skipped.
// Must run within a transaction.
func (r *QueueRepository) LockEntries(ctx context.Context, userID string) ([]QueueEntry, error) {
	query, args, err := psql.
		Select("task_id", "score").
		From("queue_entries").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("task_id").
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build LockEntries query: %w", err)
	}
	return r.queryEntries(ctx, query, args...)
}

func (r *QueueRepository) queryEntries(ctx context.Context, query string, args ...any) ([]QueueEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue entries: %w", err)
	}
	defer rows.Close()

	entries := []QueueEntry{}
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.TaskID, &e.Score); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}

// Remove deletes taskID from the queue and reports whether it was present.
func (r *QueueRepository) Remove(ctx context.Context, userID, taskID string) (bool, error) {
	query, args, err := psql.
		Delete("queue_entries").
		Where(sq.Eq{"user_id": userID, "task_id": taskID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build Remove query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("remove queue entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Len returns the number of entries in the user's queue.
func (r *QueueRepository) Len(ctx context.Context, userID string) (int, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("queue_entries").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build Len query: %w", err)
	}

	var n int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return n, nil
}

// UpdateScores rewrites the scores of entries that are still queued.
// Task IDs no longer in the queue are ignored.
func (r *QueueRepository) UpdateScores(ctx context.Context, userID string, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for taskID, score := range scores {
		query, args, err := psql.
			Update("queue_entries").
			Set("score", score).
			Where(sq.Eq{"user_id": userID, "task_id": taskID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build UpdateScores query: %w", err)
		}
		batch.Queue(query, args...)
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update queue scores: %w", err)
	}
	return nil
}

// UsersWithEntries lists every user that has at least one queued task.
func (r *QueueRepository) UsersWithEntries(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT user_id FROM queue_entries`)
	if err != nil {
		return nil, fmt.Errorf("query queue users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan queue user: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return users, nil
}

// SetCurrent overwrites the user's current-task pointer.
func (r *QueueRepository) SetCurrent(ctx context.Context, userID, taskID string) error {
	query, args, err := psql.
		Insert("current_tasks").
		Columns("user_id", "task_id").
		Values(userID, taskID).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET task_id = EXCLUDED.task_id, updated_at = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("build SetCurrent query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("set current task: %w", err)
	}
	return nil
}

// GetCurrent returns the user's current task ID, or "" when none is set.
func (r *QueueRepository) GetCurrent(ctx context.Context, userID string) (string, error) {
	query, args, err := psql.
		Select("task_id").
		From("current_tasks").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build GetCurrent query: %w", err)
	}

	var taskID string
	if err := r.db.QueryRow(ctx, query, args...).Scan(&taskID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get current task: %w", err)
	}
	return taskID, nil
}

// ClearCurrent removes the user's current-task pointer.
func (r *QueueRepository) ClearCurrent(ctx context.Context, userID string) error {
	return r.clearCurrent(ctx, sq.Eq{"user_id": userID})
}

// ClearCurrentIf removes the pointer only while it still points at taskID.
func (r *QueueRepository) ClearCurrentIf(ctx context.Context, userID, taskID string) error {
	return r.clearCurrent(ctx, sq.Eq{"user_id": userID, "task_id": taskID})
}

func (r *QueueRepository) clearCurrent(ctx context.Context, where sq.Eq) error {
	query, args, err := psql.Delete("current_tasks").Where(where).ToSql()
	if err != nil {
		return fmt.Errorf("build ClearCurrent query: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("clear current task: %w", err)
	}
	return nil
}
