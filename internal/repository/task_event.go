package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/deepflow/internal/domain"
)

// TaskEventRepository handles database operations for task events.
type TaskEventRepository struct {
	pool *pgxpool.Pool
}

// NewTaskEventRepository creates a new TaskEventRepository.
func NewTaskEventRepository(pool *pgxpool.Pool) *TaskEventRepository {
	return &TaskEventRepository{pool: pool}
}

// Create records a task event inside the caller's transaction.
func (r *TaskEventRepository) Create(ctx context.Context, tx pgx.Tx, event *domain.TaskEvent) error {
	query, args, err := psql.
		Insert("task_events").
		Columns("task_id", "user_id", "type", "old_status", "new_status", "score").
		Values(event.TaskID, event.UserID, event.Type, event.OldStatus, event.NewStatus, event.Score).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&event.ID, &event.CreatedAt); err != nil {
		return fmt.Errorf("create task event: %w", err)
	}

	return nil
}

// GetByTaskID retrieves all events for a task, oldest first.
func (r *TaskEventRepository) GetByTaskID(ctx context.Context, taskID string) ([]*domain.TaskEvent, error) {
	query, args, err := psql.
		Select("id", "task_id", "user_id", "type", "old_status", "new_status", "score", "created_at").
		From("task_events").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer rows.Close()

	var events []*domain.TaskEvent
	for rows.Next() {
		var event domain.TaskEvent
		err := rows.Scan(
			&event.ID,
			&event.TaskID,
			&event.UserID,
			&event.Type,
			&event.OldStatus,
			&event.NewStatus,
			&event.Score,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}
