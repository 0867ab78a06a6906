package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/deepflow/internal/domain"
)

// taskColumns is the shared list of columns for task queries.
var taskColumns = []string{
	"id", "owner_id", "title", "summary", "suggested_action", "urgency",
	"category", "estimated_minutes", "deadline", "context_tags", "status",
	"priority_score", "created_at", "updated_at", "completed_at",
}

// TaskRepository handles database operations for tasks.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// scanTask scans a single row into a Task struct.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Title,
		&task.Summary,
		&task.SuggestedAction,
		&task.Urgency,
		&task.Category,
		&task.EstimatedMinutes,
		&task.Deadline,
		&task.ContextTags,
		&task.Status,
		&task.PriorityScore,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if task.ContextTags == nil {
		task.ContextTags = []string{}
	}
	return &task, nil
}

// scanTasks scans multiple rows into a slice of Task structs.
func scanTasks(rows pgx.Rows) ([]*domain.Task, error) {
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return tasks, nil
}

// GetByID retrieves a task by ID.
func (r *TaskRepository) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for task: %w", err)
	}

	return scanTask(r.pool.QueryRow(ctx, query, args...))
}

// GetByIDs retrieves the tasks of one owner with the given IDs, keyed by ID.
// Unknown IDs are simply absent from the result.
func (r *TaskRepository) GetByIDs(ctx context.Context, ownerID string, taskIDs []string) (map[string]*domain.Task, error) {
	result := make(map[string]*domain.Task, len(taskIDs))
	if len(taskIDs) == 0 {
		return result, nil
	}

	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"owner_id": ownerID, "id": taskIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDs query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks by ids: %w", err)
	}

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		result[t.ID] = t
	}
	return result, nil
}

// GetByIDsForUpdate locks the owner's tasks with the given IDs within tx.
// Rows already locked by another transaction are skipped and absent from
// the result.
func (r *TaskRepository) GetByIDsForUpdate(ctx context.Context, tx pgx.Tx, ownerID string, taskIDs []string) (map[string]*domain.Task, error) {
	result := make(map[string]*domain.Task, len(taskIDs))
	if len(taskIDs) == 0 {
		return result, nil
	}

	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"owner_id": ownerID, "id": taskIDs}).
		OrderBy("id").
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDsForUpdate query: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lock tasks by ids: %w", err)
	}

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		result[t.ID] = t
	}
	return result, nil
}

// GetByIDForUpdate retrieves a task by ID with FOR UPDATE lock (within transaction).
func (r *TaskRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (*domain.Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": taskID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDForUpdate query for task %s: %w", taskID, err)
	}

	return scanTask(tx.QueryRow(ctx, query, args...))
}

// UpdateStatus updates the task status with optimistic locking.
// Returns ErrInvalidTransition if the task was modified (oldStatus doesn't match).
func (r *TaskRepository) UpdateStatus(
	ctx context.Context,
	tx pgx.Tx,
	taskID string,
	oldStatus domain.TaskStatus,
	newStatus domain.TaskStatus,
	score float64,
	completedAt *time.Time,
) error {
	query, args, err := psql.
		Update("tasks").
		Set("status", newStatus).
		Set("priority_score", score).
		Set("completed_at", completedAt).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{
			"id":     taskID,
			"status": oldStatus,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build UpdateStatus query for task %s: %w", taskID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s is no longer %s", domain.ErrInvalidTransition, taskID, oldStatus)
	}

	return nil
}

// UpdateFields writes the non-status fields of a task: title, summary,
// urgency, category and score.
func (r *TaskRepository) UpdateFields(ctx context.Context, tx pgx.Tx, task *domain.Task) error {
	query, args, err := psql.
		Update("tasks").
		Set("title", task.Title).
		Set("summary", task.Summary).
		Set("urgency", task.Urgency).
		Set("category", task.Category).
		Set("priority_score", task.PriorityScore).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": task.ID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build UpdateFields query for task %s: %w", task.ID, err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&task.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrTaskNotFound
		}
		return fmt.Errorf("update task fields: %w", err)
	}
	return nil
}

// UpdateScores stores recalculated priority scores in one batch.
func (r *TaskRepository) UpdateScores(ctx context.Context, db Querier, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for taskID, score := range scores {
		query, args, err := psql.
			Update("tasks").
			Set("priority_score", score).
			Where(sq.Eq{"id": taskID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build UpdateScores query for task %s: %w", taskID, err)
		}
		batch.Queue(query, args...)
	}

	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update task scores: %w", err)
	}
	return nil
}

// Create creates a new task in the database within a transaction.
// Returns the created task with ID, CreatedAt, and UpdatedAt populated.
func (r *TaskRepository) Create(ctx context.Context, tx pgx.Tx, task *domain.Task) (*domain.Task, error) {
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}
	if task.ContextTags == nil {
		task.ContextTags = []string{}
	}

	query, args, err := psql.
		Insert("tasks").
		Columns(
			"owner_id", "title", "summary", "suggested_action", "urgency", "category",
			"estimated_minutes", "deadline", "context_tags", "status", "priority_score",
		).
		Values(
			task.OwnerID,
			task.Title,
			task.Summary,
			task.SuggestedAction,
			task.Urgency,
			task.Category,
			task.EstimatedMinutes,
			task.Deadline,
			task.ContextTags,
			task.Status,
			task.PriorityScore,
		).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for task: %w", err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return task, nil
}
