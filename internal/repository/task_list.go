package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mtlprog/deepflow/internal/domain"
)

// TaskListFilters holds all supported filters for task listing.
type TaskListFilters struct {
	OwnerID    string   // Required: filter by owner
	Statuses   []string // Optional: filter by status
	Categories []string // Optional: filter by category
	ContextTag string   // Optional: tasks carrying this context tag
	Overdue    bool     // Optional: show only tasks past their deadline
	Sort       []string // Optional: sort fields (with - prefix for DESC)
	Limit      int      // Required: page size
	Offset     int      // Required: page offset
}

// TaskListResult holds a task with computed fields.
type TaskListResult struct {
	Task      *domain.Task
	IsOverdue bool
}

// sortableTaskColumns guards ORDER BY against arbitrary input.
var sortableTaskColumns = map[string]string{
	"priority_score": "priority_score",
	"urgency":        "urgency",
	"created_at":     "created_at",
	"updated_at":     "updated_at",
	"deadline":       "deadline",
	"category":       "CASE category WHEN 'critical' THEN 1 WHEN 'urgent' THEN 2 WHEN 'standard' THEN 3 WHEN 'low' THEN 4 ELSE 5 END",
}

// ValidSortField reports whether field (optionally prefixed by "-") can be sorted on.
func ValidSortField(field string) bool {
	_, ok := sortableTaskColumns[strings.TrimPrefix(field, "-")]
	return ok
}

func applyTaskFilters(qb sq.SelectBuilder, filters TaskListFilters) sq.SelectBuilder {
	qb = qb.Where(sq.Eq{"owner_id": filters.OwnerID})
	if len(filters.Statuses) > 0 {
		qb = qb.Where(sq.Eq{"status": filters.Statuses})
	}
	if len(filters.Categories) > 0 {
		qb = qb.Where(sq.Eq{"category": filters.Categories})
	}
	if filters.ContextTag != "" {
		qb = qb.Where("EXISTS (SELECT 1 FROM unnest(context_tags) tag WHERE lower(tag) = lower(?))", filters.ContextTag)
	}
	if filters.Overdue {
		qb = qb.Where("deadline < NOW()").Where(sq.NotEq{"status": domain.TaskStatusCompleted})
	}
	return qb
}

// List retrieves tasks with filters and pagination.
func (r *TaskRepository) List(ctx context.Context, filters TaskListFilters) ([]TaskListResult, int, error) {
	qb := applyTaskFilters(psql.Select(taskColumns...).From("tasks"), filters)

	// Default: highest score first, then oldest
	if len(filters.Sort) == 0 {
		qb = qb.OrderBy("priority_score DESC", "created_at ASC")
	} else {
		for _, sort := range filters.Sort {
			dir := "ASC"
			field := sort
			if strings.HasPrefix(sort, "-") {
				dir = "DESC"
				field = sort[1:]
			}
			column, ok := sortableTaskColumns[field]
			if !ok {
				return nil, 0, fmt.Errorf("unsupported sort field %q", field)
			}
			qb = qb.OrderBy(column + " " + dir)
		}
	}

	qb = qb.Limit(uint64(filters.Limit)).Offset(uint64(filters.Offset))

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build List query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query tasks: %w", err)
	}

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, 0, err
	}

	countQuery, countArgs, err := applyTaskFilters(psql.Select("COUNT(*)").From("tasks"), filters).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	now := time.Now()
	results := make([]TaskListResult, len(tasks))
	for i, task := range tasks {
		results[i] = TaskListResult{
			Task:      task,
			IsOverdue: task.Deadline != nil && task.Deadline.Before(now) && task.Status != domain.TaskStatusCompleted,
		}
	}

	return results, total, nil
}
