package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mtlprog/deepflow/internal/domain"
)

// StatsFilters holds filters for statistics queries.
type StatsFilters struct {
	UserID      string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// UserStatsResult holds task statistics for one user.
type UserStatsResult struct {
	TotalTasksCreated    int
	TasksCompleted       int
	TasksByStatus        map[string]int
	TasksByCategory      map[string]int
	OverdueCount         int
	AvgCompletionMinutes float64
}

// GetUserStats retrieves task statistics for a user over a period.
// Status and category breakdowns reflect current state, not history.
func (r *TaskRepository) GetUserStats(ctx context.Context, filters StatsFilters) (*UserStatsResult, error) {
	result := &UserStatsResult{
		TasksByStatus:   make(map[string]int),
		TasksByCategory: make(map[string]int),
	}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(CASE WHEN created_at >= $2 AND created_at <= $3 THEN 1 END),
			COUNT(CASE WHEN completed_at >= $2 AND completed_at <= $3 THEN 1 END),
			COALESCE(AVG(CASE WHEN completed_at >= $2 AND completed_at <= $3
				THEN EXTRACT(EPOCH FROM (completed_at - created_at)) / 60 END), 0),
			COUNT(CASE WHEN status <> $4 AND deadline < NOW() THEN 1 END)
		FROM tasks
		WHERE owner_id = $1
	`, filters.UserID, filters.PeriodStart, filters.PeriodEnd, domain.TaskStatusCompleted).Scan(
		&result.TotalTasksCreated,
		&result.TasksCompleted,
		&result.AvgCompletionMinutes,
		&result.OverdueCount,
	)
	if err != nil {
		return nil, fmt.Errorf("query user task totals: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT status, category, COUNT(*)
		FROM tasks
		WHERE owner_id = $1
		GROUP BY status, category
	`, filters.UserID)
	if err != nil {
		return nil, fmt.Errorf("query tasks by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, category string
		var count int
		if err := rows.Scan(&status, &category, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		result.TasksByStatus[status] += count
		result.TasksByCategory[category] += count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status rows: %w", err)
	}

	return result, nil
}
