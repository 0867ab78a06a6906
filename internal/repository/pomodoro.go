package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/deepflow/internal/domain"
)

// PomodoroRepository handles database operations for pomodoro settings.
type PomodoroRepository struct {
	pool *pgxpool.Pool
}

// NewPomodoroRepository creates a new PomodoroRepository.
func NewPomodoroRepository(pool *pgxpool.Pool) *PomodoroRepository {
	return &PomodoroRepository{pool: pool}
}

// Get returns the user's saved settings, or nil if none were saved.
func (r *PomodoroRepository) Get(ctx context.Context, userID string) (*domain.PomodoroSettings, error) {
	query, args, err := psql.
		Select("work_minutes", "break_minutes").
		From("pomodoro_settings").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Get query for pomodoro settings: %w", err)
	}

	var s domain.PomodoroSettings
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&s.WorkMinutes, &s.BreakMinutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query pomodoro settings: %w", err)
	}
	return &s, nil
}

// Upsert saves the user's settings.
func (r *PomodoroRepository) Upsert(ctx context.Context, userID string, s domain.PomodoroSettings) error {
	query, args, err := psql.
		Insert("pomodoro_settings").
		Columns("user_id", "work_minutes", "break_minutes").
		Values(userID, s.WorkMinutes, s.BreakMinutes).
		Suffix(`ON CONFLICT (user_id) DO UPDATE
			SET work_minutes = EXCLUDED.work_minutes,
			    break_minutes = EXCLUDED.break_minutes,
			    updated_at = NOW()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Upsert query for pomodoro settings: %w", err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save pomodoro settings: %w", err)
	}
	return nil
}
