package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// FocusRecord is the raw stored focus state of a user. State is kept as
// stored; interpretation of unknown values is up to the caller.
type FocusRecord struct {
	State     string
	Context   string
	UpdatedAt time.Time
}

// FocusRepository persists per-user focus state and current context.
type FocusRepository struct {
	db Querier
}

// NewFocusRepository creates a new FocusRepository.
func NewFocusRepository(db Querier) *FocusRepository {
	return &FocusRepository{db: db}
}

// Get returns the stored record, or nil when the user never set one.
func (r *FocusRepository) Get(ctx context.Context, userID string) (*FocusRecord, error) {
	query, args, err := psql.
		Select("state", "current_context", "updated_at").
		From("focus_states").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Get query for focus state: %w", err)
	}

	var rec FocusRecord
	if err := r.db.QueryRow(ctx, query, args...).Scan(&rec.State, &rec.Context, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query focus state: %w", err)
	}
	return &rec, nil
}

// SetState stores state, keeping any existing context.
func (r *FocusRepository) SetState(ctx context.Context, userID, state string) error {
	return r.upsert(ctx, userID, state, "", "state = EXCLUDED.state")
}

// SetContext stores the current project context. A user without a stored
// state gets defaultState alongside it.
func (r *FocusRepository) SetContext(ctx context.Context, userID, defaultState, currentContext string) error {
	return r.upsert(ctx, userID, defaultState, currentContext, "current_context = EXCLUDED.current_context")
}

func (r *FocusRepository) upsert(ctx context.Context, userID, state, currentContext, set string) error {
	query, args, err := psql.
		Insert("focus_states").
		Columns("user_id", "state", "current_context").
		Values(userID, state, currentContext).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET " + set + ", updated_at = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert query for focus state: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("store focus state: %w", err)
	}
	return nil
}
