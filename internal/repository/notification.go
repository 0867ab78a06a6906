package repository

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/deepflow/internal/domain"
)

// NotificationRepository is the outbox of notifications waiting to be read.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create stores n as pending, assigning ID and CreatedAt when unset.
func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	var taskID *string
	if n.TaskID != "" {
		taskID = &n.TaskID
	}

	query, args, err := psql.
		Insert("notifications").
		Columns("id", "user_id", "task_id", "title", "body", "level").
		Values(n.ID, n.UserID, taskID, n.Title, n.Body, n.Level).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Create query for notification: %w", err)
	}

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n.CreatedAt); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// DrainPending marks up to limit pending notifications of the user as
// delivered and returns them oldest first.
func (r *NotificationRepository) DrainPending(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notifications
		SET delivered_at = NOW()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE user_id = $1 AND delivered_at IS NULL
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, COALESCE(task_id::text, ''), title, body, level, created_at
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("drain notifications: %w", err)
	}
	defer rows.Close()

	out := []*domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.TaskID, &n.Title, &n.Body, &n.Level, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	slices.SortFunc(out, func(a, b *domain.Notification) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}
