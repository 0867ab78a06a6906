// Package notify delivers "needs attention now" notifications to the user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/metrics"
)

// Dispatcher delivers a notification. Delivery is fire-and-forget from the
// caller's point of view: an error is reported but never retried here.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, n domain.Notification) error
}

// Log writes notifications to the structured log.
type Log struct{}

// Name implements Dispatcher.
func (Log) Name() string { return "log" }

// Dispatch implements Dispatcher.
func (Log) Dispatch(_ context.Context, n domain.Notification) error {
	slog.Info("notification",
		"user_id", n.UserID,
		"task_id", n.TaskID,
		"level", n.Level,
		"title", n.Title,
	)
	return nil
}

// OutboxStore persists notifications until the user reads them.
type OutboxStore interface {
	Create(ctx context.Context, n *domain.Notification) error
}

// Outbox stores notifications for the user to drain over the API.
type Outbox struct {
	store OutboxStore
}

// NewOutbox creates an Outbox backed by store.
func NewOutbox(store OutboxStore) *Outbox {
	return &Outbox{store: store}
}

// Name implements Dispatcher.
func (o *Outbox) Name() string { return "outbox" }

// Dispatch implements Dispatcher.
func (o *Outbox) Dispatch(ctx context.Context, n domain.Notification) error {
	if err := o.store.Create(ctx, &n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

// Multi fans a notification out to every dispatcher. All dispatchers are
// tried; their errors are joined.
type Multi []Dispatcher

// Name implements Dispatcher.
func (m Multi) Name() string { return "multi" }

// Dispatch implements Dispatcher.
func (m Multi) Dispatch(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, n); err != nil {
			metrics.RecordDispatchFailure(ctx, d.Name())
			slog.Error("notification dispatch failed",
				"dispatcher", d.Name(),
				"user_id", n.UserID,
				"task_id", n.TaskID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}
