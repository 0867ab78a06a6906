package service

import (
	"fmt"

	"github.com/mtlprog/deepflow/internal/domain"
)

// Validator checks status transitions against the task lifecycle:
//
//	pending, blocked, deferred -> in_progress | completed | blocked | deferred
//	in_progress -> completed | blocked | deferred
//
// completed is terminal and nothing moves back to pending.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// CanStart validates if a task can become the current in-progress task.
func (v *Validator) CanStart(task *domain.Task) error {
	if !task.Status.CanStart() {
		return fmt.Errorf("%w: task %s is in %s status, expected pending, blocked or deferred",
			domain.ErrInvalidTransition, task.ID, task.Status)
	}
	return nil
}

// CanTransition validates a transition of task to newStatus.
// A transition to the current status is allowed and is a no-op for callers.
func (v *Validator) CanTransition(task *domain.Task, newStatus domain.TaskStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, newStatus)
	}
	if task.Status == newStatus {
		return nil
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("%w: task %s is already %s", domain.ErrInvalidTransition, task.ID, task.Status)
	}

	switch newStatus {
	case domain.TaskStatusInProgress:
		return v.CanStart(task)
	case domain.TaskStatusCompleted, domain.TaskStatusBlocked, domain.TaskStatusDeferred:
		return nil
	default:
		return fmt.Errorf("%w: task %s cannot move from %s to %s",
			domain.ErrInvalidTransition, task.ID, task.Status, newStatus)
	}
}
