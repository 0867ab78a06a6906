package domain

import "time"

// EventType represents the type of task event.
type EventType string

const (
	EventTypeCreated       EventType = "created"
	EventTypeStarted       EventType = "started"
	EventTypeStatusChanged EventType = "status_changed"
	EventTypeUpdated       EventType = "updated"
)

// TaskEvent is an audit log entry for a task lifecycle change.
type TaskEvent struct {
	ID        string
	TaskID    string
	UserID    string
	Type      EventType
	OldStatus *TaskStatus
	NewStatus *TaskStatus
	Score     *float64
	CreatedAt time.Time
}
