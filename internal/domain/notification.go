package domain

import "time"

// NotificationLevel is how loudly a notification should be delivered.
type NotificationLevel string

const (
	NotificationInfo     NotificationLevel = "info"
	NotificationWarning  NotificationLevel = "warning"
	NotificationCritical NotificationLevel = "critical"
)

// LevelForCategory picks the notification level for a task category.
func LevelForCategory(c Category) NotificationLevel {
	switch c {
	case CategoryCritical:
		return NotificationCritical
	case CategoryUrgent:
		return NotificationWarning
	default:
		return NotificationInfo
	}
}

// Notification is a message to the user that a task needs attention now.
type Notification struct {
	ID        string
	UserID    string
	TaskID    string
	Title     string
	Body      string
	Level     NotificationLevel
	CreatedAt time.Time
}
