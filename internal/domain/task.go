package domain

import (
	"fmt"
	"strings"
	"time"
)

// Field limits for free-text task fields.
const (
	MaxTitleLength           = 200
	MaxSummaryLength         = 200
	MaxSuggestedActionLength = 300

	MinUrgency = 0
	MaxUrgency = 10

	DefaultEstimatedMinutes = 15
)

// TaskStatus represents the status of a task in its lifecycle.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusDeferred   TaskStatus = "deferred"
)

// IsValid checks if the status is one of the allowed values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusBlocked, TaskStatusDeferred:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no transitions are allowed out of the status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted
}

// CanStart returns true if a task in this status may become the current task.
func (s TaskStatus) CanStart() bool {
	return s == TaskStatusPending || s == TaskStatusBlocked || s == TaskStatusDeferred
}

// Category is the coarse urgency bucket of a task.
type Category string

const (
	CategoryCritical Category = "critical"
	CategoryUrgent   Category = "urgent"
	CategoryStandard Category = "standard"
	CategoryLow      Category = "low"
	CategoryDiscard  Category = "discard"
)

// IsValid checks if the category is one of the allowed values.
func (c Category) IsValid() bool {
	switch c {
	case CategoryCritical, CategoryUrgent, CategoryStandard, CategoryLow, CategoryDiscard:
		return true
	default:
		return false
	}
}

// CategoryForUrgency maps an urgency onto its fixed band:
// 10-9 critical, 8-6 urgent, 5-4 standard, 3-2 low, 1-0 discard.
func CategoryForUrgency(urgency int) Category {
	switch {
	case urgency >= 9:
		return CategoryCritical
	case urgency >= 6:
		return CategoryUrgent
	case urgency >= 4:
		return CategoryStandard
	case urgency >= 2:
		return CategoryLow
	default:
		return CategoryDiscard
	}
}

// ValidateUrgency rejects urgencies outside 0-10.
func ValidateUrgency(urgency int) error {
	if urgency < MinUrgency || urgency > MaxUrgency {
		return fmt.Errorf("%w: urgency %d is outside %d-%d", ErrInvalidUrgency, urgency, MinUrgency, MaxUrgency)
	}
	return nil
}

// Task is a unit of work in a user's queue.
type Task struct {
	ID               string
	OwnerID          string
	Title            string
	Summary          string
	SuggestedAction  string
	Urgency          int
	Category         Category
	EstimatedMinutes int
	Deadline         *time.Time
	ContextTags      []string
	Status           TaskStatus
	PriorityScore    float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// IsOwnedBy checks if the task belongs to the given user.
func (t *Task) IsOwnedBy(userID string) bool {
	return t.OwnerID == userID
}

// HasContext reports whether any context tag equals ctx, ignoring case.
func (t *Task) HasContext(ctx string) bool {
	if ctx == "" {
		return false
	}
	for _, tag := range t.ContextTags {
		if strings.EqualFold(tag, ctx) {
			return true
		}
	}
	return false
}

// NewTaskInput holds the fields accepted when a task is created.
type NewTaskInput struct {
	Title            string
	Summary          string
	SuggestedAction  string
	Urgency          int
	Category         Category // empty means derive from Urgency
	EstimatedMinutes int      // 0 means DefaultEstimatedMinutes
	Deadline         *time.Time
	ContextTags      []string
}

// Validate checks the input and fills defaults. It never touches storage.
func (in *NewTaskInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return fmt.Errorf("%w: title", ErrEmptyTitle)
	}
	if len(in.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrFieldTooLong, MaxTitleLength)
	}
	if len(in.Summary) > MaxSummaryLength {
		return fmt.Errorf("%w: summary exceeds %d characters", ErrFieldTooLong, MaxSummaryLength)
	}
	if len(in.SuggestedAction) > MaxSuggestedActionLength {
		return fmt.Errorf("%w: suggested_action exceeds %d characters", ErrFieldTooLong, MaxSuggestedActionLength)
	}
	if err := ValidateUrgency(in.Urgency); err != nil {
		return err
	}
	if in.EstimatedMinutes < 0 {
		return fmt.Errorf("%w: estimated_minutes must be positive, got %d", ErrInvalidEstimate, in.EstimatedMinutes)
	}
	if in.EstimatedMinutes == 0 {
		in.EstimatedMinutes = DefaultEstimatedMinutes
	}
	if in.Category == "" {
		in.Category = CategoryForUrgency(in.Urgency)
	} else if !in.Category.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, in.Category)
	}
	if in.ContextTags == nil {
		in.ContextTags = []string{}
	}
	return nil
}

// TaskUpdate is a partial update of a task. Nil fields are left unchanged.
type TaskUpdate struct {
	Status  *TaskStatus
	Urgency *int
	Title   *string
	Summary *string
}

// Validate checks the update without touching storage.
func (u *TaskUpdate) Validate() error {
	if u.Status != nil && !u.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *u.Status)
	}
	if u.Urgency != nil {
		if err := ValidateUrgency(*u.Urgency); err != nil {
			return err
		}
	}
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return fmt.Errorf("%w: title", ErrEmptyTitle)
		}
		if len(title) > MaxTitleLength {
			return fmt.Errorf("%w: title exceeds %d characters", ErrFieldTooLong, MaxTitleLength)
		}
		u.Title = &title
	}
	if u.Summary != nil && len(*u.Summary) > MaxSummaryLength {
		return fmt.Errorf("%w: summary exceeds %d characters", ErrFieldTooLong, MaxSummaryLength)
	}
	return nil
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
