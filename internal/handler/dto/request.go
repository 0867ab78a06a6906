package dto

import "time"

// SetStateRequest represents the request body for PUT /state.
type SetStateRequest struct {
	State string `json:"state"`
}

// SetContextRequest represents the request body for PUT /context.
type SetContextRequest struct {
	Context string `json:"context"`
}

// CreateTaskRequest represents the request body for POST /queue.
type CreateTaskRequest struct {
	Title            string     `json:"title"`
	Summary          string     `json:"summary"`
	SuggestedAction  string     `json:"suggested_action"`
	Urgency          *int       `json:"urgency"`
	Category         string     `json:"category,omitempty"`
	EstimatedMinutes int        `json:"estimated_minutes,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	ContextTags      []string   `json:"context_tags,omitempty"`
}

// UpdateTaskRequest represents the request body for PATCH /tasks/{id}.
// Absent fields are left unchanged.
type UpdateTaskRequest struct {
	Status  *string `json:"status,omitempty"`
	Urgency *int    `json:"urgency,omitempty"`
	Title   *string `json:"title,omitempty"`
	Summary *string `json:"summary,omitempty"`
}

// PomodoroSettingsRequest represents the request body for PUT /pomodoro/settings.
type PomodoroSettingsRequest struct {
	WorkMinutes  int `json:"work_minutes"`
	BreakMinutes int `json:"break_minutes"`
}

// IngestRequest represents the request body for POST /webhooks/ingest.
type IngestRequest struct {
	Source   string `json:"source"`
	SourceID string `json:"source_id,omitempty"`
	Sender   string `json:"sender"`
	Content  string `json:"content"`
}

// ListTasksFilters represents query parameters for GET /tasks.
type ListTasksFilters struct {
	Status   []string // ?status=pending,blocked
	Category []string // ?category=urgent,critical
	Context  string   // ?context=backend
	Overdue  bool     // ?overdue=true
	Sort     []string // ?sort=-priority_score,created_at
	Limit    int      // ?limit=50
	Offset   int      // ?offset=0
}
