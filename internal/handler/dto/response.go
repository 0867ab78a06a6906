package dto

import (
	"time"

	"github.com/mtlprog/deepflow/internal/domain"
)

// TaskResponse represents a task as returned by every task-bearing endpoint.
type TaskResponse struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Summary          string     `json:"summary"`
	SuggestedAction  string     `json:"suggested_action"`
	Urgency          int        `json:"urgency"`
	Category         string     `json:"category"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	Deadline         *time.Time `json:"deadline"`
	ContextTags      []string   `json:"context_tags"`
	Status           string     `json:"status"`
	PriorityScore    float64    `json:"priority_score"`
	IsOverdue        bool       `json:"is_overdue"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

// QueueResponse represents the response for GET /queue.
type QueueResponse struct {
	CurrentTask *TaskResponse  `json:"current_task"`
	Queue       []TaskResponse `json:"queue"`
	TotalCount  int            `json:"total_count"`
}

// TasksListResponse represents the response for GET /tasks.
type TasksListResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// TaskDetailResponse represents full task details with events.
type TaskDetailResponse struct {
	Task   TaskResponse    `json:"task"`
	Events []TaskEventInfo `json:"events"`
}

// TaskEventInfo represents a single audit entry of a task.
type TaskEventInfo struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	OldStatus *string   `json:"old_status"`
	NewStatus *string   `json:"new_status"`
	Score     *float64  `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// StateResponse represents a user's focus state.
type StateResponse struct {
	UserID  string `json:"user_id"`
	State   string `json:"state"`
	Context string `json:"context"`
}

// PomodoroSettingsResponse represents a user's focus timer settings.
type PomodoroSettingsResponse struct {
	WorkMinutes  int `json:"work_minutes"`
	BreakMinutes int `json:"break_minutes"`
}

// ClassificationResponse is the classifier verdict for an ingested message.
type ClassificationResponse struct {
	Urgency         int    `json:"urgency"`
	Category        string `json:"category"`
	Summary         string `json:"summary"`
	SuggestedAction string `json:"suggested_action"`
	Fallback        bool   `json:"fallback"`
}

// IngestResponse represents the routing decision for POST /webhooks/ingest.
type IngestResponse struct {
	Task               *TaskResponse          `json:"task"`
	Classification     ClassificationResponse `json:"classification"`
	State              string                 `json:"state"`
	Interrupt          bool                   `json:"interrupt"`
	Notified           bool                   `json:"notified"`
	Suppressed         bool                   `json:"suppressed"`
	AutoReplySuggested bool                   `json:"auto_reply_suggested"`
}

// NotificationResponse represents a delivered notification.
type NotificationResponse struct {
	ID        string    `json:"id"`
	TaskID    *string   `json:"task_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Level     string    `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationsResponse represents the response for GET /notifications.
type NotificationsResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
}

// StatsResponse represents a user's task statistics.
type StatsResponse struct {
	Period               string         `json:"period"`
	PeriodStart          time.Time      `json:"period_start"`
	PeriodEnd            time.Time      `json:"period_end"`
	TotalTasksCreated    int            `json:"total_tasks_created"`
	TasksCompleted       int            `json:"tasks_completed"`
	TasksByStatus        map[string]int `json:"tasks_by_status"`
	TasksByCategory      map[string]int `json:"tasks_by_category"`
	OverdueCount         int            `json:"overdue_count"`
	AvgCompletionMinutes float64        `json:"avg_completion_minutes"`
	QueueLength          int            `json:"queue_length"`
}

// ToTaskResponse converts domain.Task to TaskResponse.
func ToTaskResponse(task *domain.Task, now time.Time) TaskResponse {
	tags := task.ContextTags
	if tags == nil {
		tags = []string{}
	}
	return TaskResponse{
		ID:               task.ID,
		Title:            task.Title,
		Summary:          task.Summary,
		SuggestedAction:  task.SuggestedAction,
		Urgency:          task.Urgency,
		Category:         string(task.Category),
		EstimatedMinutes: task.EstimatedMinutes,
		Deadline:         task.Deadline,
		ContextTags:      tags,
		Status:           string(task.Status),
		PriorityScore:    task.PriorityScore,
		IsOverdue:        task.Deadline != nil && task.Deadline.Before(now) && task.Status != domain.TaskStatusCompleted,
		CreatedAt:        task.CreatedAt,
		UpdatedAt:        task.UpdatedAt,
		CompletedAt:      task.CompletedAt,
	}
}

// ToTaskResponsePtr is ToTaskResponse for optional tasks; nil stays nil.
func ToTaskResponsePtr(task *domain.Task, now time.Time) *TaskResponse {
	if task == nil {
		return nil
	}
	resp := ToTaskResponse(task, now)
	return &resp
}

// ToTaskEventInfo converts domain.TaskEvent to TaskEventInfo.
func ToTaskEventInfo(event *domain.TaskEvent) TaskEventInfo {
	var oldStatus, newStatus *string
	if event.OldStatus != nil {
		s := string(*event.OldStatus)
		oldStatus = &s
	}
	if event.NewStatus != nil {
		s := string(*event.NewStatus)
		newStatus = &s
	}
	return TaskEventInfo{
		ID:        event.ID,
		Type:      string(event.Type),
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Score:     event.Score,
		CreatedAt: event.CreatedAt,
	}
}

// ToNotificationResponse converts domain.Notification to NotificationResponse.
func ToNotificationResponse(n *domain.Notification) NotificationResponse {
	var taskID *string
	if n.TaskID != "" {
		id := n.TaskID
		taskID = &id
	}
	return NotificationResponse{
		ID:        n.ID,
		TaskID:    taskID,
		Title:     n.Title,
		Body:      n.Body,
		Level:     string(n.Level),
		CreatedAt: n.CreatedAt,
	}
}
