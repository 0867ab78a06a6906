package service

import (
	"math"
	"time"

	"github.com/mtlprog/deepflow/internal/config"
	"github.com/mtlprog/deepflow/internal/domain"
)

// QueueEffect is what a status transition does to the user's queue and
// current-task pointer. It is applied in the same transaction as the
// status update.
type QueueEffect struct {
	Dequeue      bool    // remove the task from the ordered set
	Enqueue      bool    // (re)insert the task with Score
	Score        float64 // new stored priority score
	SetCurrent   bool
	ClearCurrent bool // clear the pointer if it points at the task
	CompletedAt  *time.Time
}

// PlanTransition returns the queue side effects of moving task to newStatus.
// The transition must already be validated.
func PlanTransition(task *domain.Task, newStatus domain.TaskStatus, qs config.QueueSettings, now time.Time) QueueEffect {
	effect := QueueEffect{Score: task.PriorityScore}

	switch newStatus {
	case domain.TaskStatusInProgress:
		effect.Dequeue = true
		effect.SetCurrent = true
	case domain.TaskStatusCompleted:
		effect.Dequeue = true
		effect.ClearCurrent = true
		completedAt := now
		effect.CompletedAt = &completedAt
	case domain.TaskStatusBlocked:
		effect.Enqueue = true
		effect.Score = roundScore(task.PriorityScore * qs.BlockedFactor)
		effect.ClearCurrent = true
	case domain.TaskStatusDeferred:
		effect.Enqueue = true
		effect.Score = qs.DeferredScore
		effect.ClearCurrent = true
	}

	return effect
}

// QueuedScore adjusts an engine score for a queued task's status.
func QueuedScore(status domain.TaskStatus, engineScore float64, qs config.QueueSettings) float64 {
	switch status {
	case domain.TaskStatusBlocked:
		return roundScore(engineScore * qs.BlockedFactor)
	case domain.TaskStatusDeferred:
		return qs.DeferredScore
	default:
		return engineScore
	}
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
