package handler

import (
	"net/http"
	"time"

	"github.com/mtlprog/deepflow/internal/handler/dto"
	"github.com/mtlprog/deepflow/internal/middleware"
	"github.com/mtlprog/deepflow/internal/repository"
)

// handleGetStats returns the user's task statistics for a period.
func (h *Handler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "week"
	}

	// Calculate period boundaries
	now := h.now()
	var periodStart time.Time
	switch period {
	case "day":
		periodStart = now.AddDate(0, 0, -1)
	case "week":
		periodStart = now.AddDate(0, 0, -7)
	case "month":
		periodStart = now.AddDate(0, -1, 0)
	case "all":
		periodStart = time.Time{}
	default:
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid period, must be: day, week, month, all")
		return
	}

	stats, err := h.taskRepo.GetUserStats(ctx, repository.StatsFilters{
		UserID:      user.ID,
		PeriodStart: periodStart,
		PeriodEnd:   now,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch stats")
		return
	}

	queueLen, err := h.queueRepo.Len(ctx, user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch queue length")
		return
	}

	respondJSON(w, http.StatusOK, dto.StatsResponse{
		Period:               period,
		PeriodStart:          periodStart,
		PeriodEnd:            now,
		TotalTasksCreated:    stats.TotalTasksCreated,
		TasksCompleted:       stats.TasksCompleted,
		TasksByStatus:        stats.TasksByStatus,
		TasksByCategory:      stats.TasksByCategory,
		OverdueCount:         stats.OverdueCount,
		AvgCompletionMinutes: stats.AvgCompletionMinutes,
		QueueLength:          queueLen,
	})
}
