package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/handler/dto"
	"github.com/mtlprog/deepflow/internal/middleware"
)

// handleGetQueue returns the current task and the top of the queue, rescored.
func (h *Handler) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	limit, ok := parseLimit(r, "limit", h.settings.Queue.PeekSize)
	if !ok {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
		return
	}

	view, err := h.taskService.GetQueue(ctx, user.ID, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	now := h.now()
	resp := dto.QueueResponse{
		CurrentTask: dto.ToTaskResponsePtr(view.Current, now),
		Queue:       make([]dto.TaskResponse, len(view.Tasks)),
		TotalCount:  view.TotalCount,
	}
	for i, task := range view.Tasks {
		resp.Queue[i] = dto.ToTaskResponse(task, now)
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleCreateTask scores a new task and adds it to the queue.
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	var req dto.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if req.Urgency == nil {
		resp := dto.NewErrorResponse("VALIDATION_ERROR", "urgency is required")
		resp.Error.Field = "urgency"
		respondJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	task, err := h.taskService.CreateTask(ctx, user.ID, domain.NewTaskInput{
		Title:            req.Title,
		Summary:          req.Summary,
		SuggestedAction:  req.SuggestedAction,
		Urgency:          *req.Urgency,
		Category:         domain.Category(req.Category),
		EstimatedMinutes: req.EstimatedMinutes,
		Deadline:         req.Deadline,
		ContextTags:      req.ContextTags,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToTaskResponse(task, h.now()))
}

// handlePopTask starts the highest-priority task. An empty queue yields null.
func (h *Handler) handlePopTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	task, err := h.taskService.PopNext(ctx, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponsePtr(task, h.now()))
}

// handleCurrentTask returns the task the user is working on, or null.
func (h *Handler) handleCurrentTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	task, err := h.taskService.CurrentTask(ctx, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponsePtr(task, h.now()))
}
