package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/handler/dto"
	"github.com/mtlprog/deepflow/internal/middleware"
	"github.com/mtlprog/deepflow/internal/repository"
)

// handleGetTask returns one task with its event history.
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.taskService.GetTask(ctx, user.ID, taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	events, err := h.eventRepo.GetByTaskID(ctx, taskID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch events")
		return
	}

	response := dto.TaskDetailResponse{
		Task:   dto.ToTaskResponse(task, h.now()),
		Events: make([]dto.TaskEventInfo, len(events)),
	}
	for i, event := range events {
		response.Events[i] = dto.ToTaskEventInfo(event)
	}

	respondJSON(w, http.StatusOK, response)
}

// handleUpdateTask applies a partial update: status, urgency, title, summary.
func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	taskID, ok := extractTaskID(w, r)
	if !ok {
		return
	}

	var req dto.UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	upd := domain.TaskUpdate{
		Urgency: req.Urgency,
		Title:   req.Title,
		Summary: req.Summary,
	}
	if req.Status != nil {
		status := domain.TaskStatus(*req.Status)
		upd.Status = &status
	}

	task, err := h.taskService.UpdateTask(ctx, user.ID, taskID, upd)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(task, h.now()))
}

// handleListTasks returns the user's tasks with optional filters.
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	filters, msg := parseListFilters(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", msg)
		return
	}

	results, total, err := h.taskRepo.List(ctx, repository.TaskListFilters{
		OwnerID:    user.ID,
		Statuses:   filters.Status,
		Categories: filters.Category,
		ContextTag: filters.Context,
		Overdue:    filters.Overdue,
		Sort:       filters.Sort,
		Limit:      filters.Limit,
		Offset:     filters.Offset,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list tasks")
		return
	}

	now := h.now()
	tasks := make([]dto.TaskResponse, len(results))
	for i, result := range results {
		tasks[i] = dto.ToTaskResponse(result.Task, now)
	}

	respondJSON(w, http.StatusOK, dto.TasksListResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

// parseListFilters reads GET /tasks query parameters. A non-empty message
// describes the first invalid parameter.
func parseListFilters(r *http.Request) (dto.ListTasksFilters, string) {
	query := r.URL.Query()
	filters := dto.ListTasksFilters{
		Context: strings.TrimSpace(query.Get("context")),
		Overdue: query.Get("overdue") == "true",
		Limit:   50,
	}

	if statusParam := query.Get("status"); statusParam != "" {
		filters.Status = splitAndTrim(statusParam, ",")
		for _, s := range filters.Status {
			if !domain.TaskStatus(s).IsValid() {
				return filters, "unknown status " + strconv.Quote(s)
			}
		}
	}

	if categoryParam := query.Get("category"); categoryParam != "" {
		filters.Category = splitAndTrim(categoryParam, ",")
		for _, c := range filters.Category {
			if !domain.Category(c).IsValid() {
				return filters, "unknown category " + strconv.Quote(c)
			}
		}
	}

	if sortParam := query.Get("sort"); sortParam != "" {
		filters.Sort = splitAndTrim(sortParam, ",")
		for _, f := range filters.Sort {
			if !repository.ValidSortField(f) {
				return filters, "unsupported sort field " + strconv.Quote(f)
			}
		}
	}

	if limitParam := query.Get("limit"); limitParam != "" {
		if n, err := strconv.Atoi(limitParam); err == nil && n > 0 && n <= 200 {
			filters.Limit = n
		}
	}

	if offsetParam := query.Get("offset"); offsetParam != "" {
		if n, err := strconv.Atoi(offsetParam); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	return filters, ""
}

// splitAndTrim splits a string by delimiter and trims whitespace.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
