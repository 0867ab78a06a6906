package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/handler/dto"
	"github.com/mtlprog/deepflow/internal/middleware"
)

const defaultNotificationLimit = 50

// handleIngest classifies an incoming message, queues it as a task and
// reports whether the user was interrupted.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	var req dto.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	decision, err := h.pipeline.Process(ctx, domain.Message{
		UserID:   user.ID,
		Source:   domain.Source(req.Source),
		SourceID: req.SourceID,
		Sender:   req.Sender,
		Content:  req.Content,
		Received: h.now(),
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if decision.Suppressed {
		status = http.StatusOK
	}

	respondJSON(w, status, dto.IngestResponse{
		Task: dto.ToTaskResponsePtr(decision.Task, h.now()),
		Classification: dto.ClassificationResponse{
			Urgency:         decision.Classification.Urgency,
			Category:        string(decision.Classification.Category),
			Summary:         decision.Classification.Summary,
			SuggestedAction: decision.Classification.SuggestedAction,
			Fallback:        decision.Classification.Fallback,
		},
		State:              string(decision.State),
		Interrupt:          decision.Interrupt,
		Notified:           decision.Notified,
		Suppressed:         decision.Suppressed,
		AutoReplySuggested: decision.AutoReplySuggested,
	})
}

// handleListNotifications drains the user's undelivered notifications,
// oldest first. Each notification is returned once.
func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	limit, ok := parseLimit(r, "limit", defaultNotificationLimit)
	if !ok || limit == 0 {
		limit = defaultNotificationLimit
	}

	pending, err := h.notifRepo.DrainPending(ctx, user.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch notifications")
		return
	}

	resp := dto.NotificationsResponse{
		Notifications: make([]dto.NotificationResponse, len(pending)),
	}
	for i, n := range pending {
		resp.Notifications[i] = dto.ToNotificationResponse(n)
	}

	respondJSON(w, http.StatusOK, resp)
}
