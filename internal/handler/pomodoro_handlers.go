package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/handler/dto"
	"github.com/mtlprog/deepflow/internal/middleware"
)

// handleGetPomodoro returns the user's timer settings, or the defaults.
func (h *Handler) handleGetPomodoro(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	settings, err := h.pomodoroService.Get(ctx, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.PomodoroSettingsResponse{
		WorkMinutes:  settings.WorkMinutes,
		BreakMinutes: settings.BreakMinutes,
	})
}

// handleUpdatePomodoro replaces the user's timer settings.
func (h *Handler) handleUpdatePomodoro(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	var req dto.PomodoroSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	settings, err := h.pomodoroService.Update(ctx, user.ID, domain.PomodoroSettings{
		WorkMinutes:  req.WorkMinutes,
		BreakMinutes: req.BreakMinutes,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.PomodoroSettingsResponse{
		WorkMinutes:  settings.WorkMinutes,
		BreakMinutes: settings.BreakMinutes,
	})
}
