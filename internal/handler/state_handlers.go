package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mtlprog/deepflow/internal/handler/dto"
	"github.com/mtlprog/deepflow/internal/middleware"
)

// handleGetState returns the user's focus state and current context.
func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	snap, err := h.focusService.Get(ctx, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.StateResponse{
		UserID:  user.ID,
		State:   string(snap.State),
		Context: snap.Context,
	})
}

// handleSetState changes the user's focus state. An unknown state is
// rejected and the stored state is left untouched.
func (h *Handler) handleSetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	var req dto.SetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	state, err := h.focusService.SetState(ctx, user.ID, req.State)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	snap, err := h.focusService.Get(ctx, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.StateResponse{
		UserID:  user.ID,
		State:   string(state),
		Context: snap.Context,
	})
}

// handleSetContext sets the free-form context used for the context bonus.
// An empty context clears it.
func (h *Handler) handleSetContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := middleware.GetUserFromContext(ctx)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return
	}

	var req dto.SetContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if _, err := h.focusService.SetContext(ctx, user.ID, req.Context); err != nil {
		respondDomainError(w, err)
		return
	}

	snap, err := h.focusService.Get(ctx, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.StateResponse{
		UserID:  user.ID,
		State:   string(snap.State),
		Context: snap.Context,
	})
}
