package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/repository"
)

// FocusStore is the storage behind FocusService.
type FocusStore interface {
	Get(ctx context.Context, userID string) (*repository.FocusRecord, error)
	SetState(ctx context.Context, userID, state string) error
	SetContext(ctx context.Context, userID, defaultState, currentContext string) error
}

// FocusSnapshot is a user's interpreted focus state and current context.
type FocusSnapshot struct {
	State   domain.FocusState
	Context string
}

// FocusService manages per-user focus state and decides interruptions.
type FocusService struct {
	store  FocusStore
	policy domain.InterruptPolicy
}

// NewFocusService creates a new FocusService.
func NewFocusService(store FocusStore, policy domain.InterruptPolicy) *FocusService {
	return &FocusService{store: store, policy: policy}
}

// Get returns the user's focus state and context. A missing or
// unrecognized stored state reads as IDLE.
func (s *FocusService) Get(ctx context.Context, userID string) (FocusSnapshot, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return FocusSnapshot{}, err
	}
	if rec == nil {
		return FocusSnapshot{State: domain.DefaultFocusState}, nil
	}

	state := domain.FocusState(rec.State)
	if !state.IsValid() {
		slog.Warn("unrecognized stored focus state, using default",
			"user_id", userID,
			"stored_state", rec.State,
			"default", domain.DefaultFocusState,
		)
		state = domain.DefaultFocusState
	}
	return FocusSnapshot{State: state, Context: rec.Context}, nil
}

// GetState returns only the focus state.
func (s *FocusService) GetState(ctx context.Context, userID string) (domain.FocusState, error) {
	snap, err := s.Get(ctx, userID)
	return snap.State, err
}

// SetState parses raw and stores it. An unrecognized value is rejected
// and the stored state is left untouched.
func (s *FocusService) SetState(ctx context.Context, userID, raw string) (domain.FocusState, error) {
	state, err := domain.ParseFocusState(raw)
	if err != nil {
		return "", err
	}
	if err := s.store.SetState(ctx, userID, string(state)); err != nil {
		return "", err
	}

	slog.Info("focus state changed", "user_id", userID, "state", state)
	return state, nil
}

// SetContext stores the user's current project context. An empty value clears it.
func (s *FocusService) SetContext(ctx context.Context, userID, currentContext string) (string, error) {
	currentContext = strings.TrimSpace(currentContext)
	if len(currentContext) > domain.MaxTitleLength {
		return "", fmt.Errorf("%w: context exceeds %d characters", domain.ErrFieldTooLong, domain.MaxTitleLength)
	}
	if err := s.store.SetContext(ctx, userID, string(domain.DefaultFocusState), currentContext); err != nil {
		return "", err
	}

	slog.Info("current context changed", "user_id", userID, "context", currentContext)
	return currentContext, nil
}

// CanInterrupt reports whether an item of the given urgency may interrupt
// the user right now, together with the state the decision was based on.
func (s *FocusService) CanInterrupt(ctx context.Context, userID string, urgency int) (bool, domain.FocusState, error) {
	state, err := s.GetState(ctx, userID)
	if err != nil {
		return false, "", err
	}
	return s.policy.CanInterrupt(state, urgency), state, nil
}
