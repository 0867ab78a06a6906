package service

import (
	"context"
	"log/slog"

	"github.com/mtlprog/deepflow/internal/domain"
)

// PomodoroStore is the storage behind PomodoroService.
type PomodoroStore interface {
	Get(ctx context.Context, userID string) (*domain.PomodoroSettings, error)
	Upsert(ctx context.Context, userID string, s domain.PomodoroSettings) error
}

// PomodoroService reads and validates a user's focus timer settings.
type PomodoroService struct {
	store PomodoroStore
}

// NewPomodoroService creates a new PomodoroService.
func NewPomodoroService(store PomodoroStore) *PomodoroService {
	return &PomodoroService{store: store}
}

// Get returns the saved settings, or the defaults if none were saved.
func (s *PomodoroService) Get(ctx context.Context, userID string) (domain.PomodoroSettings, error) {
	saved, err := s.store.Get(ctx, userID)
	if err != nil {
		return domain.PomodoroSettings{}, err
	}
	if saved == nil {
		return domain.DefaultPomodoroSettings(), nil
	}
	return *saved, nil
}

// Update validates and saves settings. Invalid settings are not stored.
func (s *PomodoroService) Update(ctx context.Context, userID string, settings domain.PomodoroSettings) (domain.PomodoroSettings, error) {
	if err := settings.Validate(); err != nil {
		return domain.PomodoroSettings{}, err
	}
	if err := s.store.Upsert(ctx, userID, settings); err != nil {
		return domain.PomodoroSettings{}, err
	}

	slog.Info("pomodoro settings updated",
		"user_id", userID,
		"work_minutes", settings.WorkMinutes,
		"break_minutes", settings.BreakMinutes,
	)
	return settings, nil
}
