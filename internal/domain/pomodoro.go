package domain

import "fmt"

// Pomodoro bounds, in minutes.
const (
	MinWorkMinutes      = 1
	MaxWorkMinutes      = 120
	DefaultWorkMinutes  = 30
	MinBreakMinutes     = 1
	MaxBreakMinutes     = 60
	DefaultBreakMinutes = 5
)

// PomodoroSettings are a user's focus timer durations.
type PomodoroSettings struct {
	WorkMinutes  int
	BreakMinutes int
}

// DefaultPomodoroSettings returns the settings used before a user saves their own.
func DefaultPomodoroSettings() PomodoroSettings {
	return PomodoroSettings{WorkMinutes: DefaultWorkMinutes, BreakMinutes: DefaultBreakMinutes}
}

// Validate checks both durations against their bounds.
func (p PomodoroSettings) Validate() error {
	if p.WorkMinutes < MinWorkMinutes || p.WorkMinutes > MaxWorkMinutes {
		return fmt.Errorf("%w: work_minutes must be between %d and %d, got %d",
			ErrInvalidPomodoro, MinWorkMinutes, MaxWorkMinutes, p.WorkMinutes)
	}
	if p.BreakMinutes < MinBreakMinutes || p.BreakMinutes > MaxBreakMinutes {
		return fmt.Errorf("%w: break_minutes must be between %d and %d, got %d",
			ErrInvalidPomodoro, MinBreakMinutes, MaxBreakMinutes, p.BreakMinutes)
	}
	return nil
}
