package domain

import "errors"

// Domain-specific errors for business logic validation.
var (
	// Task errors
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")

	// User errors
	ErrUserNotFound = errors.New("user not found")

	// Validation errors
	ErrInvalidStatus     = errors.New("invalid task status")
	ErrInvalidUrgency    = errors.New("invalid urgency")
	ErrInvalidCategory   = errors.New("invalid task category")
	ErrInvalidEstimate   = errors.New("invalid estimated minutes")
	ErrInvalidFocusState = errors.New("invalid focus state")
	ErrInvalidPomodoro   = errors.New("invalid pomodoro settings")
	ErrInvalidSource     = errors.New("invalid message source")
	ErrEmptyTitle        = errors.New("title is required")
	ErrEmptyContent      = errors.New("content is required")
	ErrFieldTooLong      = errors.New("field too long")

	// Infrastructure errors
	ErrStorageUnavailable = errors.New("storage unavailable")
)
