package dto

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mtlprog/deepflow/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message. Field names the offending
// request field for validation errors.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// NewErrorResponse creates a new error response.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// validationFields maps validation sentinels to the request field they describe.
var validationFields = []struct {
	err   error
	field string
}{
	{domain.ErrInvalidStatus, "status"},
	{domain.ErrInvalidUrgency, "urgency"},
	{domain.ErrInvalidCategory, "category"},
	{domain.ErrInvalidEstimate, "estimated_minutes"},
	{domain.ErrInvalidFocusState, "state"},
	{domain.ErrInvalidPomodoro, "pomodoro"},
	{domain.ErrInvalidSource, "source"},
	{domain.ErrEmptyTitle, "title"},
	{domain.ErrEmptyContent, "content"},
	{domain.ErrFieldTooLong, ""},
}

// ValidationField returns the request field a validation error refers to and
// whether err is a validation error at all.
func ValidationField(err error) (string, bool) {
	for _, v := range validationFields {
		if errors.Is(err, v.err) {
			return v.field, true
		}
	}
	return "", false
}

// MapDomainError maps domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code string, message string) {
	message = err.Error()

	if _, ok := ValidationField(err); ok {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message
	}

	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "TASK_NOT_FOUND", message
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", message

	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusUnauthorized, "INVALID_TOKEN", message

	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Storage temporarily unavailable"

	default:
		slog.Error("unmapped domain error returned to client",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
		)
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}
