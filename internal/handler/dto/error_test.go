package dto_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/handler/dto"
)

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"wrapped urgency", fmt.Errorf("%w: got 11", domain.ErrInvalidUrgency), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"focus state", domain.ErrInvalidFocusState, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"pomodoro", domain.ErrInvalidPomodoro, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"not found", domain.ErrTaskNotFound, http.StatusNotFound, "TASK_NOT_FOUND"},
		{"transition", fmt.Errorf("%w: completed -> pending", domain.ErrInvalidTransition), http.StatusConflict, "INVALID_TRANSITION"},
		{"storage", fmt.Errorf("%w: dial tcp", domain.ErrStorageUnavailable), http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := dto.MapDomainError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestMapDomainError_HidesInternalDetail(t *testing.T) {
	_, _, msg := dto.MapDomainError(errors.New("password=secret"))
	assert.Equal(t, "Internal server error", msg)
}

func TestValidationField(t *testing.T) {
	field, ok := dto.ValidationField(fmt.Errorf("%w: %q", domain.ErrInvalidFocusState, "NAPPING"))
	assert.True(t, ok)
	assert.Equal(t, "state", field)

	_, ok = dto.ValidationField(domain.ErrTaskNotFound)
	assert.False(t, ok)
}
