package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorError(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		expected string
	}{
		{
			name: "With Code",
			appError: &AppError{
				Code:    "TEST_CODE",
				Message: "This is a test error",
			},
			expected: "[TEST_CODE] This is a test error",
		},
		{
			name: "Without Code",
			appError: &AppError{
				Message: "This is a test error without code",
			},
			expected: "This is a test error without code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.appError.Error()
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestWrapStorageError(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapStorageError(cause, "failed to persist loan")

	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "[STORAGE_ERROR] failed to persist loan", err.Error())

	var appErr *AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, "STORAGE_ERROR", appErr.Code)
}

func TestLoanNotFoundIsNotFound(t *testing.T) {
	assert.True(t, errors.Is(ErrLoanNotFound, ErrNotFound))
	assert.Equal(t, "loan resource not found", ErrLoanNotFound.Error())
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("amount", "must be positive")

	assert.True(t, errors.Is(err, ErrValidation))
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
	assert.Equal(t, "amount", vErr.Field)
	assert.Equal(t, "validation failed for field 'amount': must be positive", vErr.Error())
}
