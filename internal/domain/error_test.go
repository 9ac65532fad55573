package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "domain error", err: Conflict("invoice.publish", "wrong status"), want: ECONFLICT},
		{name: "wrapped domain error", err: fmt.Errorf("handler: %w", NotFound("invoice.get", "invoice", "abc")), want: ENOTFOUND},
		{name: "validation error", err: NewValidationError("invoice.create", "dueDate", "is required"), want: EINVALID},
		{name: "wrapped validation error", err: fmt.Errorf("handler: %w", NewValidationError("invoice.create", "dueDate", "is required")), want: EINVALID},
		{name: "plain error", err: errors.New("boom"), want: EINTERNAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func Test_ErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "domain error keeps its message", err: Invalid("invoice.create", "items must not be empty"), want: "items must not be empty"},
		{name: "internal error hides detail", err: Internal(errors.New("pq: boom"), "invoice.create", "insert failed"), want: "An internal error occurred. Please try again later."},
		{name: "validation error", err: NewValidationError("invoice.create", "dueDate", "is required"), want: "Validation failed"},
		{name: "plain error hides detail", err: errors.New("pq: boom"), want: "An internal error occurred. Please try again later."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorMessage(tt.err))
		})
	}
}

func Test_GetValidationFields(t *testing.T) {
	err := NewValidationError("invoice.create", "dueDate", "is required")

	assert.Equal(t, map[string]string{"dueDate": "is required"}, GetValidationFields(err))
	assert.Nil(t, GetValidationFields(errors.New("boom")))
	assert.True(t, IsValidationError(err))
}
