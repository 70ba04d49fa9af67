package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/manageusers/pkg/types"
)

func TestAppError(t *testing.T) {
	t.Run("NewAppError", func(t *testing.T) {
		err := NewAppError(types.ErrorTypeValidation, ErrCodeValidation, "test error")

		assert.Equal(t, types.ErrorTypeValidation, err.Type)
		assert.Equal(t, ErrCodeValidation, err.Code)
		assert.Equal(t, "test error", err.Message)
		assert.Nil(t, err.Cause)
		assert.Empty(t, err.Details)
	})

	t.Run("Error", func(t *testing.T) {
		err := NewAppError(types.ErrorTypeValidation, ErrCodeValidation, "test error")
		assert.Equal(t, "[VALIDATION_ERROR] validation: test error", err.Error())

		cause := errors.New("underlying error")
		withCause := NewAppErrorWithCause(types.ErrorTypeInternal, ErrCodeInternal, "wrapped error", cause)
		assert.Equal(t, "[INTERNAL_ERROR] internal: wrapped error (caused by: underlying error)", withCause.Error())
		assert.Equal(t, cause, withCause.Unwrap())
	})

	t.Run("WithDetail", func(t *testing.T) {
		err := NewAppError(types.ErrorTypeValidation, ErrCodeValidation, "test error")

		result := err.WithDetail("field", "username")
		assert.Same(t, err, result)
		assert.Equal(t, "username", err.Details["field"])
	})

	t.Run("WithRequestID", func(t *testing.T) {
		err := NewInternalError("boom").WithRequestID("req-123")
		assert.Equal(t, "req-123", err.RequestID)
	})
}

func TestDomainErrors(t *testing.T) {
	t.Run("EmailMismatch", func(t *testing.T) {
		err := NewEmailMismatchError("alice")
		assert.Equal(t, types.ErrorTypeConsistency, err.Type)
		assert.Contains(t, err.Error(), `"alice"`)
		assert.Equal(t, "alice", err.Details["username"])
		assert.True(t, IsEmailMismatch(err))
		assert.False(t, IsInvalidPasswordHash(err))
	})

	t.Run("InvalidPasswordHash", func(t *testing.T) {
		err := NewInvalidPasswordHashError("bob", errors.New("unknown scheme"))
		assert.Equal(t, types.ErrorTypeValidation, err.Type)
		assert.Contains(t, err.Error(), "bob")
		assert.True(t, IsInvalidPasswordHash(err))
	})

	t.Run("Wrapped chain", func(t *testing.T) {
		wrapped := fmt.Errorf("reconcile: %w", NewEmailMismatchError("carol"))
		assert.True(t, IsEmailMismatch(wrapped))
		assert.True(t, HasCode(wrapped, ErrCodeEmailMismatch))
		assert.True(t, IsAppError(wrapped))

		appErr := GetAppError(wrapped)
		require.NotNil(t, appErr)
		assert.Equal(t, ErrCodeEmailMismatch, appErr.Code)
	})

	t.Run("Plain errors", func(t *testing.T) {
		plain := errors.New("plain")
		assert.False(t, IsAppError(plain))
		assert.Nil(t, GetAppError(plain))
		assert.False(t, IsNotFound(plain))
	})

	t.Run("NotFound", func(t *testing.T) {
		err := NewNotFoundError("group")
		assert.True(t, IsNotFound(err))
		assert.Equal(t, "group not found", err.Message)
	})

	t.Run("ProfileUnavailable", func(t *testing.T) {
		err := NewProfileUnavailableError()
		assert.Equal(t, types.ErrorTypeConfiguration, err.Type)
		assert.True(t, errors.Is(err, ErrProfileUnavailable))
	})
}

func TestErrorList(t *testing.T) {
	list := NewErrorList()
	assert.False(t, list.HasErrors())
	assert.NoError(t, list.ToError())

	list.Add(NewValidationError("first"))
	list.Add(NewEmailMismatchError("dave"))

	assert.True(t, list.HasErrors())
	err := list.ToError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "; ")
	assert.Len(t, list.Errors, 2)
}
