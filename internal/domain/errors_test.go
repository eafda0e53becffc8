package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "Liveness session not found", ErrLivenessSessionNotFound.Error())
	assert.Equal(t,
		"Liveness session has expired, start a new one: idle for 31m0s",
		ErrLivenessSessionExpired.WithError(errors.New("idle for 31m0s")).Error(),
	)
}

func TestAppError_WithError(t *testing.T) {
	cause := errors.New("db connection failed")
	err := ErrInternal.WithError(cause)

	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, ErrInternal.StatusCode, err.StatusCode)
	assert.Same(t, cause, err.Unwrap())
	assert.Nil(t, ErrInternal.Err, "sentinel is not mutated")
	assert.Nil(t, ErrInternal.Unwrap())
}

func TestAppError_Is(t *testing.T) {
	cause := errors.New("not in db")
	wrapped := fmt.Errorf("get session: %w", ErrLivenessSessionNotFound.WithError(cause))

	assert.ErrorIs(t, wrapped, ErrLivenessSessionNotFound, "matches the sentinel by code")
	assert.ErrorIs(t, wrapped, cause)
	assert.NotErrorIs(t, wrapped, ErrCaptureNotAuthorized)

	var appErr *AppError
	require.ErrorAs(t, wrapped, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.StatusCode)
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err    *AppError
		code   string
		status int
	}{
		{ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError},
		{ErrBadRequest, "BAD_REQUEST", http.StatusBadRequest},
		{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
		{ErrForbidden, "FORBIDDEN", http.StatusForbidden},
		{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
		{ErrInvalidImage, "INVALID_IMAGE", http.StatusUnprocessableEntity},
		{ErrInvalidAPIKeyFormat, "INVALID_API_KEY_FORMAT", http.StatusUnauthorized},
		{ErrAPIKeyRevoked, "API_KEY_REVOKED", http.StatusUnauthorized},
		{ErrAPIKeyNotFound, "API_KEY_NOT_FOUND", http.StatusNotFound},
		{ErrSecretKeyRequired, "SECRET_KEY_REQUIRED", http.StatusForbidden},
		{ErrTenantInactive, "TENANT_INACTIVE", http.StatusForbidden},
		{ErrTenantNotFound, "TENANT_NOT_FOUND", http.StatusNotFound},
		{ErrRateLimitExceeded, "RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests},
		{ErrValidationFailed, "VALIDATION_FAILED", http.StatusUnprocessableEntity},
		{ErrLivenessSessionNotFound, "LIVENESS_SESSION_NOT_FOUND", http.StatusNotFound},
		{ErrLivenessSessionExpired, "LIVENESS_SESSION_EXPIRED", http.StatusGone},
		{ErrLivenessSessionEnded, "LIVENESS_SESSION_ENDED", http.StatusConflict},
		{ErrCaptureNotAuthorized, "CAPTURE_NOT_AUTHORIZED", http.StatusConflict},
		{ErrCaptureAlreadyStored, "CAPTURE_ALREADY_STORED", http.StatusConflict},
		{ErrInvalidObservation, "INVALID_OBSERVATION", http.StatusUnprocessableEntity},
		{ErrSessionRateLimitExceeded, "SESSION_RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests},
	}

	seen := make(map[string]bool, len(tests))
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.NotEmpty(t, tt.err.Message)
			assert.False(t, seen[tt.code], "duplicate code")
			seen[tt.code] = true
		})
	}
}
