package domain

import (
	"fmt"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError with the same code, so errors built with
// WithError still match their sentinel
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// Generic errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: 404,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: 422,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded, please try again later",
		StatusCode: 429,
	}
)

// Autenticação e tenants
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid or missing API key",
		StatusCode: 401,
	}

	ErrInvalidAPIKeyFormat = &AppError{
		Code:       "INVALID_API_KEY_FORMAT",
		Message:    "API key must look like sk_live_... or pk_test_...",
		StatusCode: 401,
	}

	ErrAPIKeyRevoked = &AppError{
		Code:       "API_KEY_REVOKED",
		Message:    "API key has been revoked",
		StatusCode: 401,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Access denied",
		StatusCode: 403,
	}

	// Publishable keys ship inside client apps and only drive the challenge
	ErrSecretKeyRequired = &AppError{
		Code:       "SECRET_KEY_REQUIRED",
		Message:    "This endpoint requires a secret (sk_) API key",
		StatusCode: 403,
	}

	ErrTenantInactive = &AppError{
		Code:       "TENANT_INACTIVE",
		Message:    "Tenant account is inactive",
		StatusCode: 403,
	}

	ErrTenantNotFound = &AppError{
		Code:       "TENANT_NOT_FOUND",
		Message:    "Tenant not found",
		StatusCode: 404,
	}

	ErrAPIKeyNotFound = &AppError{
		Code:       "API_KEY_NOT_FOUND",
		Message:    "API key not found",
		StatusCode: 404,
	}
)

// Liveness challenge
var (
	ErrLivenessSessionNotFound = &AppError{
		Code:       "LIVENESS_SESSION_NOT_FOUND",
		Message:    "Liveness session not found",
		StatusCode: 404,
	}

	ErrLivenessSessionEnded = &AppError{
		Code:       "LIVENESS_SESSION_ENDED",
		Message:    "Liveness session has already ended",
		StatusCode: 409,
	}

	ErrCaptureNotAuthorized = &AppError{
		Code:       "CAPTURE_NOT_AUTHORIZED",
		Message:    "Challenge not completed, capture is not allowed yet",
		StatusCode: 409,
	}

	ErrCaptureAlreadyStored = &AppError{
		Code:       "CAPTURE_ALREADY_STORED",
		Message:    "A selfie was already captured for this session",
		StatusCode: 409,
	}

	ErrLivenessSessionExpired = &AppError{
		Code:       "LIVENESS_SESSION_EXPIRED",
		Message:    "Liveness session has expired, start a new one",
		StatusCode: 410,
	}

	ErrInvalidImage = &AppError{
		Code:       "INVALID_IMAGE",
		Message:    "Invalid image format or corrupted file",
		StatusCode: 422,
	}

	ErrInvalidObservation = &AppError{
		Code:       "INVALID_OBSERVATION",
		Message:    "Observation payload is invalid",
		StatusCode: 422,
	}

	ErrSessionRateLimitExceeded = &AppError{
		Code:       "SESSION_RATE_LIMIT_EXCEEDED",
		Message:    "Too many liveness sessions started, try again later",
		StatusCode: 429,
	}
)
