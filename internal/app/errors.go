package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ideaboard/api/internal/apperr"
	"ideaboard/api/internal/auth"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapError turns an engine error into the response status and code. Only
// validation messages are passed through to the client.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, apperr.ErrInvalidParent):
		return http.StatusUnprocessableEntity, "INVALID_PARENT", "Parent comment is missing or belongs to another idea", nil
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil
	case errors.Is(err, apperr.ErrConflictRetryable):
		return http.StatusConflict, "CONFLICT", "Conflicting update, try again", nil
	case errors.Is(err, apperr.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Temporarily unavailable, try again", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
