package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"lectern/api/internal/auth"
	"lectern/api/internal/authpw"
	"lectern/api/internal/export"
	"lectern/api/internal/filestore"
	"lectern/api/internal/rank"
	"lectern/api/internal/session"
	"lectern/api/internal/store"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.Is(err, rank.ErrInvalidOrder), errors.Is(err, store.ErrInvalidPosition):
		return http.StatusBadRequest, "INVALID_REORDER", "Invalid reorder request", map[string]any{"reason": err.Error()}
	case errors.Is(err, rank.ErrMalformed):
		return http.StatusInternalServerError, "RANK_CORRUPT", "Stored rank is malformed", nil
	case errors.Is(err, store.ErrRankConflict):
		return http.StatusConflict, "RANK_CONFLICT", "The list changed while reordering, retry with fresh neighbours", nil
	case errors.Is(err, store.ErrDuplicateSlug):
		return http.StatusConflict, "DUPLICATE_SLUG", "Slug already in use", nil
	case errors.Is(err, filestore.ErrSHAMismatch):
		return http.StatusConflict, "STALE_SHA", "Article changed since it was read", nil
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, filestore.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrEmptyTopic):
		return http.StatusUnprocessableEntity, "EMPTY_TOPIC", "Topic has no exportable articles", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
