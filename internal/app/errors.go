package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"helppages/api/internal/assets"
	"helppages/api/internal/auth"
	"helppages/api/internal/export"
	"helppages/api/internal/gitrepo"
	"helppages/api/internal/navtree"
	"helppages/api/internal/store"
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

func notFoundError(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func forbiddenError() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func validationError(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, map[string]string{field: message})
}

// mapError turns any error returned by the service into the status, code,
// message and details of the JSON error envelope.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		out := make(map[string]string, len(fieldErrs))
		for field, fieldErr := range fieldErrs {
			out[field] = fieldErr.Error()
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", out
	}
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, store.ErrNotFound), errors.Is(err, gitrepo.ErrUnknownCommit), errors.Is(err, gitrepo.ErrNoRepo):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", "The page was changed by someone else", nil
	case store.IsUniqueViolation(err):
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, navtree.ErrCycle):
		return http.StatusConflict, "NAV_CYCLE", "A nav node cannot be moved under itself", nil
	case errors.Is(err, navtree.ErrTooDeep):
		return http.StatusUnprocessableEntity, "NAV_TOO_DEEP", fmt.Sprintf("Navigation cannot be nested deeper than %d levels", navtree.MaxDepth), nil
	case errors.Is(err, navtree.ErrNotFound):
		return http.StatusUnprocessableEntity, "NAV_INVALID_PARENT", "Parent does not belong to this doc", nil
	case errors.Is(err, assets.ErrUnavailable):
		return http.StatusServiceUnavailable, "ASSETS_UNAVAILABLE", "Asset storage is not configured", nil
	case errors.Is(err, assets.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "ASSET_TOO_LARGE", fmt.Sprintf("Files are limited to %d MiB", assets.MaxSize>>20), nil
	case errors.Is(err, assets.ErrUnsupportedType), errors.Is(err, assets.ErrEmpty):
		return http.StatusUnprocessableEntity, "ASSET_REJECTED", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export requires Chromium on the server", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
