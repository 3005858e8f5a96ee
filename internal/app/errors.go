package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"sircharge/admin/internal/assets"
	"sircharge/admin/internal/auth"
	"sircharge/admin/internal/authpw"
	"sircharge/admin/internal/promptrepo"
	"sircharge/admin/internal/store"
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

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", fieldErrors(validationErrs)
	}
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, store.ErrNotFound), errors.Is(err, promptrepo.ErrRepoNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	case errors.Is(err, store.ErrTierInUse):
		return http.StatusConflict, "TIER_IN_USE", "Tier is the default or still has users", nil
	case errors.Is(err, store.ErrTooManyRows):
		return http.StatusUnprocessableEntity, "RANGE_TOO_LARGE", "Too many rows in range, narrow the date range or add a filter", nil
	case errors.Is(err, promptrepo.ErrNoChanges):
		return http.StatusConflict, "NO_CHANGES", "Prompt content is unchanged", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrMissingCredentials):
		return http.StatusBadRequest, "MISSING_CREDENTIALS", "Email and password are required", nil
	case errors.Is(err, authpw.ErrInvalidCredentials), errors.Is(err, authpw.ErrNotOperator):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrAccountDisabled):
		return http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled", nil
	case errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusUnprocessableEntity, "WEAK_PASSWORD", fmt.Sprintf("Password must be at least %d characters", authpw.MinPasswordLength), nil
	case errors.Is(err, authpw.ErrInvalidResetToken):
		return http.StatusBadRequest, "INVALID_RESET_TOKEN", "Reset link is invalid or expired", nil
	case errors.Is(err, assets.ErrDisabled):
		return http.StatusServiceUnavailable, "ASSETS_UNAVAILABLE", "Image storage is not configured", nil
	case errors.Is(err, assets.ErrUnsupportedType), errors.Is(err, assets.ErrEmpty):
		return http.StatusUnprocessableEntity, "INVALID_IMAGE", err.Error(), nil
	case errors.Is(err, assets.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
