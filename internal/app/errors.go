package app

import (
	"errors"
	"fmt"
	"net/http"

	"sitesearch/internal/auth"
	"sitesearch/internal/rbac"
	"sitesearch/internal/rebuild"
	"sitesearch/internal/search"
	"sitesearch/internal/sitesearch"
)

// DomainError is an error with a fixed HTTP rendering.
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

// mapError picks the status, code and message an error is reported with.
func mapError(err error) (status int, code, message string, details any) {
	var (
		domainErr *DomainError
		validErr  search.ValidationError
		queryErr  search.QueryError
		notFound  search.NotFoundError
		engineErr search.EngineError
		indexErr  search.IndexError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.As(err, &validErr):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Validation error", validErr.Fields
	case errors.As(err, &queryErr):
		var details any
		if len(queryErr.Keys) > 0 {
			details = queryErr.Keys
		}
		return http.StatusBadRequest, "SEARCH_QUERY_ERROR", queryErr.Message, details
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, rbac.ErrNotAuthorized):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.As(err, &notFound):
		return http.StatusNotFound, "NOT_FOUND", notFound.Error(), nil
	case errors.Is(err, sitesearch.ErrPagesDisabled):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, rebuild.ErrDatasetsUnsupported):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil
	case errors.As(err, &indexErr):
		return http.StatusInternalServerError, "SEARCH_INDEX_ERROR", indexErr.Error(), nil
	case errors.As(err, &engineErr):
		switch {
		case errors.Is(err, search.ErrUnavailable):
			return http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", engineErr.Message, nil
		case engineErr.Err == nil:
			// rejected before reaching the store
			return http.StatusBadRequest, "SEARCH_ERROR", engineErr.Message, nil
		}
		return http.StatusBadGateway, "SEARCH_ERROR", engineErr.Message, nil
	case errors.Is(err, search.ErrUnavailable):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Backend unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
