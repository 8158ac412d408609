package app

import (
	"errors"
	"fmt"
	"net/http"

	"docmerge/internal/decision"
	"docmerge/internal/docmodel"
	"docmerge/internal/export"
	"docmerge/internal/gitrepo"
	"docmerge/internal/merge"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, merge.ErrInvalidRequest):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, decision.ErrNotFound):
		return http.StatusNotFound, "DECISION_NOT_FOUND", "Decision not found or expired", nil
	case errors.Is(err, gitrepo.ErrNoHistory):
		return http.StatusNotFound, "NO_HISTORY", "Document has no history", nil
	case errors.Is(err, docmodel.ErrAnchorNotFound):
		return http.StatusUnprocessableEntity, "ANCHOR_NOT_FOUND", err.Error(), nil
	case errors.Is(err, docmodel.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, docmodel.ErrPermissionDenied):
		return http.StatusForbidden, "PERMISSION_DENIED", "Document store denied access", nil
	case errors.Is(err, docmodel.ErrMutationRejected):
		return http.StatusConflict, "MUTATION_REJECTED", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing), errors.Is(err, export.ErrArchiveUnavailable):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
