package app

import (
	"fmt"
	"net/http"
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

// Missing identity and an authorship mismatch share errUnauthorized so a
// caller cannot tell the two apart.
var (
	errUnauthorized   = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	errForbidden      = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errNotFound       = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	errParentNotFound = domainError(http.StatusNotFound, "PARENT_NOT_FOUND", "Parent message not found", nil)
	errInvalidJoin    = domainError(http.StatusBadRequest, "INVALID_JOIN_CODE", "Invalid join code", nil)
	errAlreadyMember  = domainError(http.StatusConflict, "ALREADY_MEMBER", "Already a member of this workspace", nil)
	errRemoveAdmin    = domainError(http.StatusBadRequest, "CANNOT_REMOVE_ADMIN", "Admin members cannot be removed", nil)
)

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}
