package forum

import (
	"fmt"
	"net/http"
)

// DomainError carries the HTTP status and machine-readable code a
// handler should translate a service failure into.
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

// unauthorized covers both flavors of a rejected writer: nobody signed
// in, and a signed-in account that never finished onboarding. Callers
// get one answer for both.
func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in with a complete profile to participate", nil)
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}
