package app

import "fmt"

// DomainError is an operation failure that maps directly to an HTTP
// response: NOT_FOUND for missing checklists and items, VALIDATION_ERROR
// for rejected reorders and blank names, UNAUTHORIZED and FORBIDDEN for
// identity and role failures.
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
