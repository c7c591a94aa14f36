package app

import "fmt"

// DomainError is an error the HTTP layer translates directly: Status and
// Code go on the wire as-is, Details carries row-level context such as the
// index of the batch entry that failed validation.
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
