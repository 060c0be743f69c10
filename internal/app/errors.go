package app

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrValidation marks input rejected before any store access.
var ErrValidation = errors.New("validation failed")

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
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
	err := domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
	err.Err = ErrValidation
	return err
}

func badRequest(message string, cause error) *DomainError {
	err := domainError(http.StatusBadRequest, "BAD_REQUEST", message, nil)
	err.Err = cause
	return err
}

func unauthorized(message string, cause error) *DomainError {
	err := domainError(http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
	err.Err = cause
	return err
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}
