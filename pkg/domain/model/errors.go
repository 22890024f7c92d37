package model

import "errors"

// Error kinds. Every domain error wraps exactly one of these so callers can
// classify failures with errors.Is without knowing the concrete sentinel.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrProvider     = errors.New("payment provider error")
	ErrPersistence  = errors.New("persistence error")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// NewError returns an error with its own message that still matches kind
// under errors.Is.
func NewError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// ValidationError reports a rejected field of an incoming request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
