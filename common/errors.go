package common

import (
	"errors"
	"strings"
)

var (
	// repository errors
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrStoreFailure = errors.New("store failure")

	// service errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)

// FieldError describes a user correctable problem with one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors accumulates field problems so that all of them can be reported at once.
type FieldErrors []FieldError

// Add appends a problem for field.
func (fe *FieldErrors) Add(field, message string) {
	*fe = append(*fe, FieldError{Field: field, Message: message})
}

// Empty reports whether no problem was recorded.
func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, e := range fe {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// Is lets callers match a FieldErrors value against ErrInvalidInput.
func (fe FieldErrors) Is(target error) bool {
	return target == ErrInvalidInput
}
