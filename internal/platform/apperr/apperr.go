// Package apperr defines the error kinds surfaced by the coordination core.
// Callers test kinds with errors.Is against the exported sentinels.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks an actor lacking a permission or patient relationship.
	ErrForbidden = errors.New("not authorized")
	// ErrConflict marks an operation that is illegal from the entity's current state.
	ErrConflict = errors.New("state conflict")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func newKind(kind error, format string, args ...interface{}) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return newKind(ErrValidation, format, args...)
}

func Forbidden(format string, args ...interface{}) error {
	return newKind(ErrForbidden, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newKind(ErrConflict, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newKind(ErrNotFound, format, args...)
}

// InvalidTransition reports a state machine rejecting a transition.
func InvalidTransition(entity, from, to string) error {
	return Conflict("%s cannot transition from %s to %s", entity, from, to)
}

// HTTPStatus maps an error to the status code the API returns for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err is one of the four caller-correctable kinds.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound)
}
