// Package apperror defines the sentinel error kinds the engine's
// collaborators use to pick an HTTP status code or a log level.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("conflict")
	ErrUnavailable   = errors.New("unavailable")
)

// Wrap annotates err with msg while keeping it matchable with errors.Is
// against the sentinel it wraps.
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// StatusCode maps a sentinel-wrapped error to an HTTP status, defaulting
// to 500 for anything it doesn't recognize.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrInvalidInput):
		return 400
	case errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrUnavailable):
		return 503
	default:
		return 500
	}
}
