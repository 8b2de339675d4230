// Package apperr defines the error taxonomy shared by the service layers.
package apperr

import (
	"errors"
	"net/http"
)

// Sentinel kinds. Wrap them with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrInvalidInput marks caller mistakes: wrong content type, malformed JSON, empty audio.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks an unknown record or missing blob.
	ErrNotFound = errors.New("not found")
	// ErrUpstream marks recognizer, storage or blob I/O failures.
	ErrUpstream = errors.New("upstream failure")
	// ErrDegraded marks a recoverable input problem, such as a failed duration probe.
	// It is absorbed where it occurs and never reaches a caller.
	ErrDegraded = errors.New("degraded input")
)

// HTTPStatus maps an error to the status code reported to API callers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
