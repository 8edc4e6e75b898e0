// Package apierror defines the sentinel error vocabulary surfaced to HTTP callers.
// every error kind in the package is a plain `errors.New` sentinel, checked with
// `errors.Is` at the call site after being wrapped with `fmt.Errorf("...: %w", sentinel)`.
// this is the same two-layer sentinel-plus-wrap idiom the store package uses for
// ErrRecordNotFound, generalized here to the full set of error kinds the orchestrator,
// quota gate, and provisioners can produce.
package apierror

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation means the caller supplied a missing or malformed field. HTTP 400.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized means the bearer token is missing or invalid. HTTP 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden / ErrQuotaExceeded mean the owner is over their plan's preview limit. HTTP 403.
	ErrForbidden     = errors.New("forbidden")
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNotFound means no record matches the supplied identifier. HTTP 404.
	ErrNotFound = errors.New("not found")

	// ErrConflict is internal; it should never reach a caller post-serialization, but is
	// surfaced as 500 if it somehow does (eg a unique-index violation that slipped past
	// the in-process per-id lock).
	ErrConflict = errors.New("conflict")

	// ErrRuntime / ErrProvision / ErrMigration mean an upstream subsystem (container runtime,
	// database admin connection, migration runner) failed. HTTP 500. the preview is left in
	// FAILED or DESTROYING depending on which phase of the lifecycle was in flight.
	ErrRuntime   = errors.New("runtime error")
	ErrProvision = errors.New("provision error")
	ErrMigration = errors.New("migration error")

	// ErrInternal is the catch-all for anything unclassified. HTTP 500.
	ErrInternal = errors.New("internal error")
)

// StatusFor maps an error produced anywhere in the call graph to the HTTP status code it
// should surface as, by walking the wrap chain with errors.Is against each sentinel above.
// an error that matches none of them is treated as ErrInternal (500) -- this is the
// catch-all branch, not a sign that some kind was forgotten.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
