package domain

import "errors"

// Sentinel errors for the engine's caller-visible failure modes.
// Callers classify with errors.Is; storage failures are wrapped fmt.Errorf
// chains that match none of these and surface as generic failures.
var (
	// ErrValidation is returned for bad input (disallowed MIME type,
	// oversize payload, missing required field) before anything is persisted.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced image or association does
	// not exist. No side effects.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a delete is blocked by existing
	// associations or a duplicate-primary race is detected.
	ErrConflict = errors.New("conflict")

	// ErrExpired is returned when Confirm is attempted after the upload's
	// TTL has passed. Terminal for that upload.
	ErrExpired = errors.New("upload expired")

	// ErrInvalidState is returned when Confirm or DeleteTemporary targets
	// an image that is not temporary (already confirmed, or created
	// permanent). Indicates caller logic error or a lost race.
	ErrInvalidState = errors.New("invalid state")
)
