// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is the single authentication failure surfaced to callers.
	// Unknown account, wrong password, foreign key id, missing/expired/mismatched
	// challenge and bad signature all collapse into it.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidArgument indicates malformed input that is not an authentication decision.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")
)
