// Package common defines shared constants and sentinel errors used across
// the server, the workers and the CLI. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound        = errors.New("not found")
	ErrObjectNotFound    = errors.New("object not found")
	ErrStaleState        = errors.New("stale state")
	ErrInvalidTransition = errors.New("invalid state transition")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Upload coordination.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrSessionNotFound  = errors.New("upload session not found")
	ErrSessionExpired   = errors.New("upload session expired")
	ErrUploadMissing    = errors.New("uploaded object not found")

	// Processing outcomes.
	ErrTransitionMismatch = errors.New("transition mismatch")
	ErrConversion         = errors.New("conversion error")
	ErrBackend            = errors.New("backend error")
	ErrCanceled           = errors.New("canceled")
	ErrIncompatible       = errors.New("incompatible mission and template")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)
