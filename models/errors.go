package models

import "errors"

// Error kinds shared by the core packages. Callers wrap them with context
// using fmt.Errorf("...: %w", err) and the API layer maps them to status codes.
var (
	// ErrInvalid marks malformed input: bad expressions, missing fields, negative numbers
	ErrInvalid = errors.New("invalid request")
	// ErrConflict marks duplicate resources and replace-policy violations
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks unknown rules, credentials, plugins, targets or recordings
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized marks plugin token mismatches
	ErrUnauthorized = errors.New("unauthorized")
)
