package memory

import "errors"

// Common errors returned by Store implementations.
var (
	// ErrRecordNotFound is returned when a record id does not resolve.
	ErrRecordNotFound = errors.New("memory record not found")

	// ErrUnavailable is returned when the memory store cannot be
	// reached. Callers should treat this as retryable.
	ErrUnavailable = errors.New("memory store unavailable")

	// ErrInvalidMetadata is returned when a record's metadata fails
	// validation at the store boundary.
	ErrInvalidMetadata = errors.New("invalid record metadata")
)
