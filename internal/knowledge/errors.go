package knowledge

import "errors"

// Common errors returned by Repository implementations.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, knowledge.ErrItemNotFound) {
//	    // the id no longer resolves
//	}
var (
	// ErrItemNotFound is returned when an item id does not resolve.
	ErrItemNotFound = errors.New("knowledge item not found")

	// ErrUnavailable is returned when the repository cannot be reached.
	// Callers should treat this as retryable.
	ErrUnavailable = errors.New("knowledge repository unavailable")

	// ErrCommitNotFound is returned by GetCommitsSince when the given
	// commit id is not in the feed (e.g. history was compacted).
	// Callers should fall back to a full sync.
	ErrCommitNotFound = errors.New("commit not found in feed")
)
