package state

import "errors"

// Errors returned by the state store.
//
// Checked with errors.Is():
//
//	if errors.Is(err, state.ErrStateCorrupted) {
//	    // persisted record failed validation; operator intervention needed
//	}
var (
	// ErrStateCorrupted is returned when the persisted record fails
	// structural validation (including an unknown schema version).
	// Fatal: never auto-repaired.
	ErrStateCorrupted = errors.New("sync state corrupted")

	// ErrCheckpointFailed is returned when the pre-run checkpoint cannot
	// be taken. Fatal for the run.
	ErrCheckpointFailed = errors.New("checkpoint failed")

	// ErrRollbackFailed is returned when the checkpoint cannot be
	// restored. The run's effects must be presumed unreliable.
	ErrRollbackFailed = errors.New("rollback failed")

	// ErrNoCheckpoint is returned by Rollback when no checkpoint exists
	// for the scope.
	ErrNoCheckpoint = errors.New("no checkpoint for scope")

	// ErrLeaseHeld is returned when another holder owns the scope's
	// sync lease and it has not expired.
	ErrLeaseHeld = errors.New("sync lease held by another holder")
)
