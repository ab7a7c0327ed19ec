package orchestrator

import (
	"context"
	"errors"

	"github.com/knowmesh/kbridge/internal/knowledge"
	"github.com/knowmesh/kbridge/internal/memory"
)

// ErrRunAborted marks a run cancelled mid-flight. Nothing was persisted;
// the pre-run checkpoint remains the last valid state.
var ErrRunAborted = errors.New("sync run aborted")

// retryable reports whether a collaborator error is worth retrying.
// Unavailability and timeouts are transient; everything else (not found,
// validation, cancellation) is not.
func retryable(err error) bool {
	return errors.Is(err, knowledge.ErrUnavailable) ||
		errors.Is(err, memory.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
