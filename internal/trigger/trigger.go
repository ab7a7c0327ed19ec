// Package trigger decides whether a sync run should start.
//
// Evaluate is a pure function over config, persisted state, and runtime
// context. Conditions are checked in a fixed order and the first match
// wins; the decision carries the reason so callers can log it.
package trigger

import (
	"time"

	"github.com/knowmesh/kbridge/internal/state"
)

// Reason identifies which condition fired.
type Reason string

const (
	ReasonManual       Reason = "manual_request"
	ReasonStale        Reason = "staleness_threshold"
	ReasonSessionCount Reason = "session_threshold"
	ReasonScheduled    Reason = "scheduled_interval"
	ReasonNone         Reason = "no_condition_met"
	ReasonNeverSynced  Reason = "never_synced"
)

// Config holds trigger thresholds. A zero value disables the
// corresponding condition.
type Config struct {
	// StalenessThreshold fires when the last successful sync is older
	// than this.
	StalenessThreshold time.Duration

	// SessionThreshold fires when at least this many agent sessions
	// have started since the last sync.
	SessionThreshold int

	// Interval fires on a fixed schedule measured from the last sync.
	Interval time.Duration
}

// Context is the runtime input to a trigger decision.
type Context struct {
	// ManualRequested is set when a user or API caller asked for a run.
	ManualRequested bool

	// SessionsSinceLastSync counts agent sessions started since the
	// last successful run.
	SessionsSinceLastSync int

	// Now is the decision time. Injected for testability.
	Now time.Time
}

// Decision is the evaluator's output.
type Decision struct {
	ShouldSync bool
	Reason     Reason
}

// Evaluate applies the conditions in order: manual request, staleness,
// session count, scheduled interval. A state that has never synced is
// treated as infinitely stale (fires whenever any time-based condition
// is configured).
func Evaluate(cfg Config, st *state.SyncState, rctx Context) Decision {
	if rctx.ManualRequested {
		return Decision{ShouldSync: true, Reason: ReasonManual}
	}

	if st.LastSyncAt == nil {
		if cfg.StalenessThreshold > 0 || cfg.Interval > 0 {
			return Decision{ShouldSync: true, Reason: ReasonNeverSynced}
		}
		if cfg.SessionThreshold > 0 && rctx.SessionsSinceLastSync >= cfg.SessionThreshold {
			return Decision{ShouldSync: true, Reason: ReasonSessionCount}
		}
		return Decision{ShouldSync: false, Reason: ReasonNone}
	}

	elapsed := rctx.Now.Sub(*st.LastSyncAt)
	if cfg.StalenessThreshold > 0 && elapsed > cfg.StalenessThreshold {
		return Decision{ShouldSync: true, Reason: ReasonStale}
	}
	if cfg.SessionThreshold > 0 && rctx.SessionsSinceLastSync >= cfg.SessionThreshold {
		return Decision{ShouldSync: true, Reason: ReasonSessionCount}
	}
	if cfg.Interval > 0 && elapsed >= cfg.Interval {
		return Decision{ShouldSync: true, Reason: ReasonScheduled}
	}

	return Decision{ShouldSync: false, Reason: ReasonNone}
}
