package trigger

import (
	"testing"
	"time"

	"github.com/knowmesh/kbridge/internal/state"
)

func stateSyncedAt(t time.Time) *state.SyncState {
	st := state.New()
	st.LastSyncAt = &t
	return st
}

func TestEvaluateOrder(t *testing.T) {
	now := time.Now()
	cfg := Config{
		StalenessThreshold: time.Hour,
		SessionThreshold:   5,
		Interval:           30 * time.Minute,
	}

	tests := []struct {
		name   string
		st     *state.SyncState
		rctx   Context
		want   bool
		reason Reason
	}{
		{
			name:   "manual wins over everything",
			st:     stateSyncedAt(now.Add(-2 * time.Hour)),
			rctx:   Context{ManualRequested: true, SessionsSinceLastSync: 10, Now: now},
			want:   true,
			reason: ReasonManual,
		},
		{
			name:   "staleness beats session count",
			st:     stateSyncedAt(now.Add(-2 * time.Hour)),
			rctx:   Context{SessionsSinceLastSync: 10, Now: now},
			want:   true,
			reason: ReasonStale,
		},
		{
			name:   "session count beats schedule",
			st:     stateSyncedAt(now.Add(-45 * time.Minute)),
			rctx:   Context{SessionsSinceLastSync: 5, Now: now},
			want:   true,
			reason: ReasonSessionCount,
		},
		{
			name:   "schedule fires alone",
			st:     stateSyncedAt(now.Add(-45 * time.Minute)),
			rctx:   Context{SessionsSinceLastSync: 1, Now: now},
			want:   true,
			reason: ReasonScheduled,
		},
		{
			name:   "nothing matches",
			st:     stateSyncedAt(now.Add(-10 * time.Minute)),
			rctx:   Context{SessionsSinceLastSync: 1, Now: now},
			want:   false,
			reason: ReasonNone,
		},
		{
			name:   "never synced is infinitely stale",
			st:     state.New(),
			rctx:   Context{Now: now},
			want:   true,
			reason: ReasonNeverSynced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(cfg, tt.st, tt.rctx)
			if got.ShouldSync != tt.want || got.Reason != tt.reason {
				t.Errorf("Evaluate = %+v, want shouldSync=%v reason=%s", got, tt.want, tt.reason)
			}
		})
	}
}

func TestEvaluateDisabledConditions(t *testing.T) {
	now := time.Now()

	// Zero config never fires without a manual request.
	d := Evaluate(Config{}, state.New(), Context{SessionsSinceLastSync: 100, Now: now})
	if d.ShouldSync {
		t.Errorf("zero config should not fire, got %+v", d)
	}

	d = Evaluate(Config{}, state.New(), Context{ManualRequested: true, Now: now})
	if !d.ShouldSync || d.Reason != ReasonManual {
		t.Errorf("manual must fire even with zero config, got %+v", d)
	}
}

func TestEvaluatePure(t *testing.T) {
	now := time.Now()
	cfg := Config{StalenessThreshold: time.Hour}
	st := stateSyncedAt(now.Add(-30 * time.Minute))
	rctx := Context{Now: now}

	first := Evaluate(cfg, st, rctx)
	for i := 0; i < 5; i++ {
		if Evaluate(cfg, st, rctx) != first {
			t.Fatal("Evaluate is not pure")
		}
	}
}
