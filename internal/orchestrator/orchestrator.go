// Package orchestrator drives sync runs against the knowledge repository
// and the memory store through a fixed state machine:
//
//	Idle → Checkpointing → Detecting → Applying → Persisting → Idle
//
// with a failure branch into Failed → RolledBack. A run mutates a clone of
// the persisted SyncState and makes it visible in a single atomic Save at
// the end; everything before that point is invisible to other readers and
// recoverable from the pre-run checkpoint.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/knowmesh/kbridge/internal/conflict"
	"github.com/knowmesh/kbridge/internal/knowledge"
	"github.com/knowmesh/kbridge/internal/memory"
	"github.com/knowmesh/kbridge/internal/pointer"
	"github.com/knowmesh/kbridge/internal/state"
)

// Phase is the orchestrator's observable position in the state machine.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseCheckpointing Phase = "checkpointing"
	PhaseDetecting     Phase = "detecting"
	PhaseApplying      Phase = "applying"
	PhasePersisting    Phase = "persisting"
	PhaseFailed        Phase = "failed"
	PhaseRolledBack    Phase = "rolled_back"
)

// StateStore is the slice of the state store the orchestrator consumes.
// *state.Store satisfies it; tests substitute failing wrappers.
type StateStore interface {
	Load(ctx context.Context, scope string) (*state.SyncState, error)
	Save(ctx context.Context, scope string, st *state.SyncState) error
	Checkpoint(ctx context.Context, scope string) error
	Rollback(ctx context.Context, scope string) (*state.SyncState, error)
	AcquireLease(ctx context.Context, scope, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, scope, holder string) error
}

// Config holds orchestrator tuning knobs.
type Config struct {
	// Scope identifies the tenant this orchestrator syncs. Runs for the
	// same scope are serialized by the lease; different scopes do not
	// block each other.
	Scope string

	// Holder identifies this process for lease ownership.
	Holder string

	// LeaseTTL bounds how long a crashed run can block the scope.
	LeaseTTL time.Duration

	// ApplyConcurrency caps the worker pool issuing collaborator calls
	// during the apply phase.
	ApplyConcurrency int

	// CallTimeout applies per collaborator call.
	CallTimeout time.Duration

	// RetryAttempts is the number of retries after the first attempt
	// for retryable collaborator errors.
	RetryAttempts int

	// RetryBaseDelay is the first backoff delay; it doubles per retry.
	RetryBaseDelay time.Duration

	// ConflictPolicy overrides resolution actions per conflict type.
	// Nil means conflict.DefaultPolicy.
	ConflictPolicy conflict.Policy
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "kbridge"
	}
	return Config{
		Scope:            "default",
		Holder:           fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		LeaseTTL:         2 * time.Minute,
		ApplyConcurrency: 4,
		CallTimeout:      10 * time.Second,
		RetryAttempts:    3,
		RetryBaseDelay:   100 * time.Millisecond,
	}
}

// Orchestrator runs syncs for one scope.
type Orchestrator struct {
	repo     knowledge.Repository
	memory   memory.Store
	states   StateStore
	pointers *pointer.Manager
	detector *conflict.Detector
	resolver *conflict.Resolver
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	// runMu serializes mutating runs issued through this orchestrator.
	// All runs share one lease holder, so the per-scope lease cannot
	// exclude them from each other; without this, two concurrent runs
	// would clone the same loaded state and the later Save would drop
	// the earlier run's changes.
	runMu sync.Mutex

	mu    sync.Mutex
	phase Phase
}

// New creates an Orchestrator.
//
// If logger is nil, slog.Default() is used. Zero config fields are filled
// from DefaultConfig.
func New(repo knowledge.Repository, mem memory.Store, states StateStore, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Scope == "" {
		cfg.Scope = def.Scope
	}
	if cfg.Holder == "" {
		cfg.Holder = def.Holder
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.ApplyConcurrency <= 0 {
		cfg.ApplyConcurrency = def.ApplyConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}

	manager := pointer.NewManager(mem, nil)
	return &Orchestrator{
		repo:     repo,
		memory:   mem,
		states:   states,
		pointers: manager,
		detector: conflict.NewDetector(repo, mem),
		resolver: conflict.NewResolver(repo, manager, cfg.ConflictPolicy, nil),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		phase:    PhaseIdle,
	}
}

// Phase returns the orchestrator's current state machine phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Scope returns the scope this orchestrator syncs.
func (o *Orchestrator) Scope() string {
	return o.cfg.Scope
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// State loads the current persisted state for this scope.
func (o *Orchestrator) State(ctx context.Context) (*state.SyncState, error) {
	return o.states.Load(ctx, o.cfg.Scope)
}

// withRetry runs fn under the per-call timeout, retrying retryable errors
// with exponential backoff up to the configured attempt limit. Both the
// call and the backoff wait honor ctx cancellation.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := o.cfg.RetryBaseDelay
	var lastErr error

	for attempt := 0; attempt <= o.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		o.logger.Warn("collaborator call failed, retrying",
			"op", op, "attempt", attempt+1, "error", err)
	}
	return lastErr
}
