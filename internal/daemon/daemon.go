// Package daemon runs the sync bridge continuously:
//
//  1. Watches the knowledge items directory and reconciles changed items
//     with debounced single-item syncs.
//  2. Periodically evaluates the trigger conditions and starts a full or
//     incremental run when one fires.
//  3. Periodically runs a conflict detection and resolution pass.
//  4. Handles graceful shutdown.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/knowmesh/kbridge/internal/orchestrator"
	"github.com/knowmesh/kbridge/internal/state"
	"github.com/knowmesh/kbridge/internal/trigger"
)

// Publisher receives daemon events, typically the dashboard hub. All
// methods must be safe for concurrent use.
type Publisher interface {
	PublishRun(mode string, res *orchestrator.SyncResult)
	PublishConflictPass(res *orchestrator.ConflictPassResult)
	PublishStats(stats state.Stats)
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file change sits in the queue
	// before it is synced. Batches rapid successive writes.
	DebounceInterval time.Duration

	// TriggerInterval is how often the trigger conditions are evaluated.
	TriggerInterval time.Duration

	// ConflictPassInterval is how often a conflict pass runs.
	// Zero disables the periodic pass.
	ConflictPassInterval time.Duration

	// Trigger holds the sync trigger thresholds.
	Trigger trigger.Config

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval:     100 * time.Millisecond,
		TriggerInterval:      30 * time.Second,
		ConflictPassInterval: 5 * time.Minute,
		Trigger: trigger.Config{
			StalenessThreshold: time.Hour,
		},
		Logger: log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates file watching and periodic sync runs.
type Daemon struct {
	orc      *orchestrator.Orchestrator
	itemsDir string
	config   *Config
	events   Publisher

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> queued at
	changeQueueMu sync.Mutex

	sessionsMu sync.Mutex
	sessions   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon watching itemsDir and driving the orchestrator.
// events may be nil when no dashboard is attached.
func New(orc *orchestrator.Orchestrator, itemsDir string, config *Config, events Publisher) (*Daemon, error) {
	if orc == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if itemsDir == "" {
		return nil, fmt.Errorf("itemsDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		orc:         orc,
		itemsDir:    itemsDir,
		config:      config,
		events:      events,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// NoteSession records that an agent session started. Feeds the
// session-count trigger condition.
func (d *Daemon) NoteSession() {
	d.sessionsMu.Lock()
	d.sessions++
	d.sessionsMu.Unlock()
}

func (d *Daemon) sessionsSinceSync() int {
	d.sessionsMu.Lock()
	defer d.sessionsMu.Unlock()
	return d.sessions
}

func (d *Daemon) resetSessions() {
	d.sessionsMu.Lock()
	d.sessions = 0
	d.sessionsMu.Unlock()
}

// Start begins the daemon's operation: an initial full sync, then the
// watcher and the periodic loops. Blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(d.itemsDir, 0755); err != nil {
		return fmt.Errorf("failed to create items directory: %w", err)
	}

	res, err := d.orc.FullSync(ctx, false)
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	d.publishRun("full", res)
	d.resetSessions()

	if err := d.watcher.Add(d.itemsDir); err != nil {
		return fmt.Errorf("failed to watch items directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.itemsDir)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.evaluateTriggers()

	if d.config.ConflictPassInterval > 0 {
		d.wg.Add(1)
		go d.runConflictPasses()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue drains the change queue on a debounce tick.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges syncs files that have sat in the queue past the
// debounce interval. Item deletions take the same path: the orchestrator
// resolves a missing file to a deletion.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) >= d.config.DebounceInterval {
			ready = append(ready, path)
			delete(d.changeQueue, path)
		}
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		d.config.Logger.Printf("Processing change: %s", id)

		res, err := d.orc.SyncItem(d.ctx, id)
		if err != nil {
			d.config.Logger.Printf("Error syncing item %s: %v", id, err)
			continue
		}
		d.publishRun("item", res)
	}
}

// evaluateTriggers periodically checks the trigger conditions and starts
// a run when one fires.
func (d *Daemon) evaluateTriggers() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.TriggerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.maybeSync()
		}
	}
}

func (d *Daemon) maybeSync() {
	st, err := d.orc.State(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error loading state: %v", err)
		return
	}

	decision := trigger.Evaluate(d.config.Trigger, st, trigger.Context{
		SessionsSinceLastSync: d.sessionsSinceSync(),
		Now:                   time.Now(),
	})
	if !decision.ShouldSync {
		return
	}
	d.config.Logger.Printf("Trigger fired: %s", decision.Reason)

	var res *orchestrator.SyncResult
	mode := "incremental"
	if st.LastKnowledgeCommit == "" {
		mode = "full"
		res, err = d.orc.FullSync(d.ctx, false)
	} else {
		res, err = d.orc.IncrementalSync(d.ctx)
	}
	if err != nil {
		d.config.Logger.Printf("Error running triggered sync: %v", err)
		return
	}
	d.resetSessions()
	d.publishRun(mode, res)
}

// runConflictPasses periodically detects and resolves conflicts.
func (d *Daemon) runConflictPasses() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ConflictPassInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			result, err := d.orc.RunConflictPass(d.ctx)
			if err != nil {
				d.config.Logger.Printf("Error in conflict pass: %v", err)
				continue
			}
			if len(result.Conflicts) > 0 {
				d.config.Logger.Printf("Conflict pass: %d detected, %d resolved",
					len(result.Conflicts), result.Resolved)
				d.publishConflictPass(result)
			}
		}
	}
}

func (d *Daemon) publishRun(mode string, res *orchestrator.SyncResult) {
	if d.events == nil {
		return
	}
	d.events.PublishRun(mode, res)
	if st, err := d.orc.State(d.ctx); err == nil {
		d.events.PublishStats(st.Stats)
	}
}

func (d *Daemon) publishConflictPass(res *orchestrator.ConflictPassResult) {
	if d.events != nil {
		d.events.PublishConflictPass(res)
	}
}
