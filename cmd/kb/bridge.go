package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/knowmesh/kbridge/internal/config"
	"github.com/knowmesh/kbridge/internal/conflict"
	"github.com/knowmesh/kbridge/internal/knowledge/fsrepo"
	"github.com/knowmesh/kbridge/internal/memory/sqlite"
	"github.com/knowmesh/kbridge/internal/orchestrator"
	"github.com/knowmesh/kbridge/internal/state"
)

// bridge bundles the opened collaborators behind one Close.
type bridge struct {
	repo   *fsrepo.Repo
	mem    *sqlite.Store
	states *state.Store
	orc    *orchestrator.Orchestrator
}

// openBridge opens the stores and builds an orchestrator from the loaded
// configuration. logSink receives structured run logs; nil means stderr.
func openBridge(cfg *config.Config, logSink io.Writer) (*bridge, error) {
	if logSink == nil {
		logSink = os.Stderr
	}

	for _, path := range []string{cfg.MemoryDB, cfg.StateDB} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	mem, err := sqlite.Open(cfg.MemoryDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	states, err := state.Open(cfg.StateDB)
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	policy, err := conflict.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		_ = mem.Close()
		_ = states.Close()
		return nil, err
	}

	ocfg := cfg.Orchestrator()
	ocfg.ConflictPolicy = policy

	repo := fsrepo.New(cfg.KnowledgeDir)
	logger := slog.New(slog.NewTextHandler(logSink, nil))

	return &bridge{
		repo:   repo,
		mem:    mem,
		states: states,
		orc:    orchestrator.New(repo, mem, states, ocfg, logger),
	}, nil
}

func (b *bridge) Close() {
	if err := b.mem.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close memory store: %v\n", err)
	}
	if err := b.states.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close state store: %v\n", err)
	}
}

// daemonLogSink returns the writer daemon logs go to: a rotating file
// when log_file is configured, stderr otherwise.
func daemonLogSink(cfg *config.Config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}
}

// newDaemonLogger builds the daemon's plain logger over the sink.
func newDaemonLogger(sink io.Writer) *log.Logger {
	return log.New(sink, "[daemon] ", log.LstdFlags)
}
