// Package config loads bridge configuration from kbridge.yaml and
// KB_-prefixed environment variables, with sensible defaults for
// everything.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/knowmesh/kbridge/internal/daemon"
	"github.com/knowmesh/kbridge/internal/orchestrator"
	"github.com/knowmesh/kbridge/internal/trigger"
)

// Config is the full bridge configuration.
type Config struct {
	// KnowledgeDir is the root of the knowledge repository
	// (items/*.json plus commits.jsonl).
	KnowledgeDir string `mapstructure:"knowledge_dir"`

	// MemoryDB is the SQLite file backing the memory store.
	MemoryDB string `mapstructure:"memory_db"`

	// StateDB is the SQLite file backing sync state, checkpoints,
	// and leases.
	StateDB string `mapstructure:"state_db"`

	// Scope identifies the tenant; runs for a scope are serialized.
	Scope string `mapstructure:"scope"`

	// PolicyFile optionally overrides conflict resolutions (YAML).
	PolicyFile string `mapstructure:"policy_file"`

	// LogFile, when set, sends daemon logs to a rotating file.
	LogFile string `mapstructure:"log_file"`

	Sync      SyncConfig      `mapstructure:"sync"`
	Trigger   TriggerConfig   `mapstructure:"trigger"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	ApplyConcurrency int           `mapstructure:"apply_concurrency"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
}

// TriggerConfig holds the sync trigger thresholds. Zero disables a
// condition.
type TriggerConfig struct {
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	SessionThreshold   int           `mapstructure:"session_threshold"`
	Interval           time.Duration `mapstructure:"interval"`
}

// DaemonConfig tunes the daemon loops.
type DaemonConfig struct {
	DebounceInterval     time.Duration `mapstructure:"debounce_interval"`
	TriggerInterval      time.Duration `mapstructure:"trigger_interval"`
	ConflictPassInterval time.Duration `mapstructure:"conflict_pass_interval"`
}

// DashboardConfig tunes the websocket dashboard.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads configuration. path may be empty, in which case kbridge.yaml
// is searched in the working directory; a missing file is not an error.
// Every key can be overridden via KB_ environment variables, e.g.
// KB_SYNC_APPLY_CONCURRENCY=8.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("knowledge_dir", ".kbridge/knowledge")
	v.SetDefault("memory_db", ".kbridge/memory.db")
	v.SetDefault("state_db", ".kbridge/state.db")
	v.SetDefault("scope", "default")
	v.SetDefault("sync.apply_concurrency", 4)
	v.SetDefault("sync.call_timeout", 10*time.Second)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.retry_base_delay", 100*time.Millisecond)
	v.SetDefault("sync.lease_ttl", 2*time.Minute)
	v.SetDefault("trigger.staleness_threshold", time.Hour)
	v.SetDefault("trigger.session_threshold", 0)
	v.SetDefault("trigger.interval", time.Duration(0))
	v.SetDefault("daemon.debounce_interval", 100*time.Millisecond)
	v.SetDefault("daemon.trigger_interval", 30*time.Second)
	v.SetDefault("daemon.conflict_pass_interval", 5*time.Minute)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8090)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("KB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Orchestrator converts the sync section into an orchestrator.Config.
// The holder is filled by the orchestrator's defaults.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Scope:            c.Scope,
		LeaseTTL:         c.Sync.LeaseTTL,
		ApplyConcurrency: c.Sync.ApplyConcurrency,
		CallTimeout:      c.Sync.CallTimeout,
		RetryAttempts:    c.Sync.RetryAttempts,
		RetryBaseDelay:   c.Sync.RetryBaseDelay,
	}
}

// TriggerConfig converts the trigger section.
func (c *Config) TriggerConfig() trigger.Config {
	return trigger.Config{
		StalenessThreshold: c.Trigger.StalenessThreshold,
		SessionThreshold:   c.Trigger.SessionThreshold,
		Interval:           c.Trigger.Interval,
	}
}

// DaemonConfig converts the daemon section. Logger is left for the
// caller to fill.
func (c *Config) DaemonConfig() *daemon.Config {
	cfg := daemon.DefaultConfig()
	cfg.DebounceInterval = c.Daemon.DebounceInterval
	cfg.TriggerInterval = c.Daemon.TriggerInterval
	cfg.ConflictPassInterval = c.Daemon.ConflictPassInterval
	cfg.Trigger = c.TriggerConfig()
	return cfg
}
