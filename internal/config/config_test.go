package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scope != "default" {
		t.Errorf("scope = %q", cfg.Scope)
	}
	if cfg.Sync.ApplyConcurrency != 4 {
		t.Errorf("apply concurrency = %d", cfg.Sync.ApplyConcurrency)
	}
	if cfg.Trigger.StalenessThreshold != time.Hour {
		t.Errorf("staleness threshold = %v", cfg.Trigger.StalenessThreshold)
	}
	if cfg.Dashboard.Enabled {
		t.Error("dashboard must default off")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kbridge.yaml")
	body := `
knowledge_dir: /srv/knowledge
scope: team-a
sync:
  apply_concurrency: 8
  call_timeout: 30s
trigger:
  session_threshold: 5
dashboard:
  enabled: true
  port: 9001
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.KnowledgeDir != "/srv/knowledge" || cfg.Scope != "team-a" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Sync.ApplyConcurrency != 8 || cfg.Sync.CallTimeout != 30*time.Second {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Trigger.SessionThreshold != 5 {
		t.Errorf("trigger = %+v", cfg.Trigger)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9001 {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}
	// File values merge over defaults.
	if cfg.Sync.RetryAttempts != 3 {
		t.Errorf("retry attempts = %d", cfg.Sync.RetryAttempts)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("explicitly named missing file must error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("KB_SCOPE", "env-scope")
	t.Setenv("KB_SYNC_APPLY_CONCURRENCY", "16")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scope != "env-scope" {
		t.Errorf("scope = %q", cfg.Scope)
	}
	if cfg.Sync.ApplyConcurrency != 16 {
		t.Errorf("apply concurrency = %d", cfg.Sync.ApplyConcurrency)
	}
}

func TestConversions(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	oc := cfg.Orchestrator()
	if oc.Scope != "default" || oc.ApplyConcurrency != 4 {
		t.Errorf("orchestrator config = %+v", oc)
	}

	dc := cfg.DaemonConfig()
	if dc.Trigger.StalenessThreshold != time.Hour {
		t.Errorf("daemon trigger = %+v", dc.Trigger)
	}
	if dc.Logger == nil {
		t.Error("daemon config logger must have a default")
	}
}
