package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Engine.Timezone != "UTC" {
		t.Errorf("timezone = %s, want UTC", cfg.Engine.Timezone)
	}
	if cfg.Engine.WindowSize != 512 {
		t.Errorf("window_size = %d, want 512", cfg.Engine.WindowSize)
	}
	if cfg.Notify.HeartbeatIntervalMs != 30000 {
		t.Errorf("heartbeat = %d, want 30000", cfg.Notify.HeartbeatIntervalMs)
	}
	if cfg.WriteTimeout() != 0 {
		t.Errorf("write timeout should default to disabled for streaming")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
engine:
  timezone: Europe/Berlin
  window_size: 128
collaborators:
  similarity_url: http://scorer:8000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Engine.Timezone != "Europe/Berlin" {
		t.Errorf("timezone = %s", cfg.Engine.Timezone)
	}
	if cfg.Engine.WindowSize != 128 {
		t.Errorf("window_size = %d", cfg.Engine.WindowSize)
	}
	if cfg.Collaborators.SimilarityURL != "http://scorer:8000" {
		t.Errorf("similarity_url = %s", cfg.Collaborators.SimilarityURL)
	}
	// Unset fields still get defaults.
	if cfg.Engine.ActionWorkers != 4 {
		t.Errorf("action_workers = %d, want 4", cfg.Engine.ActionWorkers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("DATABASE_URL", "postgres://env/db")

	path := writeConfig(t, "server:\n  port: 9090\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("env PORT should win, got %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("env DATABASE_URL should win, got %s", cfg.Database.URL)
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	path := writeConfig(t, "engine:\n  timezone: Mars/Olympus\n")
	if _, err := Load(path); err == nil {
		t.Error("Load accepted an unknown timezone")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map\n")
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed YAML")
	}
}
