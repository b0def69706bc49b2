// Package config loads the service configuration from YAML with
// environment overrides for the deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML structure.
type Config struct {
	Server        ServerConf        `yaml:"server"`
	Database      DatabaseConf      `yaml:"database"`
	Engine        EngineConf        `yaml:"engine"`
	Notify        NotifyConf        `yaml:"notify"`
	Uploads       UploadsConf       `yaml:"uploads"`
	Collaborators CollaboratorsConf `yaml:"collaborators"`
}

type ServerConf struct {
	Port           int `yaml:"port"`
	ReadTimeoutMs  int `yaml:"read_timeout_ms"`
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
}

type DatabaseConf struct {
	// URL is a Postgres DSN. Empty runs the service on in-memory
	// stores, which is what the test and demo setups use.
	URL string `yaml:"url"`
}

type EngineConf struct {
	// Timezone is the IANA zone temporal conditions evaluate in.
	Timezone string `yaml:"timezone"`
	// CollaboratorTimeoutMs bounds one scorer or graph call.
	CollaboratorTimeoutMs int `yaml:"collaborator_timeout_ms"`
	// WindowSize caps the per-project recent-event buffer.
	WindowSize    int `yaml:"window_size"`
	ActionWorkers int `yaml:"action_workers"`
	QueueDepth    int `yaml:"queue_depth"`
	// ActionTimeoutMs bounds one action execution.
	ActionTimeoutMs int `yaml:"action_timeout_ms"`
}

type NotifyConf struct {
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms"`
	ClientBuffer        int `yaml:"client_buffer"`
}

type UploadsConf struct {
	Dir string `yaml:"dir"`
}

// CollaboratorsConf points at the sibling services. Empty URLs leave
// the corresponding condition kinds and actions unconfigured; they
// evaluate to no-match or fail observably.
type CollaboratorsConf struct {
	SimilarityURL string `yaml:"similarity_url"`
	GraphURL      string `yaml:"graph_url"`
	PromptURL     string `yaml:"prompt_url"`
	WorkflowURL   string `yaml:"workflow_url"`
	IntentURL     string `yaml:"intent_url"`
}

// Load reads the YAML file at path, fills defaults, and applies
// environment overrides. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 15000
	}
	if c.Server.WriteTimeoutMs == 0 {
		// Streaming responses hold the connection open, so the write
		// timeout is disabled rather than defaulted.
		c.Server.WriteTimeoutMs = -1
	}
	if c.Engine.Timezone == "" {
		c.Engine.Timezone = "UTC"
	}
	if c.Engine.CollaboratorTimeoutMs == 0 {
		c.Engine.CollaboratorTimeoutMs = 5000
	}
	if c.Engine.WindowSize == 0 {
		c.Engine.WindowSize = 512
	}
	if c.Engine.ActionWorkers == 0 {
		c.Engine.ActionWorkers = 4
	}
	if c.Engine.QueueDepth == 0 {
		c.Engine.QueueDepth = c.Engine.ActionWorkers * 16
	}
	if c.Engine.ActionTimeoutMs == 0 {
		c.Engine.ActionTimeoutMs = 30000
	}
	if c.Notify.HeartbeatIntervalMs == 0 {
		c.Notify.HeartbeatIntervalMs = 30000
	}
	if c.Notify.ClientBuffer == 0 {
		c.Notify.ClientBuffer = 64
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "uploads"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("UPLOADS_DIR"); v != "" {
		c.Uploads.Dir = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("engine.timezone: %w", err)
	}
	if c.Engine.WindowSize < 0 {
		return fmt.Errorf("engine.window_size must be >= 0")
	}
	return nil
}

// Location resolves the configured timezone. validate already checked
// it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) CollaboratorTimeout() time.Duration {
	return time.Duration(c.Engine.CollaboratorTimeoutMs) * time.Millisecond
}

func (c *Config) ActionTimeout() time.Duration {
	return time.Duration(c.Engine.ActionTimeoutMs) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Notify.HeartbeatIntervalMs) * time.Millisecond
}

// WriteTimeout returns the HTTP write timeout; zero means disabled.
func (c *Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeoutMs < 0 {
		return 0
	}
	return time.Duration(c.Server.WriteTimeoutMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutMs) * time.Millisecond
}
