// Package config provides configuration loading and validation.
//
// Static settings come from the environment (optionally via a .env
// file). Runtime policy knobs live in a YAML file that can be edited
// while the server runs; Watcher picks up changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds static server configuration from the environment.
type Config struct {
	Port           int
	DatabaseDriver string
	DatabaseDSN    string
	SandboxImage   string
	PreviewPort    int
	PolicyPath     string
	LogFormat      string // "text" or "json"
	LogLevel       string
}

// Policy holds the runtime-tunable knobs loaded from the policy file.
type Policy struct {
	// ExecTimeout bounds each shell action.
	ExecTimeout time.Duration `yaml:"exec_timeout"`

	// SandboxIdleTimeout is how long a sandbox may sit idle after its
	// generation finishes before the reaper destroys it. Zero disables
	// reaping.
	SandboxIdleTimeout time.Duration `yaml:"sandbox_idle_timeout"`

	// ActionQueueSize is the capacity of the bounded planner-to-manager
	// action queue. The planner blocks when it is full.
	ActionQueueSize int `yaml:"action_queue_size"`
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first if present.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env vars always win.
	_ = godotenv.Load()

	stateDir := filepath.Join(xdg.StateHome, "liveforge")

	cfg := &Config{
		Port:           envInt("LIVEFORGE_PORT", 8090),
		DatabaseDriver: envStr("LIVEFORGE_DB_DRIVER", "sqlite"),
		DatabaseDSN:    envStr("LIVEFORGE_DB_DSN", filepath.Join(stateDir, "liveforge.db")),
		SandboxImage:   envStr("LIVEFORGE_SANDBOX_IMAGE", "node:22-bookworm-slim"),
		PreviewPort:    envInt("LIVEFORGE_PREVIEW_PORT", 3000),
		PolicyPath:     envStr("LIVEFORGE_POLICY_FILE", filepath.Join(stateDir, "policy.yaml")),
		LogFormat:      envStr("LIVEFORGE_LOG_FORMAT", "text"),
		LogLevel:       envStr("LIVEFORGE_LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("invalid server port")
	}
	if c.PreviewPort < 1 || c.PreviewPort > 65535 {
		return errors.New("invalid preview port")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.DatabaseDriver)
	}
	if c.SandboxImage == "" {
		return errors.New("sandbox image is required")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

// DefaultPolicy returns a Policy with default values.
func DefaultPolicy() *Policy {
	return &Policy{
		ExecTimeout:        2 * time.Minute,
		SandboxIdleTimeout: 30 * time.Minute,
		ActionQueueSize:    64,
	}
}

// LoadPolicy reads and parses the policy file. A missing file yields
// the defaults.
func LoadPolicy(path string) (*Policy, error) {
	path = filepath.Clean(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("read policy: %w", err)
	}

	pol := DefaultPolicy()
	if err := yaml.Unmarshal(data, pol); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	return pol, nil
}

// UnmarshalYAML accepts durations in the usual "90s" / "2m" form,
// which yaml.v3 does not decode into time.Duration on its own. Keys
// absent from the file keep whatever the Policy already holds.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ExecTimeout        string `yaml:"exec_timeout"`
		SandboxIdleTimeout string `yaml:"sandbox_idle_timeout"`
		ActionQueueSize    *int   `yaml:"action_queue_size"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.ExecTimeout != "" {
		d, err := time.ParseDuration(raw.ExecTimeout)
		if err != nil {
			return fmt.Errorf("exec_timeout: %w", err)
		}
		p.ExecTimeout = d
	}
	if raw.SandboxIdleTimeout != "" {
		d, err := time.ParseDuration(raw.SandboxIdleTimeout)
		if err != nil {
			return fmt.Errorf("sandbox_idle_timeout: %w", err)
		}
		p.SandboxIdleTimeout = d
	}
	if raw.ActionQueueSize != nil {
		p.ActionQueueSize = *raw.ActionQueueSize
	}
	return nil
}

// Validate checks the policy for errors.
func (p *Policy) Validate() error {
	if p.ExecTimeout <= 0 {
		return errors.New("exec_timeout must be positive")
	}
	if p.SandboxIdleTimeout < 0 {
		return errors.New("sandbox_idle_timeout must not be negative")
	}
	if p.ActionQueueSize < 1 {
		return errors.New("action_queue_size must be at least 1")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
