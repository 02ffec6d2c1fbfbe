// Package config collects every tunable the state machine, dispatcher,
// and HTTP endpoint need in one struct, so tests can override them
// instead of reaching into global statics.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every broker tunable. Zero value is never used
// directly; call Defaults and then apply overrides.
type Config struct {
	// Addr is the loopback address the HTTP long-poll endpoint binds to.
	Addr string `yaml:"addr"`
	// ToolsDir is the directory the Tool Registry scans once at startup.
	ToolsDir string `yaml:"tools_dir"`
	// ToolExecutionTimeout bounds how long the Dispatcher waits for a
	// plugin result before giving up (TOOL_EXECUTION_TIMEOUT).
	ToolExecutionTimeout time.Duration `yaml:"tool_execution_timeout"`
	// LongPollDuration bounds how long a Poll request parks
	// (LONG_POLL_DURATION). Must be <= ToolExecutionTimeout.
	LongPollDuration time.Duration `yaml:"long_poll_duration"`
	// CommandChannelCapacity bounds the State Manager's command channel.
	CommandChannelCapacity int `yaml:"command_channel_capacity"`
	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level"`
	// AuditDBPath, if non-empty, enables the optional SQLite audit sink.
	AuditDBPath string `yaml:"audit_db_path"`
	// LockPath is where the single-instance PID lock is acquired.
	LockPath string `yaml:"lock_path"`
}

// Defaults returns the broker's out-of-the-box configuration.
func Defaults() Config {
	return Config{
		Addr:                   "127.0.0.1:44755",
		ToolsDir:               "./plugin/src/Tools",
		ToolExecutionTimeout:   30 * time.Second,
		LongPollDuration:       25 * time.Second,
		CommandChannelCapacity: 100,
		LogLevel:               "INFO",
		AuditDBPath:            "",
		LockPath:               defaultLockPath(),
	}
}

func defaultLockPath() string {
	return os.TempDir() + "/rbxstudio-mcp-broker.pid"
}

// LoadFile reads a YAML override file and applies it on top of Defaults.
// Any field absent from the file keeps its default value.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overlays the LOG_LEVEL and AUDIT_DB environment variables
// when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AUDIT_DB"); v != "" {
		c.AuditDBPath = v
	}
}

// Validate enforces the one cross-field invariant: the long-poll
// duration must never exceed the tool execution timeout, or a plugin
// could be told "no task" while its task is still legitimately in
// flight from the dispatcher's point of view.
func (c Config) Validate() error {
	if c.LongPollDuration > c.ToolExecutionTimeout {
		return fmt.Errorf("long_poll_duration (%s) must be <= tool_execution_timeout (%s)", c.LongPollDuration, c.ToolExecutionTimeout)
	}
	if c.CommandChannelCapacity <= 0 {
		return fmt.Errorf("command_channel_capacity must be positive, got %d", c.CommandChannelCapacity)
	}
	return nil
}
