// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for agendo-workerd.
package config

import "time"

// Config is the root configuration for one worker process (spec.md §A.3).
type Config struct {
	Version string `json:"version"`

	WorkerID           string `json:"worker_id"`
	Slots              int    `json:"slots"`                // concurrent session capacity (spec.md §4.2 N)
	DefaultIdleTimeout string `json:"default_idle_timeout"` // e.g. "15m"; 0/"" disables; not applied by the supervisor
	LogDir             string `json:"log_dir"`              // root for per-session NDJSON logs
	ZombieRetryMax     int    `json:"zombie_retry_max"`     // validated only; the reconciler uses zombie.MaxZombieRetries

	Server    ServerConfig             `json:"server"`
	Logging   LoggingConfig            `json:"logging"`
	TeamInbox TeamInboxConfig          `json:"team_inbox"`
	Adapters  map[string]AdapterConfig `json:"adapters"` // keyed by agent id (Session.AgentID), e.g. "claude", "acp-agent"
}

// ServerConfig configures the SSE/control HTTP boundary (internal/sseserver).
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// LoggingConfig configures process-wide structured logging (internal/logging).
type LoggingConfig struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "json", "console"
}

// TeamInboxConfig holds the leader-inbox poll interval (spec.md §4.9).
// internal/teaminbox does not read it; the monitor reacts to fsnotify
// write events only.
type TeamInboxConfig struct {
	PollInterval string `json:"poll_interval"` // e.g. "2s"
}

// AdapterConfig names one agent kind's wire protocol and launch details.
type AdapterConfig struct {
	Kind            string            `json:"kind"` // "ndjson", "jsonrpc", "template"
	Binary          string            `json:"binary"`
	ExtraArgs       []string          `json:"extra_args"`
	Env             map[string]string `json:"env"`
	MCPConfigPath   string            `json:"mcp_config_path"`
	StrictMCPConfig bool              `json:"strict_mcp_config"`
	CommandTemplate []string          `json:"command_template"` // Adapter C only (spec.md §4.3)
}

// IdleTimeoutDuration parses DefaultIdleTimeout, returning 0 (disabled) if
// unset or invalid.
func (c *Config) IdleTimeoutDuration() time.Duration {
	return ParseDuration(c.DefaultIdleTimeout, 0)
}

// TeamInboxPollInterval parses TeamInbox.PollInterval, defaulting to 2s.
func (c *Config) TeamInboxPollInterval() time.Duration {
	return ParseDuration(c.TeamInbox.PollInterval, 2*time.Second)
}

// ParseDuration parses a duration string, returning a default if empty or
// malformed.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
