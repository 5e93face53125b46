// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package activity runs the per-session background timers: a heartbeat
// ticker with a liveness probe, an idle timer, and an MCP health probe.
// Grounded on the teacher's internal/logs.Manager cleanup-loop style,
// generalized from "idle viewer" to "idle agent session".
package activity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/agendo/workerd/internal/model"
)

// DefaultHeartbeatInterval matches the 30s tier named alongside the
// kill-escalation delay.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultMCPProbeInterval is how often the MCP health probe runs.
const DefaultMCPProbeInterval = 60 * time.Second

// DefaultTeamIdleTimeout is the idle timeout the supervisor uses for any
// session whose row has no idleTimeoutSec; team and non-team sessions are
// not told apart there.
const DefaultTeamIdleTimeout = time.Hour

// ProbeFunc reports whether the supervised process is still alive, via
// kill(pid, 0) or equivalent.
type ProbeFunc func() (alive bool)

// MCPHealthFunc returns the servers that are currently unhealthy.
type MCPHealthFunc func(ctx context.Context) []string

// Config wires a Tracker to one session's callbacks. Every callback,
// including Emit, may be nil.
type Config struct {
	SessionID         string
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration // 0 disables the idle timer
	MCPProbeInterval  time.Duration

	Emit             func(model.AgendoEvent)
	OnHeartbeat      func()
	OnLivenessFailed func()
	OnIdleTimeout    func()
	Probe            ProbeFunc
	MCPHealth        MCPHealthFunc

	Logger zerolog.Logger
}

// Tracker owns the three timers for one session's lifetime. Call
// RecordActivity from every inbound control and every outbound agent event
// to reset the idle timer.
type Tracker struct {
	cfg Config

	activity chan struct{}
	stop     chan struct{}

	unhealthy map[string]bool
}

// New constructs a Tracker with defaults applied for zero-value durations.
func New(cfg Config) *Tracker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.MCPProbeInterval <= 0 {
		cfg.MCPProbeInterval = DefaultMCPProbeInterval
	}
	return &Tracker{
		cfg:       cfg,
		activity:  make(chan struct{}, 1),
		stop:      make(chan struct{}),
		unhealthy: make(map[string]bool),
	}
}

// RecordActivity resets the idle timer. Safe to call from any goroutine;
// non-blocking.
func (t *Tracker) RecordActivity() {
	select {
	case t.activity <- struct{}{}:
	default:
	}
}

// Stop halts all timers. Idempotent is not guaranteed; call exactly once.
func (t *Tracker) Stop() {
	close(t.stop)
}

// Run drives the timers until ctx is cancelled or Stop is called. Intended
// to be started in its own goroutine by the supervisor alongside the child
// process.
func (t *Tracker) Run(ctx context.Context) {
	heartbeat := time.NewTicker(t.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	var mcpTicker *time.Ticker
	var mcpC <-chan time.Time
	if t.cfg.MCPHealth != nil {
		mcpTicker = time.NewTicker(t.cfg.MCPProbeInterval)
		defer mcpTicker.Stop()
		mcpC = mcpTicker.C
	}

	idleTimeout := t.cfg.IdleTimeout
	var idleTimer *time.Timer
	var idleC <-chan time.Time
	if idleTimeout > 0 {
		idleTimer = time.NewTimer(idleTimeout)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return

		case <-t.activity:
			if idleTimer != nil {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(idleTimeout)
			}

		case <-heartbeat.C:
			if t.cfg.OnHeartbeat != nil {
				t.cfg.OnHeartbeat()
			}
			if t.cfg.Probe != nil && !t.cfg.Probe() {
				t.cfg.Logger.Warn().Str("sessionId", t.cfg.SessionID).Msg("activity: liveness probe failed")
				if t.cfg.OnLivenessFailed != nil {
					t.cfg.OnLivenessFailed()
				}
				return
			}

		case <-idleC:
			if t.cfg.Emit != nil {
				t.cfg.Emit(model.AgendoEvent{
					Type: model.EventSystemInfo,
					Ts:   time.Now().UnixMilli(),
					Text: "session idle, terminating",
				})
			}
			if t.cfg.OnIdleTimeout != nil {
				t.cfg.OnIdleTimeout()
			}
			return

		case <-mcpC:
			t.checkMCPHealth(ctx)
		}
	}
}

// checkMCPHealth polls the configured probe and emits system:mcp-status for
// any server whose health state changed since the last poll.
func (t *Tracker) checkMCPHealth(ctx context.Context) {
	unhealthyNow := make(map[string]bool)
	for _, name := range t.cfg.MCPHealth(ctx) {
		unhealthyNow[name] = true
	}

	for name := range unhealthyNow {
		if !t.unhealthy[name] && t.cfg.Emit != nil {
			t.cfg.Emit(model.AgendoEvent{
				Type:          model.EventSystemMCPStatus,
				Ts:            time.Now().UnixMilli(),
				MCPServerName: name,
				MCPHealthy:    false,
			})
		}
	}
	for name := range t.unhealthy {
		if !unhealthyNow[name] && t.cfg.Emit != nil {
			t.cfg.Emit(model.AgendoEvent{
				Type:          model.EventSystemMCPStatus,
				Ts:            time.Now().UnixMilli(),
				MCPServerName: name,
				MCPHealthy:    true,
			})
		}
	}
	t.unhealthy = unhealthyNow
}
