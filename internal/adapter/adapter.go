// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package adapter defines the stable contract every agent implementation
// satisfies, plus three concrete variants: an NDJSON streaming CLI
// (Adapter A), a JSON-RPC/ACP client (Adapter B), and a template-invoked
// one-shot CLI (Adapter C).
package adapter

import (
	"context"
	"time"

	"github.com/agendo/workerd/internal/model"
)

// SpawnOptions configures how an adapter starts or resumes a child.
type SpawnOptions struct {
	CWD               string
	Env               map[string]string
	ExecutionID       string
	TimeoutSec        int
	MaxOutputBytes    int64
	PersistentSession bool
	PermissionMode    string
	AllowedTools      []string
	ExtraArgs         []string
	MCPConfigPath     string
	MCPServers        []string
	InitialImage      string
	SessionID         string
	StrictMCPConfig   bool
	Model             string
	MaxBudgetUSD      float64
	FallbackModel     string
}

// ExitInfo is delivered to OnExit. Flags classify why the child stopped so
// the supervisor's exit handler can choose the right state transition.
type ExitInfo struct {
	Code                int
	CancelKilled        bool
	TerminateKilled     bool
	ModeChangeRestart   bool
	ClearContextRestart bool
	// ResumeRebuilt is set when the adapter recovered from a stale
	// sessionRef by rewriting a fresh history file and is exiting so the
	// supervisor can re-enqueue a resume against the rebuilt reference,
	// instead of discarding conversation history the way
	// ClearContextRestart does.
	ResumeRebuilt bool
}

// ApprovalFunc is wired by the supervisor to gate a tool-use block; it
// blocks until a decision is resolved and returns the (possibly updated)
// decision to forward back into the adapter's wire protocol.
type ApprovalFunc func(ctx context.Context, req model.ApprovalRequest) model.ApprovalResolution

// Adapter is the contract every agent wire-protocol implementation
// satisfies. Mapped events flow out through OnData; the supervisor stamps
// sequence numbers and publishes/logs them.
type Adapter interface {
	// Spawn starts the child in a new process group.
	Spawn(ctx context.Context, prompt string, opts SpawnOptions) error
	// Resume restarts from the adapter's notion of a prior session.
	Resume(ctx context.Context, sessionRef, prompt string, opts SpawnOptions) error

	// SendMessage pushes one turn into the running child.
	SendMessage(ctx context.Context, text string, imagePath string) error
	// Interrupt delivers a soft cancel (signal- or notification-based).
	Interrupt(ctx context.Context) error
	// Kill sends signal directly to the child's process group.
	Kill(sig Signal) error

	// SetPermissionMode sends the in-band mode-change control.
	SetPermissionMode(ctx context.Context, mode string) error
	// SetModel may require tearing down and relaunching the child; iff the
	// agent supports session-load the session reference is preserved,
	// otherwise the returned bool is false and the caller must reset it.
	SetModel(ctx context.Context, model string) (sessionRefPreserved bool, err error)

	// OnData registers the canonical-event callback. Called from the
	// adapter's own read goroutine; the supervisor serializes.
	OnData(cb func(model.AgendoEvent))
	// OnExit registers the process-exit callback, called exactly once.
	OnExit(cb func(ExitInfo))
	// OnThinkingChange fires true when output resumes after a turn, false
	// when the turn finishes.
	OnThinkingChange(cb func(thinking bool))
	// OnSessionRef fires exactly once per agent-assigned reference.
	OnSessionRef(cb func(ref string))
	// SetApprovalHandler wires per-tool gating.
	SetApprovalHandler(fn ApprovalFunc)

	// FlushPendingText returns and clears any bytes still held in the
	// adapter's own data buffer that have not yet formed a complete line,
	// so the supervisor can surface them as a final agent:text on the
	// transition into awaiting_input (§4.2). Returns "" when nothing is
	// buffered; adapters with no such buffering concern always return "".
	FlushPendingText() string

	// PID returns the child's process id, or 0 if not running.
	PID() int
	// IsAlive returns false once stdin is no longer writable.
	IsAlive() bool
}

// Signal is the subset of the SIGINT→SIGTERM→SIGKILL escalation ladder an
// adapter must be able to deliver to its child's process group.
type Signal int

const (
	SigInt Signal = iota
	SigTerm
	SigKill
)

// Timeout tiers for Adapter B, per §4.3.
const (
	HandshakeTimeout = 30 * time.Second
	PromptTimeout    = 10 * time.Minute
)

// KillEscalationDelay is the fixed delay before escalating a soft
// cancel/terminate/idle-timeout to SIGKILL.
const KillEscalationDelay = 5 * time.Second
