// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package model holds the canonical data types shared by every worker
// component: the Session row, the outbound AgendoEvent stream, the inbound
// AgendoControl messages, and the scheduling primitives (Slot, Approval
// gate) that tie them together.
package model

import "time"

// SessionStatus is the lifecycle state of a session row.
type SessionStatus string

const (
	StatusActive        SessionStatus = "active"
	StatusAwaitingInput SessionStatus = "awaiting_input"
	StatusIdle          SessionStatus = "idle"
	StatusEnded         SessionStatus = "ended"
)

// PermissionMode mirrors the agent CLI's own permission-mode vocabulary;
// the worker never interprets these, only forwards them.
type PermissionMode string

// Session is the durable row a supervisor claims and mutates for the
// lifetime of one run. Only the worker holding the claim may write its
// lifecycle columns (status, workerId, pid, eventSeq, sessionRef).
type Session struct {
	ID             string
	AgentID        string
	CapabilityID   string
	ProjectID      string
	TaskID         string
	SessionRef     string // adapter-assigned identity; empty until first init
	Status         SessionStatus
	PermissionMode PermissionMode
	Model          string
	AllowedTools   map[string]struct{}
	InitialPrompt  string
	WorkerID       string
	PID            int
	StartedAt      time.Time
	HeartbeatAt    time.Time
	LastActiveAt   time.Time
	EndedAt        time.Time
	LogFilePath    string
	EventSeq       int64 // monotonically increasing, never reset across runs
	IdleTimeoutSec int
	PlanFilePath   string
	Title          string

	// ZombieRetries counts bounded auto-recovery re-enqueues; reset on
	// each successful transition to awaiting_input.
	ZombieRetries int

	// Token accounting, accumulated from the mapper's per-assistant-message
	// usage callback across every turn of this session's lifetime (§4.4).
	InputTokens              int
	CacheReadInputTokens     int
	CacheCreationInputTokens int
}

// IsClaimable reports whether a session row may be claimed by Start.
func (s *Session) IsClaimable() bool {
	return s.Status == StatusIdle || s.Status == StatusEnded
}

// AllowsTool reports whether toolName was previously allow-session'd.
func (s *Session) AllowsTool(toolName string) bool {
	if s.AllowedTools == nil {
		return false
	}
	_, ok := s.AllowedTools[toolName]
	return ok
}

// AllowTool persists toolName into the session's allowlist. Idempotent.
func (s *Session) AllowTool(toolName string) {
	if s.AllowedTools == nil {
		s.AllowedTools = make(map[string]struct{})
	}
	s.AllowedTools[toolName] = struct{}{}
}

// ExecutionStatus is the status vocabulary for one-shot template runs
// (Adapter C), which have no session/resume semantics.
type ExecutionStatus string

const (
	ExecQueued    ExecutionStatus = "queued"
	ExecRunning   ExecutionStatus = "running"
	ExecCancel    ExecutionStatus = "cancelling"
	ExecSucceeded ExecutionStatus = "succeeded"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
	ExecTimedOut  ExecutionStatus = "timed_out"
)
