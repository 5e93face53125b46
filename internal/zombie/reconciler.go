// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package zombie runs the boot-time reconciliation pass: any session or
// execution row this worker still claims, but whose pid is no longer
// alive, is reset so a fresh supervisor can pick it up. Grounded on the
// teacher's internal/crashes/manager.go (boot-time scan over claimed
// state) and internal/service/crash.go (classifying why a process is
// gone), retargeted from "analyze a crashed service's logs" onto
// "recover a session orphaned by a worker restart".
package zombie

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/agendo/workerd/internal/model"
	"github.com/agendo/workerd/internal/store"
)

// MaxZombieRetries bounds the re-enqueue counter per §4.7, so a session
// that crashes immediately on every resume does not loop forever.
const MaxZombieRetries = 3

// ProbeFunc reports whether pid is still alive (kill(pid, 0) or
// equivalent).
type ProbeFunc func(pid int) bool

// RecoveryPromptFunc builds the replacement initialPrompt for a session
// being re-enqueued after an active-state crash.
type RecoveryPromptFunc func(sess *model.Session) string

// Reconciler performs the boot-time scan for one worker identity.
type Reconciler struct {
	Sessions       store.SessionStore
	Executions     store.ExecutionStore
	Probe          ProbeFunc
	Reenqueue      func(ctx context.Context, sessionID string) error
	RecoveryPrompt RecoveryPromptFunc
	Logger         zerolog.Logger
}

// Run scans every session and execution row claimed by workerID and
// resets the ones whose pid is no longer alive.
func (r *Reconciler) Run(ctx context.Context, workerID string) error {
	if err := r.reconcileSessions(ctx, workerID); err != nil {
		return err
	}
	return r.reconcileExecutions(ctx, workerID)
}

func (r *Reconciler) reconcileSessions(ctx context.Context, workerID string) error {
	sessions, err := r.Sessions.ListClaimedBy(ctx, workerID)
	if err != nil {
		return fmt.Errorf("zombie: list claimed sessions: %w", err)
	}

	for _, sess := range sessions {
		if sess.PID != 0 && r.Probe != nil && r.Probe(sess.PID) {
			continue
		}

		r.Logger.Warn().Str("sessionId", sess.ID).Int("pid", sess.PID).Msg("zombie: resetting orphaned session")

		priorStatus := sess.Status
		sess.Status = model.StatusIdle
		sess.WorkerID = ""
		sess.LastActiveAt = time.Now()

		shouldReenqueue := priorStatus == model.StatusActive && sess.SessionRef != ""
		if shouldReenqueue && sess.ZombieRetries >= MaxZombieRetries {
			r.Logger.Warn().Str("sessionId", sess.ID).Msg("zombie: retry budget exhausted, leaving idle")
			shouldReenqueue = false
		}

		if shouldReenqueue {
			sess.ZombieRetries++
			if r.RecoveryPrompt != nil {
				sess.InitialPrompt = r.RecoveryPrompt(sess)
			}
		}

		if err := r.Sessions.Save(ctx, sess); err != nil {
			return fmt.Errorf("zombie: save session %s: %w", sess.ID, err)
		}

		if shouldReenqueue && r.Reenqueue != nil {
			if err := r.Reenqueue(ctx, sess.ID); err != nil {
				r.Logger.Error().Err(err).Str("sessionId", sess.ID).Msg("zombie: re-enqueue failed")
			}
		}
	}
	return nil
}

func (r *Reconciler) reconcileExecutions(ctx context.Context, workerID string) error {
	if r.Executions == nil {
		return nil
	}
	executions, err := r.Executions.ListClaimedBy(ctx, workerID)
	if err != nil {
		return fmt.Errorf("zombie: list claimed executions: %w", err)
	}

	for _, ex := range executions {
		if ex.PID != 0 && r.Probe != nil && r.Probe(ex.PID) {
			continue
		}
		r.Logger.Warn().Str("executionId", ex.ID).Int("pid", ex.PID).Msg("zombie: marking orphaned execution failed")
		ex.Status = model.ExecFailed
		ex.Error = "orphaned"
		ex.EndedAt = time.Now()
		if err := r.Executions.Save(ctx, ex); err != nil {
			return fmt.Errorf("zombie: save execution %s: %w", ex.ID, err)
		}
	}
	return nil
}
