// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package dispatch is the single entry point that turns a session id into
// a running supervisor: acquire a queue slot, build StartOptions from the
// persisted row, construct a fresh supervisor.Supervisor, and run it in
// the background. It is the generalization of the teacher's
// internal/claude.Manager.GetOrCreateSession (one row, one live handle,
// looked up or created on demand) onto "one claimed row, one supervisor
// task" — and it is what internal/zombie.Reconciler's Reenqueue callback
// and each supervisor's restart re-enqueue both call through.
package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agendo/workerd/internal/activity"
	"github.com/agendo/workerd/internal/adapter"
	"github.com/agendo/workerd/internal/eventbus"
	"github.com/agendo/workerd/internal/model"
	"github.com/agendo/workerd/internal/queue"
	"github.com/agendo/workerd/internal/store"
	"github.com/agendo/workerd/internal/supervisor"
)

// Config wires a Dispatcher to the worker-wide components every spawned
// supervisor needs.
type Config struct {
	WorkerID   string
	Store      store.SessionStore
	Bus        *eventbus.Bus
	LogDir     string
	Queue      *queue.Queue
	NewAdapter func(sess *model.Session) adapter.Adapter
	MCPHealth  activity.MCPHealthFunc
	Logger     zerolog.Logger
}

// Dispatcher hands claimable session rows to the queue and supervisor.
type Dispatcher struct {
	cfg Config
}

// New constructs a Dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg}
}

// Start acquires a slot for sessionID and runs its supervisor to
// completion in a background goroutine. It blocks only long enough to
// acquire the slot and read the row; callers that need to bound how long
// they wait for a free slot should pass a ctx with a deadline.
//
// This is the function wired as both zombie.Reconciler.Reenqueue (a
// crashed active session resuming under its recovery prompt) and the
// re-delivery path for a session some external caller marked idle and
// wants this worker to pick up next.
func (d *Dispatcher) Start(ctx context.Context, sessionID string) error {
	if d.cfg.Queue.IsHeld(sessionID) {
		d.cfg.Logger.Debug().Str("sessionId", sessionID).Msg("dispatch: already running under this worker, ignoring")
		return nil
	}

	sess, err := d.cfg.Store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("dispatch: get %s: %w", sessionID, err)
	}

	slot, err := d.cfg.Queue.Acquire(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("dispatch: acquire slot for %s: %w", sessionID, err)
	}

	sup := supervisor.New(supervisor.Config{
		WorkerID:   d.cfg.WorkerID,
		Store:      d.cfg.Store,
		Bus:        d.cfg.Bus,
		LogDir:     d.cfg.LogDir,
		NewAdapter: d.cfg.NewAdapter,
		Reenqueue:  d.Start,
		MCPHealth:  d.cfg.MCPHealth,
		Logger:     d.cfg.Logger.With().Str("sessionId", sessionID).Logger(),
	})

	opts := supervisor.StartOptions{
		ResumeRef:       sess.SessionRef,
		InitialPrompt:   sess.InitialPrompt,
		Model:           sess.Model,
		PermissionMode:  sess.PermissionMode,
		MCPConfigPath:   "",
		StrictMCPConfig: false,
	}

	go func() {
		bgCtx := context.Background()
		if err := sup.Start(bgCtx, sessionID, slot, opts); err != nil {
			d.cfg.Logger.Error().Err(err).Str("sessionId", sessionID).Msg("dispatch: supervisor start failed")
		}
	}()

	return nil
}
