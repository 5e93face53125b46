// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package zombie

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendo/workerd/internal/model"
	"github.com/agendo/workerd/internal/store"
)

func TestReconcileResetsDeadSessionAndReenqueues(t *testing.T) {
	sessions, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, sessions.Create(ctx, &model.Session{
		ID: "s1", Status: model.StatusActive, WorkerID: "w1", PID: 99999, SessionRef: "ref-1",
	}))

	var reenqueued string
	r := &Reconciler{
		Sessions: sessions,
		Probe:    func(pid int) bool { return false },
		Reenqueue: func(ctx context.Context, sessionID string) error {
			reenqueued = sessionID
			return nil
		},
		RecoveryPrompt: func(sess *model.Session) string { return "recover: " + sess.ID },
	}
	require.NoError(t, r.Run(ctx, "w1"))

	got, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIdle, got.Status)
	assert.Empty(t, got.WorkerID)
	assert.Equal(t, 1, got.ZombieRetries)
	assert.Equal(t, "recover: s1", got.InitialPrompt)
	assert.Equal(t, "s1", reenqueued)
}

func TestReconcileSkipsAliveSession(t *testing.T) {
	sessions, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sessions.Create(ctx, &model.Session{ID: "s1", Status: model.StatusActive, WorkerID: "w1", PID: 1}))

	r := &Reconciler{Sessions: sessions, Probe: func(pid int) bool { return true }}
	require.NoError(t, r.Run(ctx, "w1"))

	got, err := sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
}

func TestReconcileStopsReenqueueAtRetryBudget(t *testing.T) {
	sessions, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sessions.Create(ctx, &model.Session{
		ID: "s1", Status: model.StatusActive, WorkerID: "w1", PID: 1, SessionRef: "ref-1", ZombieRetries: MaxZombieRetries,
	}))

	called := false
	r := &Reconciler{
		Sessions:  sessions,
		Probe:     func(pid int) bool { return false },
		Reenqueue: func(ctx context.Context, sessionID string) error { called = true; return nil },
	}
	require.NoError(t, r.Run(ctx, "w1"))
	assert.False(t, called)
}

func TestReconcileExecutionsMarksOrphaned(t *testing.T) {
	executions, err := store.NewFileExecutionStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, executions.Create(ctx, &store.Execution{ID: "e1", WorkerID: "w1", Status: model.ExecRunning, PID: 2}))

	r := &Reconciler{
		Sessions:   mustEmptySessionStore(t),
		Executions: executions,
		Probe:      func(pid int) bool { return false },
	}
	require.NoError(t, r.Run(ctx, "w1"))

	got, err := executions.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.ExecFailed, got.Status)
	assert.Equal(t, "orphaned", got.Error)
}

func mustEmptySessionStore(t *testing.T) store.SessionStore {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}
