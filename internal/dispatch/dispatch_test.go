// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendo/workerd/internal/adapter"
	"github.com/agendo/workerd/internal/eventbus"
	"github.com/agendo/workerd/internal/model"
	"github.com/agendo/workerd/internal/queue"
	"github.com/agendo/workerd/internal/store"
)

// fakeAdapter is the dispatch-package-local twin of supervisor's test
// double: just enough of adapter.Adapter to observe that Start spawned
// something, with no real child process involved.
type fakeAdapter struct {
	pid int

	onData  func(model.AgendoEvent)
	onExit  func(adapter.ExitInfo)
	onThink func(bool)
	onRef   func(string)
	approve adapter.ApprovalFunc
}

func (a *fakeAdapter) Spawn(ctx context.Context, prompt string, opts adapter.SpawnOptions) error {
	a.pid = 99
	return nil
}
func (a *fakeAdapter) Resume(ctx context.Context, ref, prompt string, opts adapter.SpawnOptions) error {
	a.pid = 99
	return nil
}
func (a *fakeAdapter) SendMessage(ctx context.Context, text, imagePath string) error { return nil }
func (a *fakeAdapter) Interrupt(ctx context.Context) error                           { return nil }
func (a *fakeAdapter) Kill(sig adapter.Signal) error                                 { return nil }
func (a *fakeAdapter) SetPermissionMode(ctx context.Context, mode string) error      { return nil }
func (a *fakeAdapter) SetModel(ctx context.Context, m string) (bool, error)          { return true, nil }
func (a *fakeAdapter) OnData(cb func(model.AgendoEvent))                             { a.onData = cb }
func (a *fakeAdapter) OnExit(cb func(adapter.ExitInfo))                              { a.onExit = cb }
func (a *fakeAdapter) OnThinkingChange(cb func(bool))                                { a.onThink = cb }
func (a *fakeAdapter) OnSessionRef(cb func(string))                                  { a.onRef = cb }
func (a *fakeAdapter) SetApprovalHandler(fn adapter.ApprovalFunc)                    { a.approve = fn }
func (a *fakeAdapter) PID() int                                                      { return a.pid }
func (a *fakeAdapter) IsAlive() bool                                                 { return a.pid != 0 }
func (a *fakeAdapter) FlushPendingText() string                                      { return "" }

func newTestDispatcher(t *testing.T, ad *fakeAdapter) (*Dispatcher, store.SessionStore, *queue.Queue) {
	t.Helper()
	sessions, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	bus := eventbus.New()
	t.Cleanup(func() { bus.Close() })

	q := queue.New(2)
	d := New(Config{
		WorkerID:   "w1",
		Store:      sessions,
		Bus:        bus,
		LogDir:     t.TempDir(),
		Queue:      q,
		NewAdapter: func(sess *model.Session) adapter.Adapter { return ad },
		Logger:     zerolog.Nop(),
	})
	return d, sessions, q
}

func TestStartClaimsSessionAndHoldsSlot(t *testing.T) {
	ad := &fakeAdapter{}
	d, sessions, q := newTestDispatcher(t, ad)
	require.NoError(t, sessions.Create(context.Background(), &model.Session{
		ID: "s1", Status: model.StatusIdle, InitialPrompt: "hello",
	}))

	require.NoError(t, d.Start(context.Background(), "s1"))

	require.Eventually(t, func() bool { return q.IsHeld("s1") }, time.Second, 10*time.Millisecond)

	sess, err := sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, sess.Status)
}

func TestStartIsNoOpWhenAlreadyHeldByThisWorker(t *testing.T) {
	ad := &fakeAdapter{}
	d, sessions, q := newTestDispatcher(t, ad)
	require.NoError(t, sessions.Create(context.Background(), &model.Session{ID: "s1", Status: model.StatusIdle}))

	require.NoError(t, d.Start(context.Background(), "s1"))
	require.Eventually(t, func() bool { return q.IsHeld("s1") }, time.Second, 10*time.Millisecond)

	require.NoError(t, d.Start(context.Background(), "s1"))
	assert.Equal(t, 1, q.InUse())
}

func TestStartErrorsWhenSessionUnknown(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeAdapter{})
	err := d.Start(context.Background(), "missing")
	assert.Error(t, err)
}
