// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

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

// fakeAdapter is a minimal in-memory adapter.Adapter for exercising the
// supervisor's event pipeline and state machine without a real child
// process.
type fakeAdapter struct {
	pid int

	onData  func(model.AgendoEvent)
	onExit  func(adapter.ExitInfo)
	onThink func(bool)
	onRef   func(string)
	approve adapter.ApprovalFunc

	sentMessages []string
	killed       []adapter.Signal
	interrupted  bool
}

func (a *fakeAdapter) Spawn(ctx context.Context, prompt string, opts adapter.SpawnOptions) error {
	a.pid = 4242
	if prompt != "" {
		a.sentMessages = append(a.sentMessages, prompt)
	}
	return nil
}
func (a *fakeAdapter) Resume(ctx context.Context, ref, prompt string, opts adapter.SpawnOptions) error {
	a.pid = 4242
	return nil
}
func (a *fakeAdapter) SendMessage(ctx context.Context, text, imagePath string) error {
	a.sentMessages = append(a.sentMessages, text)
	return nil
}
func (a *fakeAdapter) Interrupt(ctx context.Context) error                      { a.interrupted = true; return nil }
func (a *fakeAdapter) Kill(sig adapter.Signal) error                            { a.killed = append(a.killed, sig); return nil }
func (a *fakeAdapter) SetPermissionMode(ctx context.Context, mode string) error { return nil }
func (a *fakeAdapter) OnData(cb func(model.AgendoEvent))                        { a.onData = cb }
func (a *fakeAdapter) OnExit(cb func(adapter.ExitInfo))                         { a.onExit = cb }
func (a *fakeAdapter) OnThinkingChange(cb func(bool))                           { a.onThink = cb }
func (a *fakeAdapter) OnSessionRef(cb func(string))                             { a.onRef = cb }
func (a *fakeAdapter) SetApprovalHandler(fn adapter.ApprovalFunc)               { a.approve = fn }
func (a *fakeAdapter) PID() int                                                 { return a.pid }
func (a *fakeAdapter) IsAlive() bool                                            { return a.pid != 0 }
func (a *fakeAdapter) FlushPendingText() string                                 { return "" }

// SetModel tears the child down with SIGTERM, as the NDJSON adapter does.
func (a *fakeAdapter) SetModel(ctx context.Context, m string) (bool, error) {
	return true, a.Kill(adapter.SigTerm)
}

func newTestSupervisor(t *testing.T, ad *fakeAdapter) (*Supervisor, store.SessionStore, *eventbus.Bus) {
	t.Helper()
	sessions, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, sessions.Create(context.Background(), &model.Session{ID: "s1", Status: model.StatusIdle}))

	bus := eventbus.New()
	t.Cleanup(func() { bus.Close() })

	sup := New(Config{
		WorkerID:   "w1",
		Store:      sessions,
		Bus:        bus,
		LogDir:     t.TempDir(),
		NewAdapter: func(sess *model.Session) adapter.Adapter { return ad },
		Logger:     zerolog.Nop(),
	})
	return sup, sessions, bus
}

func TestStartClaimsAndSpawns(t *testing.T) {
	ad := &fakeAdapter{}
	sup, sessions, _ := newTestSupervisor(t, ad)
	q := queue.New(1)
	slot, err := q.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	require.NoError(t, sup.Start(context.Background(), "s1", slot, StartOptions{InitialPrompt: "hello"}))

	got, err := sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, "w1", got.WorkerID)
	assert.Equal(t, 4242, got.PID)
	assert.Equal(t, []string{"hello"}, ad.sentMessages)
}

func TestStartFailsClaimReleasesSlotAndSignalsExit(t *testing.T) {
	ad := &fakeAdapter{}
	sup, sessions, _ := newTestSupervisor(t, ad)
	require.NoError(t, sessions.Save(context.Background(), &model.Session{ID: "s1", Status: model.StatusActive, WorkerID: "other"}))

	q := queue.New(1)
	slot, err := q.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	err = sup.Start(context.Background(), "s1", slot, StartOptions{})
	require.Error(t, err)

	select {
	case <-sup.WaitForExit():
	default:
		t.Fatal("expected WaitForExit to be signaled on claim failure")
	}
	select {
	case <-sup.WaitForSlotRelease():
	default:
		t.Fatal("expected slot release on claim failure")
	}
	assert.Equal(t, 0, q.InUse())
}

func TestEmitAssignsMonotonicSequence(t *testing.T) {
	ad := &fakeAdapter{}
	sup, _, _ := newTestSupervisor(t, ad)
	q := queue.New(1)
	slot, err := q.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background(), "s1", slot, StartOptions{}))

	sup.emit(model.AgendoEvent{Type: model.EventAgentText, Text: "one"})
	sup.emit(model.AgendoEvent{Type: model.EventAgentText, Text: "two"})

	events := sup.cfg.Bus.ReplaySince("s1", 0)
	require.Len(t, events, 2)
	assert.Less(t, events[0].ID, events[1].ID)
}

func TestOnThinkingChangeTransitionsAndReleasesSlot(t *testing.T) {
	ad := &fakeAdapter{}
	sup, sessions, _ := newTestSupervisor(t, ad)
	q := queue.New(1)
	slot, err := q.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background(), "s1", slot, StartOptions{}))

	ad.onThink(true)
	ad.onThink(false)

	select {
	case <-sup.WaitForSlotRelease():
	case <-time.After(time.Second):
		t.Fatal("expected slot release on turn end")
	}
	got, err := sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingInput, got.Status)
}

func TestOnExitIsIdempotent(t *testing.T) {
	ad := &fakeAdapter{}
	sup, sessions, _ := newTestSupervisor(t, ad)
	q := queue.New(1)
	slot, err := q.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background(), "s1", slot, StartOptions{}))

	ad.onExit(adapter.ExitInfo{Code: 0})
	assert.NotPanics(t, func() { ad.onExit(adapter.ExitInfo{Code: 0}) })

	got, err := sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIdle, got.Status)
	assert.Empty(t, got.WorkerID)
}

func TestInterruptDrainsApprovalsAndKillsSoftly(t *testing.T) {
	ad := &fakeAdapter{}
	sup, _, _ := newTestSupervisor(t, ad)
	q := queue.New(1)
	slot, err := q.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background(), "s1", slot, StartOptions{}))

	resCh := make(chan model.ApprovalResolution, 1)
	go func() {
		resCh <- sup.approvals.Request(context.Background(), sup.sess, model.ApprovalRequest{ApprovalID: "a1", ToolName: "Bash"})
	}()
	require.Eventually(t, func() bool { return len(sup.approvals.Pending()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sup.Interrupt(context.Background()))
	assert.True(t, ad.interrupted)

	select {
	case res := <-resCh:
		assert.Equal(t, model.DecisionDeny, res.Decision)
	case <-time.After(time.Second):
		t.Fatal("expected pending approval to be denied by interrupt")
	}
}

func TestSetModelPersistsAndTearsDown(t *testing.T) {
	ad := &fakeAdapter{}
	sup, sessions, _ := newTestSupervisor(t, ad)
	q := queue.New(1)
	slot, err := q.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background(), "s1", slot, StartOptions{}))

	require.NoError(t, sup.SetModel(context.Background(), "opus"))

	got, err := sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "opus", got.Model)
	assert.Contains(t, ad.killed, adapter.SigTerm)
}
