// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendo/workerd/internal/model"
)

func TestRequestAllowSessionPersistsToSession(t *testing.T) {
	var got []model.AgendoEvent
	h := New(func(ev model.AgendoEvent) { got = append(got, ev) })
	sess := &model.Session{ID: "s1"}

	done := make(chan model.ApprovalResolution, 1)
	go func() {
		done <- h.Request(context.Background(), sess, model.ApprovalRequest{
			ApprovalID: "a1",
			ToolName:   "Bash",
			ToolInput:  map[string]any{"command": "ls"},
		})
	}()

	require.Eventually(t, func() bool { return len(h.Pending()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, h.Resolve("a1", model.ApprovalResolution{Decision: model.DecisionAllowSession}))

	res := <-done
	assert.Equal(t, model.DecisionAllowSession, res.Decision)
	assert.True(t, sess.AllowsTool("Bash"))

	require.Len(t, got, 1)
	assert.Equal(t, model.EventToolApproval, got[0].Type)
	assert.Equal(t, string(model.DangerHigh), got[0].DangerLevel)
}

func TestRequestSkipsPromptWhenAlreadyAllowed(t *testing.T) {
	h := New(nil)
	sess := &model.Session{ID: "s1"}
	sess.AllowTool("Write")

	res := h.Request(context.Background(), sess, model.ApprovalRequest{
		ApprovalID: "a2",
		ToolName:   "Write",
	})
	assert.Equal(t, model.DecisionAllow, res.Decision)
	assert.Empty(t, h.Pending())
}

func TestDrainDeniesAllPending(t *testing.T) {
	h := New(nil)
	sess := &model.Session{ID: "s1"}

	results := make(chan model.ApprovalResolution, 2)
	for _, id := range []string{"a3", "a4"} {
		id := id
		go func() {
			results <- h.Request(context.Background(), sess, model.ApprovalRequest{ApprovalID: id, ToolName: "Read"})
		}()
	}

	require.Eventually(t, func() bool { return len(h.Pending()) == 2 }, time.Second, time.Millisecond)
	h.Drain(h.Pending())

	for i := 0; i < 2; i++ {
		res := <-results
		assert.Equal(t, model.DecisionDeny, res.Decision)
	}
}

func TestResolveUnknownIDReturnsError(t *testing.T) {
	h := New(nil)
	err := h.Resolve("missing", model.ApprovalResolution{Decision: model.DecisionDeny})
	assert.Error(t, err)
}

func TestRequestContextCancelDenies(t *testing.T) {
	h := New(nil)
	sess := &model.Session{ID: "s1"}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan model.ApprovalResolution, 1)
	go func() {
		done <- h.Request(ctx, sess, model.ApprovalRequest{ApprovalID: "a5", ToolName: "Bash"})
	}()
	require.Eventually(t, func() bool { return len(h.Pending()) == 1 }, time.Second, time.Millisecond)
	cancel()

	res := <-done
	assert.Equal(t, model.DecisionDeny, res.Decision)
}
