// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendo/workerd/internal/model"
)

type fakeSupervisor struct {
	pushedText     string
	interrupted    bool
	resolvedID     string
	resolvedRes    model.ApprovalResolution
	toolResultID   string
	permissionMode string
	model          string
}

func (f *fakeSupervisor) PushMessage(ctx context.Context, text, imageRef string) error {
	f.pushedText = text
	return nil
}
func (f *fakeSupervisor) Interrupt(ctx context.Context) error { f.interrupted = true; return nil }
func (f *fakeSupervisor) ResolveApproval(approvalID string, res model.ApprovalResolution) error {
	f.resolvedID = approvalID
	f.resolvedRes = res
	return nil
}
func (f *fakeSupervisor) ForwardToolResult(ctx context.Context, toolUseID, output string) error {
	f.toolResultID = toolUseID
	return nil
}
func (f *fakeSupervisor) SetPermissionMode(ctx context.Context, mode string) error {
	f.permissionMode = mode
	return nil
}
func (f *fakeSupervisor) SetModel(ctx context.Context, model string) error {
	f.model = model
	return nil
}

func TestDispatchMessageRejectedWhenEnded(t *testing.T) {
	sup := &fakeSupervisor{}
	err := Dispatch(context.Background(), sup, model.StatusEnded, model.AgendoControl{Type: model.ControlMessage, Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, sup.pushedText)
}

func TestDispatchMessageAcceptedWhenAwaitingInput(t *testing.T) {
	sup := &fakeSupervisor{}
	err := Dispatch(context.Background(), sup, model.StatusAwaitingInput, model.AgendoControl{Type: model.ControlMessage, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", sup.pushedText)
}

func TestDispatchInterruptAlwaysAllowed(t *testing.T) {
	sup := &fakeSupervisor{}
	err := Dispatch(context.Background(), sup, model.StatusIdle, model.AgendoControl{Type: model.ControlInterrupt})
	require.NoError(t, err)
	assert.True(t, sup.interrupted)
}

func TestDispatchToolApprovalForwardsDecision(t *testing.T) {
	sup := &fakeSupervisor{}
	err := Dispatch(context.Background(), sup, model.StatusActive, model.AgendoControl{
		Type:       model.ControlToolApproval,
		ApprovalID: "a1",
		Decision:   model.DecisionAllowSession,
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", sup.resolvedID)
	assert.Equal(t, model.DecisionAllowSession, sup.resolvedRes.Decision)
}

func TestDispatchToolResultDroppedWhenNotClaimable(t *testing.T) {
	sup := &fakeSupervisor{}
	err := Dispatch(context.Background(), sup, model.StatusEnded, model.AgendoControl{
		Type:      model.ControlToolResult,
		ToolUseID: "t1",
	})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, sup.toolResultID)
}

func TestDispatchSetModelAlwaysForwarded(t *testing.T) {
	sup := &fakeSupervisor{}
	err := Dispatch(context.Background(), sup, model.StatusIdle, model.AgendoControl{Type: model.ControlSetModel, Model: "opus"})
	require.NoError(t, err)
	assert.Equal(t, "opus", sup.model)
}

func TestDispatchUnknownType(t *testing.T) {
	sup := &fakeSupervisor{}
	err := Dispatch(context.Background(), sup, model.StatusActive, model.AgendoControl{Type: model.ControlType("bogus")})
	assert.Error(t, err)
}
