// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package control holds the pure control-message validation and dispatch
// logic shared by the session supervisor and any boundary (HTTP, team
// inbox) that accepts an inbound AgendoControl. Grounded on the teacher's
// `switch msg.Type` dispatch in the claude WebSocket handler, generalized
// into a standalone function over an interface instead of being inlined in
// one handler.
package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/agendo/workerd/internal/model"
)

// ErrInvalidState is returned when a control message does not apply to the
// session's current status (e.g. a message pushed to an ended session).
var ErrInvalidState = errors.New("control: not valid in current session state")

// Supervisor is the subset of supervisor behavior a dispatched control can
// invoke. The real implementation lives in internal/supervisor; this
// interface exists so control logic and its tests do not depend on the
// full supervisor or its adapter plumbing.
type Supervisor interface {
	PushMessage(ctx context.Context, text, imageRef string) error
	Interrupt(ctx context.Context) error
	ResolveApproval(approvalID string, res model.ApprovalResolution) error
	ForwardToolResult(ctx context.Context, toolUseID, output string) error
	SetPermissionMode(ctx context.Context, mode string) error
	SetModel(ctx context.Context, model string) error
}

// CanPushMessage reports whether a message/tool-result may be delivered to
// a session currently in status.
func CanPushMessage(status model.SessionStatus) bool {
	return status == model.StatusActive || status == model.StatusAwaitingInput
}

// Dispatch validates ctrl against status and invokes the matching
// Supervisor method. ErrInvalidState is returned (not a panic, not a
// dropped message) when the control does not apply to the current state,
// so the caller can log it as a warning per §4.5's tool-result pushback
// rule.
func Dispatch(ctx context.Context, sup Supervisor, status model.SessionStatus, ctrl model.AgendoControl) error {
	switch ctrl.Type {
	case model.ControlMessage:
		if !CanPushMessage(status) {
			return ErrInvalidState
		}
		return sup.PushMessage(ctx, ctrl.Text, ctrl.ImageRef)

	case model.ControlCancel, model.ControlInterrupt:
		return sup.Interrupt(ctx)

	case model.ControlToolApproval:
		return sup.ResolveApproval(ctrl.ApprovalID, model.ApprovalResolution{
			Decision:            ctrl.Decision,
			UpdatedInput:        ctrl.UpdatedInput,
			NewPermissionMode:   ctrl.PermissionMode,
			PostApprovalCompact: ctrl.PostApprovalCompact,
		})

	case model.ControlAnswerQuestion:
		return sup.ResolveApproval(ctrl.ApprovalID, model.ApprovalResolution{
			Decision: model.DecisionAnswer,
			Answers:  ctrl.Answers,
		})

	case model.ControlToolResult:
		if !CanPushMessage(status) {
			return ErrInvalidState
		}
		return sup.ForwardToolResult(ctx, ctrl.ToolUseID, ctrl.ToolOutput)

	case model.ControlRedirect:
		if !CanPushMessage(status) {
			return ErrInvalidState
		}
		return sup.PushMessage(ctx, ctrl.Text, ctrl.ImageRef)

	case model.ControlSetPermission:
		return sup.SetPermissionMode(ctx, ctrl.PermissionMode)

	case model.ControlSetModel:
		return sup.SetModel(ctx, ctrl.Model)

	default:
		return fmt.Errorf("control: unknown control type %q", ctrl.Type)
	}
}
