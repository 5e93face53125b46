// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package model

// ControlType discriminates AgendoControl, the inbound message vocabulary
// from the control channel. Controls carry no sequence number; the latest
// delivery wins per variant where that is meaningful (e.g. set-model).
type ControlType string

const (
	ControlMessage        ControlType = "message"
	ControlCancel         ControlType = "cancel"
	ControlInterrupt      ControlType = "interrupt"
	ControlRedirect       ControlType = "redirect"
	ControlToolApproval   ControlType = "tool-approval"
	ControlToolResult     ControlType = "tool-result"
	ControlAnswerQuestion ControlType = "answer-question"
	ControlSetPermission  ControlType = "set-permission-mode"
	ControlSetModel       ControlType = "set-model"
)

// ApprovalDecision is the user's resolution of a pending tool-use gate.
type ApprovalDecision string

const (
	DecisionAllow        ApprovalDecision = "allow"
	DecisionAllowSession ApprovalDecision = "allow-session"
	DecisionDeny         ApprovalDecision = "deny"
	DecisionAnswer       ApprovalDecision = "answer-question"
)

// AgendoControl is one inbound message from the control channel.
type AgendoControl struct {
	Type ControlType `json:"type"`

	Text     string `json:"text,omitempty"`
	ImageRef string `json:"imageRef,omitempty"`

	ApprovalID   string           `json:"approvalId,omitempty"`
	Decision     ApprovalDecision `json:"decision,omitempty"`
	UpdatedInput map[string]any   `json:"updatedInput,omitempty"`
	Questions    []string         `json:"questions,omitempty"`
	Answers      []string         `json:"answers,omitempty"`

	// PostApprovalCompact only applies to an ExitPlanMode "continue with
	// mode change" resolution (§4.5 item 5): push /compact once the
	// in-band permission-mode change has settled.
	PostApprovalCompact bool `json:"postApprovalCompact,omitempty"`

	ToolUseID  string `json:"toolUseId,omitempty"`
	ToolOutput string `json:"toolOutput,omitempty"`

	PermissionMode string `json:"permissionMode,omitempty"`
	Model          string `json:"model,omitempty"`
}
