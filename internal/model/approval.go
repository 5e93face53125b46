// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package model

// ApprovalRequest is what an adapter hands the supervisor when a child
// intercepts a tool-use block awaiting a gate decision.
type ApprovalRequest struct {
	ApprovalID string
	// ToolUseID is the tool_use content-block id the corresponding
	// agent:tool-start event already carried, distinct from ApprovalID
	// (the control_request's own request id). A synthetic tool-end on
	// interrupt or denial must key off this field, not ApprovalID, or the
	// UI's already-displayed tool-start card never receives its match.
	ToolUseID string
	ToolName  string
	ToolInput map[string]any
	IsAskUser bool
	Questions []string
}

// ApprovalResolution is the decision delivered back into the gate's
// single-capacity channel, either by the user or by a drain-on-cancel.
type ApprovalResolution struct {
	Decision     ApprovalDecision
	UpdatedInput map[string]any
	Answers      []string

	// NewPermissionMode and PostApprovalCompact only apply to the
	// ExitPlanMode tool's two-option resolution (§4.5 items 4-5): the mode
	// to switch to either on restart or via an in-band set-permission-mode
	// control, and whether to push /compact once that mode change settles.
	NewPermissionMode   string
	PostApprovalCompact bool
}

// DangerLevel is a coarse classification surfaced alongside tool-approval
// events so a UI can style the prompt without knowing every tool name.
type DangerLevel string

const (
	DangerLow    DangerLevel = "low"
	DangerMedium DangerLevel = "medium"
	DangerHigh   DangerLevel = "high"
)

// highDangerTools are commands capable of irreversible or wide-blast-radius
// effects; mediumDangerTools write but are scoped to the working tree.
var highDangerTools = map[string]struct{}{
	"Bash":            {},
	"bash":            {},
	"shell":           {},
	"execute_command": {},
}

var mediumDangerTools = map[string]struct{}{
	"Write":        {},
	"Edit":         {},
	"write_file":   {},
	"replace":      {},
	"NotebookEdit": {},
}

// ClassifyDanger derives a DangerLevel for an approval event from the tool
// name alone; it never inspects ToolInput (that is free-form per agent).
func ClassifyDanger(toolName string) DangerLevel {
	if _, ok := highDangerTools[toolName]; ok {
		return DangerHigh
	}
	if _, ok := mediumDangerTools[toolName]; ok {
		return DangerMedium
	}
	return DangerLow
}

// Slot is an abstract scheduling token. A supervisor holds a slot from
// claim until its release future resolves, at the earlier of first
// transition to awaiting_input or process exit.
type Slot struct {
	SessionID string
}
