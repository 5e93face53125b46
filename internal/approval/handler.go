// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package approval gates a single tool-use block behind a single-shot
// decision: allow, allow-session, deny, or answer-question. The supervisor
// owns the session row and the event bus; this package only owns the
// pending-request bookkeeping, grounded on the teacher's WS
// permission_response forwarding generalized onto an in-process channel per
// approvalId.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agendo/workerd/internal/model"
)

// EmitFunc publishes the agent:tool-approval event the supervisor stamps
// and persists; Handler never touches the bus or log directly.
type EmitFunc func(model.AgendoEvent)

// pendingRequest pairs a decision channel with the request that opened it,
// so a caller resolving by approvalId (the only key the control wire
// carries) can still recover which tool/toolUseId it gated.
type pendingRequest struct {
	ch  chan model.ApprovalResolution
	req model.ApprovalRequest
}

// Handler tracks one pending decision channel per approvalId, scoped across
// every session a worker process is supervising.
type Handler struct {
	mu      sync.Mutex
	pending map[string]pendingRequest

	emit EmitFunc
}

// New constructs a Handler. emit may be nil in tests.
func New(emit EmitFunc) *Handler {
	return &Handler{
		pending: make(map[string]pendingRequest),
		emit:    emit,
	}
}

// Request gates one tool-use block. If sess already carries toolName in its
// allow-session set, it resolves immediately with DecisionAllow and no
// event is emitted. Otherwise it emits agent:tool-approval with a derived
// dangerLevel and blocks until Resolve is called for req.ApprovalID, the
// context is cancelled, or Drain discards it.
func (h *Handler) Request(ctx context.Context, sess *model.Session, req model.ApprovalRequest) model.ApprovalResolution {
	if !req.IsAskUser && sess.AllowsTool(req.ToolName) {
		return model.ApprovalResolution{Decision: model.DecisionAllow}
	}

	ch := make(chan model.ApprovalResolution, 1)
	h.mu.Lock()
	h.pending[req.ApprovalID] = pendingRequest{ch: ch, req: req}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, req.ApprovalID)
		h.mu.Unlock()
	}()

	if h.emit != nil {
		h.emit(model.AgendoEvent{
			Type:        model.EventToolApproval,
			Ts:          time.Now().UnixMilli(),
			ApprovalID:  req.ApprovalID,
			ToolUseID:   req.ToolUseID,
			ToolName:    req.ToolName,
			ToolInput:   req.ToolInput,
			DangerLevel: string(model.ClassifyDanger(req.ToolName)),
			AskUser:     req.IsAskUser,
		})
	}

	select {
	case <-ctx.Done():
		return model.ApprovalResolution{Decision: model.DecisionDeny}
	case res := <-ch:
		if res.Decision == model.DecisionAllowSession {
			sess.AllowTool(req.ToolName)
		}
		return res
	}
}

// Resolve delivers a user decision for a still-pending approvalId. It
// returns an error if the id is unknown (already resolved, drained, or
// never existed).
func (h *Handler) Resolve(approvalID string, res model.ApprovalResolution) error {
	h.mu.Lock()
	p, ok := h.pending[approvalID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("approval: no pending request %q", approvalID)
	}
	select {
	case p.ch <- res:
	default:
	}
	return nil
}

// Lookup returns the request that opened approvalId, if it is still
// pending — e.g. so a caller resolving by approvalId (the only key the
// control wire carries) can branch on ToolName before calling Resolve.
func (h *Handler) Lookup(approvalID string) (model.ApprovalRequest, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[approvalID]
	return p.req, ok
}

// Pending returns the approvalIds currently awaiting a decision, for the
// supervisor's interrupt-drain.
func (h *Handler) Pending() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.pending))
	for id := range h.pending {
		ids = append(ids, id)
	}
	return ids
}

// Drain resolves every pending approval (typically for one session, but the
// supervisor only ever calls this with the ids it collected from Pending
// for its own session) with deny, per the interrupt behavior in §4.5.
func (h *Handler) Drain(approvalIDs []string) {
	for _, id := range approvalIDs {
		h.mu.Lock()
		p, ok := h.pending[id]
		h.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case p.ch <- model.ApprovalResolution{Decision: model.DecisionDeny}:
		default:
		}
	}
}
