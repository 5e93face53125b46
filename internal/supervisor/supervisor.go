// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package supervisor owns one session's run end to end: claiming the row,
// spawning or resuming the adapter, stamping and publishing every outbound
// event, dispatching inbound controls, and driving the state machine
// described in §4.1 (idle|ended -> active -> awaiting_input -> idle|ended).
// Grounded on the teacher's internal/claude.Manager (claim-by-row, one
// adapter instance per claim, event-stamping pipeline, ws control dispatch)
// generalized from "one Claude Code session per browser tab" onto "one
// agent session per claimed row, any adapter".
package supervisor

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agendo/workerd/internal/activity"
	"github.com/agendo/workerd/internal/adapter"
	"github.com/agendo/workerd/internal/approval"
	"github.com/agendo/workerd/internal/control"
	"github.com/agendo/workerd/internal/eventbus"
	"github.com/agendo/workerd/internal/model"
	"github.com/agendo/workerd/internal/queue"
	"github.com/agendo/workerd/internal/sessionlog"
	"github.com/agendo/workerd/internal/store"
	"github.com/agendo/workerd/internal/teaminbox"
)

// contextClearer is implemented by adapters that can discard agent-side
// history in place rather than always requiring a fresh sessionRef; both
// Adapter A and Adapter B satisfy it, Adapter C does not (it has no
// resumable history to clear).
type contextClearer interface {
	ClearContext() error
}

// historyRebuilder is implemented by adapters that can recover from a
// stale --resume target by rewriting conversation history to a fresh
// on-disk reference and reporting the new one back; only Adapter A needs
// this today (§4.3, E1).
type historyRebuilder interface {
	OnRebuildHistory(cb func() (string, bool))
}

// usageReporter is implemented by adapters that can surface token-usage
// accounting extracted from the wire protocol; only Adapter A does today.
type usageReporter interface {
	OnUsage(cb func(inputTokens, cacheReadInputTokens, cacheCreationInputTokens int))
}

// exitPlanModeSettleDelay is how long the supervisor waits after an
// ExitPlanMode "continue with mode change" allow before pushing the
// in-band set-permission-mode control, and again before an optional
// /compact, so both land after the tool's own response has reached the
// agent (§4.5 item 5; the spec names no concrete delay, so this picks one
// in line with the standard kill-escalation tier used elsewhere in this
// package).
const exitPlanModeSettleDelay = 2 * time.Second

// StartOptions configures one claim-to-spawn transition. ResumeRef is empty
// for a first spawn, set for every subsequent claim of a row that already
// has an adapter-assigned sessionRef.
type StartOptions struct {
	ResumeRef       string
	InitialPrompt   string
	DisplayText     string
	CWD             string
	EnvOverrides    map[string]string
	MCPConfigPath   string
	MCPServers      []string
	StrictMCPConfig bool
	InitialImage    string
	Model           string
	PermissionMode  string
	TeamConfigDir   string
}

// Config wires a Supervisor to the shared worker-wide components it needs
// for exactly one claimed session.
type Config struct {
	WorkerID   string
	Store      store.SessionStore
	Bus        *eventbus.Bus
	LogDir     string
	NewAdapter func(sess *model.Session) adapter.Adapter
	Reenqueue  func(ctx context.Context, sessionID string) error
	MCPHealth  activity.MCPHealthFunc
	Logger     zerolog.Logger
}

// Supervisor drives exactly one claimed session from Start to exit. A new
// instance must be constructed for each claim; it is not reusable.
type Supervisor struct {
	cfg Config

	mu   sync.Mutex
	sess *model.Session
	ad   adapter.Adapter
	log  *sessionlog.Writer
	team *teaminbox.Monitor
	cwd  string

	approvals *approval.Handler
	tracker   *activity.Tracker

	slot         *queue.Slot
	slotReleased bool
	exitHandled  bool
	exitSignaled bool
	activeTools  map[string]struct{}

	ctx          context.Context
	cancel       context.CancelFunc
	unsubControl func()

	exitCh        chan struct{}
	slotReleaseCh chan struct{}

	emitMu sync.Mutex
}

// New constructs a Supervisor ready to have Start called on it.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:           cfg,
		activeTools:   make(map[string]struct{}),
		exitCh:        make(chan struct{}),
		slotReleaseCh: make(chan struct{}),
	}
}

// Start claims sessionID, opens its durable log, spawns (or resumes) its
// adapter, and begins the background timers and control subscription. If
// the row is no longer claimable (a race with another worker, or a
// re-delivered queue job), Start releases slot and signals exit immediately
// so the caller never blocks on a session nobody is driving.
func (s *Supervisor) Start(ctx context.Context, sessionID string, slot *queue.Slot, opts StartOptions) error {
	s.slot = slot

	sess, err := s.cfg.Store.Claim(ctx, sessionID, s.cfg.WorkerID)
	if err != nil {
		s.releaseSlot()
		s.signalExit()
		return fmt.Errorf("supervisor: claim %s: %w", sessionID, err)
	}

	s.mu.Lock()
	s.sess = sess
	s.cwd = opts.CWD
	s.mu.Unlock()

	if opts.Model != "" {
		sess.Model = opts.Model
	}
	if opts.PermissionMode != "" {
		sess.PermissionMode = model.PermissionMode(opts.PermissionMode)
	}

	writer, err := sessionlog.Open(s.cfg.LogDir, sessionID, time.Now())
	if err != nil {
		return fmt.Errorf("supervisor: open log: %w", err)
	}
	s.log = writer
	sess.LogFilePath = writer.Path()
	if err := s.cfg.Store.Save(ctx, sess); err != nil {
		return fmt.Errorf("supervisor: save claimed row: %w", err)
	}

	ctrlCh, unsub, err := s.cfg.Bus.SubscribeControl(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("supervisor: subscribe control: %w", err)
	}
	s.unsubControl = unsub

	runCtx, cancel := context.WithCancel(context.Background())
	s.ctx = runCtx
	s.cancel = cancel

	s.approvals = approval.New(s.emit)
	s.ad = s.cfg.NewAdapter(sess)
	s.ad.OnData(s.onData)
	s.ad.OnExit(s.onExit)
	s.ad.OnThinkingChange(s.onThinkingChange)
	s.ad.OnSessionRef(s.onSessionRef)
	s.ad.SetApprovalHandler(func(ctx context.Context, req model.ApprovalRequest) model.ApprovalResolution {
		return s.approvals.Request(ctx, sess, req)
	})
	if hr, ok := s.ad.(historyRebuilder); ok {
		hr.OnRebuildHistory(s.rebuildCLISessionFile)
	}
	if ur, ok := s.ad.(usageReporter); ok {
		ur.OnUsage(s.onUsage)
	}

	spawnOpts := adapter.SpawnOptions{
		CWD:             opts.CWD,
		Env:             opts.EnvOverrides,
		SessionID:       sessionID,
		PermissionMode:  string(sess.PermissionMode),
		MCPConfigPath:   opts.MCPConfigPath,
		MCPServers:      opts.MCPServers,
		StrictMCPConfig: opts.StrictMCPConfig,
		Model:           sess.Model,
		InitialImage:    opts.InitialImage,
	}

	// The tracker (and its RecordActivity/OnHeartbeat closures, read by
	// emit/PushMessage/controlLoop) must be wired before the adapter's own
	// read goroutine starts inside Spawn/Resume below — the `go` statement
	// that launches that goroutine is the happens-before edge that makes
	// this assignment visible to it without a lock.
	idleTimeout := time.Duration(sess.IdleTimeoutSec) * time.Second
	if idleTimeout <= 0 {
		idleTimeout = activity.DefaultTeamIdleTimeout
	}
	s.tracker = activity.New(activity.Config{
		SessionID:   sessionID,
		IdleTimeout: idleTimeout,
		Emit:        s.emit,
		OnHeartbeat: s.onHeartbeat,
		OnLivenessFailed: func() {
			s.onExit(adapter.ExitInfo{Code: -1})
		},
		OnIdleTimeout: func() {
			s.Terminate()
		},
		Probe:     func() bool { return adapter.ProbeAlive(s.ad.PID()) },
		MCPHealth: s.cfg.MCPHealth,
		Logger:    s.cfg.Logger,
	})

	if opts.ResumeRef != "" {
		text := opts.DisplayText
		if text == "" {
			text = opts.InitialPrompt
		}
		if text != "" {
			s.emit(model.AgendoEvent{Type: model.EventUserMessage, Text: text})
		}
		err = s.ad.Resume(runCtx, opts.ResumeRef, opts.InitialPrompt, spawnOpts)
	} else {
		if opts.DisplayText != "" {
			s.emit(model.AgendoEvent{Type: model.EventUserMessage, Text: opts.DisplayText})
		}
		err = s.ad.Spawn(runCtx, opts.InitialPrompt, spawnOpts)
	}
	if err != nil {
		cancel()
		unsub()
		writer.Close()
		s.releaseSlot()
		s.signalExit()
		return fmt.Errorf("supervisor: spawn: %w", err)
	}

	s.mu.Lock()
	sess.PID = s.ad.PID()
	s.mu.Unlock()
	s.cfg.Store.Save(ctx, sess)

	go s.tracker.Run(runCtx)

	if opts.TeamConfigDir != "" {
		if inbox, ferr := teaminbox.FindLeaderInbox(ctx, opts.TeamConfigDir, sessionID); ferr == nil && inbox != "" {
			mon, aerr := teaminbox.Attach(inbox, s.emit, s.cfg.Logger)
			if aerr == nil {
				s.mu.Lock()
				s.team = mon
				s.mu.Unlock()
			}
		}
	}

	go s.controlLoop(ctrlCh)

	return nil
}

// WaitForExit returns a channel that closes exactly once, when the
// supervised child has exited and all cleanup has run.
func (s *Supervisor) WaitForExit() <-chan struct{} { return s.exitCh }

// WaitForSlotRelease returns a channel that closes exactly once, at the
// earlier of the session's first transition to awaiting_input or the
// child's exit, per §4.8.
func (s *Supervisor) WaitForSlotRelease() <-chan struct{} { return s.slotReleaseCh }

// PushMessage delivers one user turn to the running adapter. Implements
// control.Supervisor.
func (s *Supervisor) PushMessage(ctx context.Context, text, imageRef string) error {
	s.mu.Lock()
	sess := s.sess
	sess.Status = model.StatusActive
	s.mu.Unlock()

	s.emit(model.AgendoEvent{Type: model.EventUserMessage, Text: text, ImageRef: imageRef})
	s.cfg.Store.Save(ctx, sess)
	if s.tracker != nil {
		s.tracker.RecordActivity()
	}

	imagePayload := readImageBestEffort(imageRef)
	return s.ad.SendMessage(s.ctx, text, imagePayload)
}

// Interrupt implements control.Supervisor: it synthesizes a tool-end for
// every tool-use the supervisor considers active (§4.5 item 6), drains the
// approval gate with a deny, signals the adapter's soft cancel, and
// schedules the SIGKILL escalation.
func (s *Supervisor) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	activeIDs := make([]string, 0, len(s.activeTools))
	for id := range s.activeTools {
		activeIDs = append(activeIDs, id)
	}
	s.activeTools = make(map[string]struct{})
	s.mu.Unlock()

	for _, id := range activeIDs {
		s.emit(model.AgendoEvent{Type: model.EventToolEnd, ToolUseID: id, ToolOutput: "[Interrupted by user]"})
	}

	s.approvals.Drain(s.approvals.Pending())

	err := s.ad.Interrupt(s.ctx)
	s.scheduleKillEscalation()
	return err
}

// Terminate requests a hard stop: SIGTERM now, SIGKILL after the standard
// escalation delay if the child has not exited by then.
func (s *Supervisor) Terminate() error {
	err := s.ad.Kill(adapter.SigTerm)
	s.scheduleKillEscalation()
	return err
}

// MarkTerminating records that an operator-initiated shutdown is underway,
// so a subsequent unexpected-exit classification does not also attempt a
// zombie-style re-enqueue.
func (s *Supervisor) MarkTerminating() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		s.sess.Status = model.StatusEnded
	}
}

// ResolveApproval implements control.Supervisor. A pending ExitPlanMode
// gate is special-cased into one of the two restart flows described in
// §4.5 items 4-5; every other tool follows the ordinary single-shot
// allow/allow-session/deny/answer-question resolution.
func (s *Supervisor) ResolveApproval(approvalID string, res model.ApprovalResolution) error {
	req, ok := s.approvals.Lookup(approvalID)
	if !ok || req.ToolName != "ExitPlanMode" {
		return s.approvals.Resolve(approvalID, res)
	}
	if res.Decision == model.DecisionAllow || res.Decision == model.DecisionAllowSession {
		return s.continueWithModeChange(approvalID, res)
	}
	return s.restartWithPlan(approvalID, req, res)
}

// continueWithModeChange implements ExitPlanMode option 2 (§4.5 item 5):
// allow the tool, then once the response has had time to reach the agent,
// push the in-band permission-mode change and, if requested, a /compact.
func (s *Supervisor) continueWithModeChange(approvalID string, res model.ApprovalResolution) error {
	if err := s.approvals.Resolve(approvalID, model.ApprovalResolution{
		Decision: res.Decision, UpdatedInput: res.UpdatedInput,
	}); err != nil {
		return err
	}

	newMode := res.NewPermissionMode
	compact := res.PostApprovalCompact
	if newMode == "" && !compact {
		return nil
	}
	time.AfterFunc(exitPlanModeSettleDelay, func() {
		if newMode != "" {
			s.SetPermissionMode(context.Background(), newMode)
		}
		if compact {
			time.AfterFunc(exitPlanModeSettleDelay, func() {
				s.ad.SendMessage(context.Background(), "/compact", "")
			})
		}
	})
	return nil
}

// restartWithPlan implements ExitPlanMode option 1 (§4.5 item 4): deny the
// tool, capture the plan file, drain every other pending gate as deny, and
// tear the adapter down with clearContextRestart so the exit handler
// re-enqueues with a fresh sessionRef, the plan as the new initialPrompt,
// and the new permissionMode.
func (s *Supervisor) restartWithPlan(approvalID string, req model.ApprovalRequest, res model.ApprovalResolution) error {
	planText := planTextFromInput(req.ToolInput)
	s.capturePlanFile(planText)

	var others []string
	for _, id := range s.approvals.Pending() {
		if id != approvalID {
			others = append(others, id)
		}
	}
	s.approvals.Drain(others)

	s.mu.Lock()
	if planText != "" {
		s.sess.InitialPrompt = planText
	}
	if res.NewPermissionMode != "" {
		s.sess.PermissionMode = model.PermissionMode(res.NewPermissionMode)
	}
	sess := s.sess
	s.mu.Unlock()
	s.cfg.Store.Save(context.Background(), sess)

	if err := s.approvals.Resolve(approvalID, model.ApprovalResolution{Decision: model.DecisionDeny}); err != nil {
		return err
	}

	if err := s.ClearContext(context.Background()); err != nil {
		return err
	}
	s.scheduleKillEscalation()
	return nil
}

// capturePlanFile writes planText to a file under this session's log
// directory and records the path on the session row, so the restarted
// session's new initialPrompt can reference durable plan content instead
// of only the in-memory copy.
func (s *Supervisor) capturePlanFile(planText string) {
	if planText == "" {
		return
	}
	s.mu.Lock()
	sessionID := s.sess.ID
	s.mu.Unlock()

	path := filepath.Join(s.cfg.LogDir, sessionID+"-plan.md")
	if err := os.WriteFile(path, []byte(planText), 0o644); err != nil {
		s.cfg.Logger.Warn().Err(err).Str("sessionId", sessionID).Msg("supervisor: write plan file")
		return
	}
	s.mu.Lock()
	s.sess.PlanFilePath = path
	s.mu.Unlock()
}

// planTextFromInput extracts ExitPlanMode's plan markdown from its
// tool-use input, which carries it under a "plan" string key.
func planTextFromInput(input map[string]any) string {
	if input == nil {
		return ""
	}
	plan, _ := input["plan"].(string)
	return plan
}

// ForwardToolResult implements control.Supervisor. None of the three
// adapters model a tool result as a separate inbound control today (NDJSON
// and JSON-RPC both gate tool use through the approval round-trip inline);
// this hook exists so a future adapter that does can be wired in without
// another change to the control package.
func (s *Supervisor) ForwardToolResult(ctx context.Context, toolUseID, output string) error {
	s.cfg.Logger.Warn().Str("toolUseId", toolUseID).Msg("supervisor: tool-result control has no adapter sink configured")
	return nil
}

// SetPermissionMode implements control.Supervisor.
func (s *Supervisor) SetPermissionMode(ctx context.Context, mode string) error {
	s.mu.Lock()
	s.sess.PermissionMode = model.PermissionMode(mode)
	sess := s.sess
	s.mu.Unlock()
	s.cfg.Store.Save(ctx, sess)
	return s.ad.SetPermissionMode(ctx, mode)
}

// SetModel implements control.Supervisor. The adapter tears its child down;
// the exit handler observes ModeChangeRestart and re-enqueues the session
// with the new model already persisted on the row.
func (s *Supervisor) SetModel(ctx context.Context, modelName string) error {
	s.mu.Lock()
	s.sess.Model = modelName
	sess := s.sess
	s.mu.Unlock()
	s.cfg.Store.Save(ctx, sess)

	_, err := s.ad.SetModel(ctx, modelName)
	return err
}

// ClearContext tears the adapter down so the next claim starts with no
// sessionRef, discarding agent-side history. Returns an error if the
// adapter does not support in-place history clearing.
func (s *Supervisor) ClearContext(ctx context.Context) error {
	cc, ok := s.ad.(contextClearer)
	if !ok {
		return fmt.Errorf("supervisor: adapter does not support clear-context")
	}
	s.mu.Lock()
	s.sess.SessionRef = ""
	sess := s.sess
	s.mu.Unlock()
	s.cfg.Store.Save(ctx, sess)
	return cc.ClearContext()
}

func (s *Supervisor) scheduleKillEscalation() {
	pid := s.ad.PID()
	ad := s.ad
	time.AfterFunc(adapter.KillEscalationDelay, func() {
		if adapter.ProbeAlive(pid) {
			ad.Kill(adapter.SigKill)
		}
	})
}

func (s *Supervisor) controlLoop(ch <-chan model.AgendoControl) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ctrl, ok := <-ch:
			if !ok {
				return
			}
			if s.tracker != nil {
				s.tracker.RecordActivity()
			}
			s.mu.Lock()
			status := s.sess.Status
			s.mu.Unlock()
			if err := control.Dispatch(s.ctx, s, status, ctrl); err != nil {
				s.cfg.Logger.Warn().Err(err).Str("controlType", string(ctrl.Type)).Msg("supervisor: control dropped")
			}
		}
	}
}

// onHeartbeat persists the heartbeat timestamp the zombie reconciler and
// any external liveness dashboard read.
func (s *Supervisor) onHeartbeat() {
	s.mu.Lock()
	s.sess.HeartbeatAt = time.Now()
	sess := s.sess
	s.mu.Unlock()
	s.cfg.Store.Save(context.Background(), sess)
}

// onData is the adapter's single-goroutine event callback; emit serializes
// it against every other emitter (approval, activity, team monitor).
func (s *Supervisor) onData(ev model.AgendoEvent) {
	s.trackToolLifecycle(ev)
	s.emit(ev)
}

func (s *Supervisor) trackToolLifecycle(ev model.AgendoEvent) {
	if ev.ToolUseID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case model.EventToolStart, model.EventToolApproval:
		s.activeTools[ev.ToolUseID] = struct{}{}
	case model.EventToolEnd:
		delete(s.activeTools, ev.ToolUseID)
	}
}

// onThinkingChange fires agent:activity and, on the turn ending, transitions
// the session to awaiting_input and releases the scheduling slot early.
func (s *Supervisor) onThinkingChange(thinking bool) {
	s.emit(model.AgendoEvent{Type: model.EventActivity, Thinking: thinking})
	if thinking {
		return
	}

	if text := s.ad.FlushPendingText(); text != "" {
		s.emit(model.AgendoEvent{Type: model.EventAgentText, Text: text})
	}

	s.mu.Lock()
	if s.sess.Status == model.StatusActive {
		s.sess.Status = model.StatusAwaitingInput
		s.sess.ZombieRetries = 0
	}
	sess := s.sess
	s.mu.Unlock()

	s.cfg.Store.Save(context.Background(), sess)
	s.emit(model.AgendoEvent{Type: model.EventSessionState, Status: model.StatusAwaitingInput})
	s.releaseSlot()
}

// rebuildCLISessionFile recovers from a stale --resume target by rewriting
// a fresh CLI session-history file from this session's own durable log, so
// the adapter's next resume attempt has a valid reference instead of
// silently discarding conversation history (§4.3, E1).
func (s *Supervisor) rebuildCLISessionFile() (string, bool) {
	s.mu.Lock()
	cwd := s.cwd
	logPath := s.log.Path()
	sessionID := s.sess.ID
	s.mu.Unlock()
	if cwd == "" {
		return "", false
	}

	events, err := sessionlog.ReplaySince(logPath, 0)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Str("sessionId", sessionID).Msg("supervisor: replay log for history rebuild")
		return "", false
	}
	return adapter.RebuildCLISessionFile(cwd, events)
}

// onUsage accumulates token counts reported by the adapter's mapper onto
// the session row across every turn of this session's lifetime (§4.4).
func (s *Supervisor) onUsage(inputTokens, cacheReadInputTokens, cacheCreationInputTokens int) {
	s.mu.Lock()
	s.sess.InputTokens += inputTokens
	s.sess.CacheReadInputTokens += cacheReadInputTokens
	s.sess.CacheCreationInputTokens += cacheCreationInputTokens
	sess := s.sess
	s.mu.Unlock()
	s.cfg.Store.Save(context.Background(), sess)
}

func (s *Supervisor) onSessionRef(ref string) {
	s.mu.Lock()
	s.sess.SessionRef = ref
	sess := s.sess
	s.mu.Unlock()
	s.emit(model.AgendoEvent{Type: model.EventSessionInit, SessionRef: ref})
	s.cfg.Store.Save(context.Background(), sess)
}

// onExit classifies why the child stopped and drives the final state
// transition. It is idempotent: every adapter promises to call OnExit
// exactly once, but the liveness-probe-failure path can race it, so a
// guard makes a second call a safe no-op.
func (s *Supervisor) onExit(info adapter.ExitInfo) {
	s.mu.Lock()
	if s.exitHandled {
		s.mu.Unlock()
		return
	}
	s.exitHandled = true
	sess := s.sess
	s.mu.Unlock()

	reenqueue := false
	switch {
	case info.CancelKilled:
		sess.Status = model.StatusEnded
	case info.TerminateKilled:
		sess.Status = model.StatusIdle
	case info.ModeChangeRestart:
		sess.Status = model.StatusIdle
		reenqueue = true
	case info.ResumeRebuilt:
		sess.Status = model.StatusIdle
		reenqueue = true
	case info.ClearContextRestart:
		sess.SessionRef = ""
		sess.Status = model.StatusIdle
		reenqueue = true
	case info.Code != 0:
		s.emit(model.AgendoEvent{Type: model.EventSystemError, Text: "session ended unexpectedly"})
		sess.Status = model.StatusEnded
	default:
		sess.Status = model.StatusIdle
	}

	sess.EndedAt = time.Now()
	sess.PID = 0
	sess.WorkerID = ""
	s.cfg.Store.Save(context.Background(), sess)

	s.log.Close()
	s.mu.Lock()
	team := s.team
	s.mu.Unlock()
	if team != nil {
		team.Close()
	}
	if s.tracker != nil {
		s.tracker.Stop()
	}
	if s.unsubControl != nil {
		s.unsubControl()
	}
	if s.cancel != nil {
		s.cancel()
	}

	s.releaseSlot()
	s.signalExit()

	if reenqueue && s.cfg.Reenqueue != nil {
		if err := s.cfg.Reenqueue(context.Background(), sess.ID); err != nil {
			s.cfg.Logger.Error().Err(err).Str("sessionId", sess.ID).Msg("supervisor: re-enqueue after restart failed")
		}
	}
}

// emit stamps id/sessionId/ts, publishes to the bus, and (for non-delta
// types) persists to the session log, per §4.2 and §4.6. Allocation and
// publish are serialized so concurrent emitters (adapter read goroutine,
// activity tracker, approval handler, team monitor) never interleave a
// lower sequence number after a higher one has already published.
func (s *Supervisor) emit(ev model.AgendoEvent) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	sessionID := s.sess.ID
	s.mu.Unlock()

	ev.SessionID = sessionID
	if ev.Ts == 0 {
		ev.Ts = time.Now().UnixMilli()
	}

	seq, err := s.cfg.Store.NextEventSeq(s.ctx, sessionID)
	if err != nil {
		s.cfg.Logger.Error().Err(err).Str("sessionId", sessionID).Msg("supervisor: allocate event seq")
		return
	}
	ev.ID = seq

	if err := s.cfg.Bus.PublishEvent(s.ctx, ev); err != nil {
		s.cfg.Logger.Error().Err(err).Str("sessionId", sessionID).Msg("supervisor: publish event")
	}

	if !isDeltaType(ev.Type) {
		if err := s.log.WriteEvent(ev); err != nil {
			s.cfg.Logger.Error().Err(err).Str("sessionId", sessionID).Msg("supervisor: write event to log")
		}
	}

	if s.tracker != nil {
		s.tracker.RecordActivity()
	}
}

func isDeltaType(t model.EventType) bool {
	return t == model.EventAgentTextDelta || t == model.EventThinkingDelta
}

// readImageBestEffort reads imageRef (a path to an uploaded attachment),
// base64-encodes its content for the adapter's wire protocol, and unlinks
// the file regardless of read success so a crash mid-turn never leaks a
// temp upload. An empty or unreadable ref yields an empty string.
func readImageBestEffort(imageRef string) string {
	if imageRef == "" {
		return ""
	}
	defer os.Remove(imageRef)
	data, err := os.ReadFile(imageRef)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func (s *Supervisor) releaseSlot() {
	s.mu.Lock()
	already := s.slotReleased
	s.slotReleased = true
	slot := s.slot
	s.mu.Unlock()
	if already {
		return
	}
	if slot != nil {
		slot.Release()
	}
	close(s.slotReleaseCh)
}

func (s *Supervisor) signalExit() {
	s.mu.Lock()
	already := s.exitSignaled
	s.exitSignaled = true
	s.mu.Unlock()
	if already {
		return
	}
	close(s.exitCh)
}
