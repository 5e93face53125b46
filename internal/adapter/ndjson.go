// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/agendo/workerd/internal/mapper"
	"github.com/agendo/workerd/internal/model"
)

// NDJSONConfig names the binary and the flags it expects for the
// streaming-JSON wire protocol (Adapter A), e.g. the Claude Code CLI.
type NDJSONConfig struct {
	Binary string // e.g. "claude"
}

// NDJSON drives a child CLI speaking --output-format stream-json over
// stdin/stdout, honoring --resume on first spawn only (§4.3).
type NDJSON struct {
	cfg NDJSONConfig

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	pid         int
	alive       bool
	sessionRef  string
	resumedOnce bool

	mapper    *mapper.NDJSON
	onData    func(model.AgendoEvent)
	onExit    func(ExitInfo)
	onThink   func(bool)
	onRef     func(string)
	onUsage   mapper.UsageCallback
	onRebuild func() (string, bool)
	approve   ApprovalFunc

	// pendingBuf holds the incomplete trailing line from the last stdout
	// read, per §4.2's rolling-buffer rule; FlushPendingText drains it.
	pendingBuf []byte

	wasCancelled     bool
	wasTerminated    bool
	wasModeChange    bool
	wasClearContext  bool
	wasResumeRebuilt bool
}

// NewNDJSON constructs an Adapter A instance. The stale-resume history
// rebuild is wired separately, through OnRebuildHistory.
func NewNDJSON(cfg NDJSONConfig) *NDJSON {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	return &NDJSON{cfg: cfg, mapper: mapper.NewNDJSON()}
}

func (a *NDJSON) OnData(cb func(model.AgendoEvent))  { a.onData = cb }
func (a *NDJSON) OnExit(cb func(ExitInfo))           { a.onExit = cb }
func (a *NDJSON) OnThinkingChange(cb func(bool))     { a.onThink = cb }
func (a *NDJSON) OnSessionRef(cb func(string))       { a.onRef = cb }
func (a *NDJSON) SetApprovalHandler(fn ApprovalFunc) { a.approve = fn }

// OnUsage registers the token-accounting callback, invoked once per
// assistant message with that message's usage fields (§4.4). stream_event
// message_start records do not invoke it. The supervisor accumulates these
// onto the session row.
func (a *NDJSON) OnUsage(cb func(inputTokens, cacheReadInputTokens, cacheCreationInputTokens int)) {
	a.onUsage = cb
}

// OnRebuildHistory wires the supervisor's history-rebuild callback, invoked
// when --resume fails with "No conversation found with session ID". cb
// rewrites a fresh CLI session-file from this session's canonical event log
// and returns the new sessionRef to resume against.
func (a *NDJSON) OnRebuildHistory(cb func() (string, bool)) { a.onRebuild = cb }

// FlushPendingText returns and clears any bytes still sitting in the
// trailing-line buffer — e.g. a final chunk of agent output the child wrote
// without a terminating newline before falling silent (§4.2).
func (a *NDJSON) FlushPendingText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pendingBuf) == 0 {
		return ""
	}
	text := strings.TrimSpace(string(a.pendingBuf))
	a.pendingBuf = nil
	return text
}

func (a *NDJSON) PID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pid
}

func (a *NDJSON) IsAlive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

// Spawn starts a fresh child with no --resume flag.
func (a *NDJSON) Spawn(ctx context.Context, prompt string, opts SpawnOptions) error {
	return a.start(ctx, "", prompt, opts)
}

// Resume starts the child with --resume <sessionRef>, honored on this
// first spawn only; a later internal restart (e.g. set-model) must not
// re-pass it once the adapter has already resumed once.
func (a *NDJSON) Resume(ctx context.Context, sessionRef, prompt string, opts SpawnOptions) error {
	return a.start(ctx, sessionRef, prompt, opts)
}

func (a *NDJSON) start(ctx context.Context, resumeRef, prompt string, opts SpawnOptions) error {
	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--input-format", "stream-json",
		"--permission-prompt-tool", "stdio",
		"--permission-mode", firstNonEmpty(opts.PermissionMode, "default"),
		"--include-partial-messages",
	}
	if resumeRef != "" && !a.resumedOnce {
		args = append(args, "--resume", resumeRef)
		a.resumedOnce = true
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.StrictMCPConfig && opts.MCPConfigPath != "" {
		args = append(args, "--mcp-config", opts.MCPConfigPath)
	}
	args = append(args, opts.ExtraArgs...)

	env := BuildChildEnv(opts.Env, opts.SessionID, "", opts.ExecutionID)
	cmd := NewChildCommand(ctx, opts.CWD, env, a.cfg.Binary, args...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ndjson adapter: stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ndjson adapter: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ndjson adapter: start: %w", err)
	}

	a.mu.Lock()
	a.cmd = cmd
	a.stdin = stdinPipe
	a.pid = cmd.Process.Pid
	a.alive = true
	a.mu.Unlock()

	go a.readLoop(stdoutPipe)

	if prompt != "" {
		return a.SendMessage(ctx, prompt, opts.InitialImage)
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// readLoop maintains an explicit rolling buffer of the incomplete trailing
// line across stdout reads (§4.2) rather than relying on a bufio.Scanner's
// opaque internal buffering, so the tail can be inspected and flushed by
// FlushPendingText at the thinking→false transition. Each complete line is
// parsed and mapped to zero or more canonical events via onData.
func (a *NDJSON) readLoop(stdout io.Reader) {
	reader := bufio.NewReaderSize(stdout, 64*1024)
	chunk := make([]byte, 64*1024)
	wasThinking := false

	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			a.mu.Lock()
			a.pendingBuf = append(a.pendingBuf, chunk[:n]...)
			buf := a.pendingBuf
			var lines [][]byte
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				lines = append(lines, append([]byte(nil), buf[:idx]...))
				buf = buf[idx+1:]
			}
			a.pendingBuf = append([]byte(nil), buf...)
			a.mu.Unlock()

			for _, line := range lines {
				a.processLine(string(line), &wasThinking)
			}
		}
		if err != nil {
			break
		}
	}

	a.mu.Lock()
	a.alive = false
	cmd := a.cmd
	wasCancelled := a.wasCancelled
	wasTerminated := a.wasTerminated
	wasModeChange := a.wasModeChange
	wasClearContext := a.wasClearContext
	wasResumeRebuilt := a.wasResumeRebuilt
	a.mu.Unlock()

	var exitCode int
	if cmd != nil {
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}
	}

	if a.onExit != nil {
		a.onExit(ExitInfo{
			Code:                exitCode,
			CancelKilled:        wasCancelled,
			TerminateKilled:     wasTerminated,
			ModeChangeRestart:   wasModeChange,
			ClearContextRestart: wasClearContext,
			ResumeRebuilt:       wasResumeRebuilt,
		})
	}
}

// processLine parses one complete NDJSON line and maps it to canonical
// events. wasThinking tracks the agent:thinking edge across calls.
func (a *NDJSON) processLine(raw string, wasThinking *bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return
	}

	// A line that isn't JSON at all is raw child text (e.g. banner
	// output); a line that looks like JSON but fails to parse is
	// reported as system:info rather than ever surfacing raw JSON.
	if trimmed[0] != '{' {
		if a.onData != nil {
			a.onData(model.AgendoEvent{Type: model.EventAgentText, Ts: time.Now().UnixMilli(), Text: trimmed})
		}
		return
	}

	var wire mapper.WireStreamEvent
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		if a.onData != nil {
			a.onData(model.AgendoEvent{Type: model.EventSystemInfo, Ts: time.Now().UnixMilli(), Text: trimmed})
		}
		return
	}

	if wire.Type == "result" && wire.IsError {
		for _, e := range wire.Errors {
			if strings.Contains(e, "No conversation found with session ID") {
				a.handleStaleResume()
			}
		}
	}

	if wire.SessionID != "" && !wire.IsError {
		a.mu.Lock()
		changed := a.sessionRef != wire.SessionID
		a.sessionRef = wire.SessionID
		a.mu.Unlock()
		if changed && a.onRef != nil {
			a.onRef(wire.SessionID)
		}
	}

	if wire.Type == "control_request" && a.approve != nil {
		a.handleApproval(wire)
		return
	}

	events := a.mapper.Map(wire, time.Now().UnixMilli(), a.onUsage)
	for _, ev := range events {
		if a.onData != nil {
			a.onData(ev)
		}
	}

	nowThinking := wire.Type == "assistant" || wire.Type == "stream_event"
	if nowThinking != *wasThinking && a.onThink != nil {
		a.onThink(nowThinking)
	}
	*wasThinking = nowThinking

	if wire.Type == "result" && a.onThink != nil {
		a.onThink(false)
	}
}

// handleStaleResume clears the now-invalid sessionRef and, if the
// supervisor has wired a history-rebuild callback, rewrites a fresh CLI
// session-file from this session's event log so the next Resume attempt
// has a valid --resume target instead of silently starting over.
func (a *NDJSON) handleStaleResume() {
	a.mu.Lock()
	a.sessionRef = ""
	a.mu.Unlock()
	if a.onRebuild == nil {
		return
	}
	if ref, ok := a.onRebuild(); ok && ref != "" {
		a.mu.Lock()
		a.sessionRef = ref
		a.resumedOnce = false
		a.wasResumeRebuilt = true
		a.mu.Unlock()
	}
}

// handleApproval translates a control_request permission prompt into the
// canonical approval round-trip and writes the decision back to stdin.
func (a *NDJSON) handleApproval(wire mapper.WireStreamEvent) {
	var req struct {
		ToolName string          `json:"tool_name"`
		Input    json.RawMessage `json:"input"`
	}
	json.Unmarshal(wire.Request, &req)

	input := map[string]any{}
	json.Unmarshal(req.Input, &input)

	toolUseID, _ := a.mapper.OpenToolUseID(req.ToolName)
	isAskUser := req.ToolName == "AskUserQuestion"

	approvalReq := model.ApprovalRequest{
		ApprovalID: wire.RequestID,
		ToolUseID:  toolUseID,
		ToolName:   req.ToolName,
		ToolInput:  input,
		IsAskUser:  isAskUser,
		Questions:  extractQuestions(isAskUser, input),
	}
	resolution := a.approve(context.Background(), approvalReq)

	resp := map[string]any{
		"type":       "control_response",
		"request_id": approvalReq.ApprovalID,
	}
	switch resolution.Decision {
	case model.DecisionAllow, model.DecisionAllowSession:
		resp["response"] = map[string]any{"behavior": "allow", "updatedInput": resolution.UpdatedInput}
	case model.DecisionAnswer:
		resp["response"] = map[string]any{"behavior": "allow", "updatedInput": map[string]any{"answers": resolution.Answers}}
	default:
		resp["response"] = map[string]any{"behavior": "deny"}
	}
	payload, _ := json.Marshal(resp)
	a.writeStdinRaw(payload)
}

// extractQuestions best-effort-extracts the question strings from an
// AskUserQuestion tool-use block's input, accepting either plain strings or
// {"question": "..."} objects under the "questions" key — no example in the
// corpus pins down this tool's exact wire shape, so this stays tolerant
// rather than risk dropping the prompt text.
func extractQuestions(isAskUser bool, input map[string]any) []string {
	if !isAskUser {
		return nil
	}
	raw, ok := input["questions"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if q, ok := v["question"].(string); ok {
				out = append(out, q)
			}
		}
	}
	return out
}

// SendMessage writes one NDJSON user-turn to stdin. slash-prefixed text is
// a user-message subtype, not a distinct wire shape, per §4.3.
func (a *NDJSON) SendMessage(ctx context.Context, text string, imagePath string) error {
	content := []map[string]any{{"type": "text", "text": text}}
	if imagePath != "" {
		content = append(content, map[string]any{"type": "image", "path": imagePath})
	}
	msg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ndjson adapter: marshal stdin message: %w", err)
	}
	return a.writeStdinRaw(append(payload, '\n'))
}

func (a *NDJSON) writeStdinRaw(payload []byte) error {
	a.mu.Lock()
	stdin := a.stdin
	a.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("ndjson adapter: not running")
	}
	_, err := stdin.Write(payload)
	return err
}

// Interrupt is signal-based for Adapter A (§4.3).
func (a *NDJSON) Interrupt(ctx context.Context) error {
	a.mu.Lock()
	a.wasCancelled = true
	a.mu.Unlock()
	return a.Kill(SigInt)
}

func (a *NDJSON) Kill(sig Signal) error {
	return killProcessGroup(a.PID(), sig)
}

// SetPermissionMode sends the in-band mode-change control message.
func (a *NDJSON) SetPermissionMode(ctx context.Context, mode string) error {
	payload, _ := json.Marshal(map[string]any{"type": "set_permission_mode", "mode": mode})
	return a.writeStdinRaw(append(payload, '\n'))
}

// SetModel requires tearing down and relaunching the child for Adapter A;
// the caller (supervisor) is responsible for calling Resume again with the
// preserved sessionRef, since this CLI always supports --resume.
func (a *NDJSON) SetModel(ctx context.Context, modelName string) (bool, error) {
	a.mu.Lock()
	a.wasModeChange = true
	a.mu.Unlock()
	if err := a.Kill(SigTerm); err != nil {
		return false, err
	}
	return true, nil
}

// ClearContext tears down the child so the supervisor can relaunch it with
// no --resume, discarding the agent-side conversation history.
func (a *NDJSON) ClearContext() error {
	a.mu.Lock()
	a.wasClearContext = true
	a.resumedOnce = false
	a.sessionRef = ""
	a.mu.Unlock()
	return a.Kill(SigTerm)
}
