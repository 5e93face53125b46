// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agendo/workerd/internal/model"
)

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"` // set on server-initiated requests (permission asks)
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// JSONRPCConfig names the agent binary speaking an ACP-style JSON-RPC
// protocol over stdin/stdout (Adapter B).
type JSONRPCConfig struct {
	Binary string
}

// JSONRPC drives a child process request/response over stdio by numeric
// id, grounded on the pending-requests-map pattern used for MCP stdio
// clients in the pack. Unlike Adapter A, SendMessage blocks for the full
// round-trip (§4.3).
type JSONRPC struct {
	cfg JSONRPCConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pid     int
	closed  bool
	nextID  int64
	pending map[int64]chan *jsonrpcResponse

	sessionRef       string
	sessionLoadKnown bool

	onData  func(model.AgendoEvent)
	onExit  func(ExitInfo)
	onThink func(bool)
	onRef   func(string)
	approve ApprovalFunc

	wasCancelled    bool
	wasTerminated   bool
	wasModeChange   bool
	wasClearContext bool
}

// NewJSONRPC constructs an Adapter B instance.
func NewJSONRPC(cfg JSONRPCConfig) *JSONRPC {
	return &JSONRPC{cfg: cfg, pending: make(map[int64]chan *jsonrpcResponse)}
}

func (a *JSONRPC) OnData(cb func(model.AgendoEvent))  { a.onData = cb }
func (a *JSONRPC) OnExit(cb func(ExitInfo))           { a.onExit = cb }
func (a *JSONRPC) OnThinkingChange(cb func(bool))     { a.onThink = cb }
func (a *JSONRPC) OnSessionRef(cb func(string))       { a.onRef = cb }
func (a *JSONRPC) SetApprovalHandler(fn ApprovalFunc) { a.approve = fn }

// FlushPendingText is a no-op: Adapter B's read loop only ever buffers a
// complete JSON-RPC message, never a dangling partial line worth surfacing
// as text.
func (a *JSONRPC) FlushPendingText() string { return "" }

func (a *JSONRPC) PID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pid
}

func (a *JSONRPC) IsAlive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.closed
}

func (a *JSONRPC) Spawn(ctx context.Context, prompt string, opts SpawnOptions) error {
	if err := a.launch(ctx, opts); err != nil {
		return err
	}
	if _, err := a.call(ctx, "initialize", nil, HandshakeTimeout); err != nil {
		return fmt.Errorf("jsonrpc adapter: initialize: %w", err)
	}
	if prompt != "" {
		return a.SendMessage(ctx, prompt, opts.InitialImage)
	}
	return nil
}

func (a *JSONRPC) Resume(ctx context.Context, sessionRef, prompt string, opts SpawnOptions) error {
	if err := a.launch(ctx, opts); err != nil {
		return err
	}
	if _, err := a.call(ctx, "initialize", nil, HandshakeTimeout); err != nil {
		return fmt.Errorf("jsonrpc adapter: initialize: %w", err)
	}
	if _, err := a.call(ctx, "session/load", map[string]any{"sessionId": sessionRef}, HandshakeTimeout); err == nil {
		a.mu.Lock()
		a.sessionRef = sessionRef
		a.sessionLoadKnown = true
		a.mu.Unlock()
	} else {
		a.mu.Lock()
		a.sessionLoadKnown = false
		a.mu.Unlock()
	}
	if prompt != "" {
		return a.SendMessage(ctx, prompt, opts.InitialImage)
	}
	return nil
}

func (a *JSONRPC) launch(ctx context.Context, opts SpawnOptions) error {
	args := opts.ExtraArgs
	if opts.Model != "" {
		args = append(args, "-m", opts.Model)
	}
	env := BuildChildEnv(opts.Env, opts.SessionID, "", opts.ExecutionID)
	cmd := NewChildCommand(ctx, opts.CWD, env, a.cfg.Binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("jsonrpc adapter: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("jsonrpc adapter: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("jsonrpc adapter: start: %w", err)
	}

	a.mu.Lock()
	a.cmd = cmd
	a.stdin = stdin
	a.pid = cmd.Process.Pid
	a.closed = false
	a.mu.Unlock()

	go a.readLoop(stdout)
	return nil
}

func (a *JSONRPC) readLoop(stdout io.Reader) {
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			var resp jsonrpcResponse
			if json.Unmarshal(line, &resp) == nil {
				a.dispatch(resp)
			}
		}
		if err != nil {
			break
		}
	}

	a.mu.Lock()
	a.closed = true
	for id, ch := range a.pending {
		close(ch)
		delete(a.pending, id)
	}
	cmd := a.cmd
	wasCancelled := a.wasCancelled
	wasTerminated := a.wasTerminated
	wasModeChange := a.wasModeChange
	wasClearContext := a.wasClearContext
	a.mu.Unlock()

	var exitCode int
	if cmd != nil {
		if werr := cmd.Wait(); werr != nil {
			if exitErr, ok := werr.(*exec.ExitError); ok {
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
		})
	}
}

// dispatch routes a decoded line either to a pending caller (by id) or, for
// server-initiated requests such as permission asks and file read/write,
// to the appropriate handler.
func (a *JSONRPC) dispatch(resp jsonrpcResponse) {
	if resp.Method != "" {
		a.handleServerRequest(resp)
		return
	}
	if resp.ID == 0 {
		return
	}
	a.mu.Lock()
	ch, ok := a.pending[resp.ID]
	if ok {
		delete(a.pending, resp.ID)
	}
	a.mu.Unlock()
	if ok {
		ch <- &resp
	}
}

func (a *JSONRPC) handleServerRequest(resp jsonrpcResponse) {
	switch resp.Method {
	case "permission/request":
		var params struct {
			ToolName string          `json:"toolName"`
			Input    json.RawMessage `json:"input"`
			Options  []string        `json:"options"`
		}
		json.Unmarshal(resp.Params, &params)
		input := map[string]any{}
		json.Unmarshal(params.Input, &input)

		approvalID := fmt.Sprintf("%d", resp.ID)
		if a.onData != nil {
			a.onData(model.AgendoEvent{
				Type: model.EventToolStart, Ts: time.Now().UnixMilli(),
				ToolUseID: approvalID, ToolName: params.ToolName, ToolInput: input,
			})
		}
		isAskUser := params.ToolName == "AskUserQuestion"
		var decision model.ApprovalResolution
		if a.approve != nil {
			decision = a.approve(context.Background(), model.ApprovalRequest{
				ApprovalID: approvalID, ToolUseID: approvalID, ToolName: params.ToolName,
				ToolInput: input, IsAskUser: isAskUser, Questions: params.Options,
			})
		} else {
			decision = model.ApprovalResolution{Decision: model.DecisionDeny}
		}
		result := map[string]any{}
		switch decision.Decision {
		case model.DecisionAllow, model.DecisionAllowSession:
			result["behavior"] = "allow_once"
		case model.DecisionAnswer:
			result["behavior"] = "allow_once"
			result["questions"] = params.Options
			result["answers"] = decision.Answers
		default:
			result["behavior"] = "reject_once"
		}
		reply := jsonrpcResponse{JSONRPC: "2.0", ID: resp.ID, Result: mustJSON(result)}
		a.writeMessage(reply)
		if a.onData != nil {
			a.onData(model.AgendoEvent{Type: model.EventToolEnd, Ts: time.Now().UnixMilli(), ToolUseID: approvalID})
		}

	case "fs/read":
		var params struct {
			Path string `json:"path"`
		}
		json.Unmarshal(resp.Params, &params)
		content := readFileBestEffort(params.Path)
		a.writeMessage(jsonrpcResponse{JSONRPC: "2.0", ID: resp.ID, Result: mustJSON(map[string]any{"content": content})})

	case "fs/write":
		var params struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		json.Unmarshal(resp.Params, &params)
		writeFileBestEffort(params.Path, params.Content)
		a.writeMessage(jsonrpcResponse{JSONRPC: "2.0", ID: resp.ID, Result: mustJSON(map[string]any{"ok": true})})
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// call sends a request and blocks for its matching response, or until
// timeout/ctx cancellation. The prompt method is allowed 10 minutes; the
// handshake tier is 30s; no retry is attempted on failure (a retry before
// this protocol's history append would duplicate the turn, per §4.3).
func (a *JSONRPC) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, fmt.Errorf("jsonrpc adapter: closed")
	}
	id := atomic.AddInt64(&a.nextID, 1)
	ch := make(chan *jsonrpcResponse, 1)
	a.pending[id] = ch
	a.mu.Unlock()

	if err := a.writeMessage(jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case resp := <-ch:
		if resp == nil {
			return nil, fmt.Errorf("jsonrpc adapter: connection closed")
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("jsonrpc adapter: %d %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-cctx.Done():
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return nil, cctx.Err()
	}
}

func (a *JSONRPC) writeMessage(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	stdin := a.stdin
	a.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("jsonrpc adapter: not running")
	}
	_, err = stdin.Write(append(payload, '\n'))
	return err
}

// SendMessage blocks for the full round-trip, per §4.3's note that
// adapter B's send may be synchronous through the entire turn.
func (a *JSONRPC) SendMessage(ctx context.Context, text string, imagePath string) error {
	params := map[string]any{"text": text}
	if imagePath != "" {
		params["imagePath"] = imagePath
	}
	if a.onThink != nil {
		a.onThink(true)
	}
	_, err := a.call(ctx, "session/prompt", params, PromptTimeout)
	if a.onThink != nil {
		a.onThink(false)
	}
	return err
}

// Interrupt is notification-based for Adapter B (§4.3).
func (a *JSONRPC) Interrupt(ctx context.Context) error {
	a.mu.Lock()
	a.wasCancelled = true
	a.mu.Unlock()
	return a.writeMessage(jsonrpcRequest{JSONRPC: "2.0", Method: "session/cancel"})
}

func (a *JSONRPC) Kill(sig Signal) error {
	return killProcessGroup(a.PID(), sig)
}

func (a *JSONRPC) SetPermissionMode(ctx context.Context, mode string) error {
	_, err := a.call(ctx, "session/setPermissionMode", map[string]any{"mode": mode}, HandshakeTimeout)
	return err
}

// SetModel tears down the child; the sessionRef this agent holds (if any)
// is preserved across the supervisor's re-enqueue, since session/load is
// retried on the next Resume with the new model (§4.3, E4).
func (a *JSONRPC) SetModel(ctx context.Context, modelName string) (bool, error) {
	a.mu.Lock()
	preserved := a.sessionRef != ""
	a.wasModeChange = true
	a.mu.Unlock()
	return preserved, a.Kill(SigTerm)
}

// ClearContext tears down the child so the supervisor can relaunch it with
// a blank sessionRef, discarding the agent-side conversation history.
func (a *JSONRPC) ClearContext() error {
	a.mu.Lock()
	a.wasClearContext = true
	a.sessionRef = ""
	a.sessionLoadKnown = false
	a.mu.Unlock()
	return a.Kill(SigTerm)
}
