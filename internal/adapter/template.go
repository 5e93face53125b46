// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/agendo/workerd/internal/model"
)

// TemplateConfig names the command template for a one-shot execution
// (Adapter C), with Go-template placeholders expanded from the prompt and
// spawn options at Spawn time, grounded on the teacher's workflow command
// construction.
type TemplateConfig struct {
	CommandTemplate []string // e.g. []string{"codex", "exec", "{{.Prompt}}"}
}

// templateVars is the substitution context available to CommandTemplate.
type templateVars struct {
	Prompt string
	CWD    string
	Model  string
}

// Template drives Adapter C: one-shot, no multi-turn, no approval gate, no
// session reference. Spawn runs the command to completion; Resume runs a
// fresh Spawn, and SendMessage, SetPermissionMode, and SetModel always
// return errors.
type Template struct {
	cfg TemplateConfig

	mu    sync.Mutex
	cmd   *exec.Cmd
	pid   int
	alive bool

	onData func(model.AgendoEvent)
	onExit func(ExitInfo)
}

// NewTemplate constructs an Adapter C instance.
func NewTemplate(cfg TemplateConfig) *Template {
	return &Template{cfg: cfg}
}

func (a *Template) OnData(cb func(model.AgendoEvent))  { a.onData = cb }
func (a *Template) OnExit(cb func(ExitInfo))           { a.onExit = cb }
func (a *Template) OnThinkingChange(cb func(bool))     {}
func (a *Template) OnSessionRef(cb func(string))       {}
func (a *Template) SetApprovalHandler(fn ApprovalFunc) {}

// FlushPendingText is a no-op: a one-shot run has no turn boundary to flush
// a trailing partial line across.
func (a *Template) FlushPendingText() string { return "" }

func (a *Template) PID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pid
}

func (a *Template) IsAlive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

// Spawn expands the command template and runs it to completion, streaming
// each output line as agent:text.
func (a *Template) Spawn(ctx context.Context, prompt string, opts SpawnOptions) error {
	args, err := a.expand(prompt, opts)
	if err != nil {
		return fmt.Errorf("template adapter: expand command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("template adapter: empty command template")
	}

	env := BuildChildEnv(opts.Env, opts.SessionID, "", opts.ExecutionID)
	cmd := NewChildCommand(ctx, opts.CWD, env, args[0], args[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("template adapter: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("template adapter: start: %w", err)
	}

	a.mu.Lock()
	a.cmd = cmd
	a.pid = cmd.Process.Pid
	a.alive = true
	a.mu.Unlock()

	go a.run(stdout)
	return nil
}

// Resume is not meaningful for a one-shot adapter; treat it as a fresh Spawn.
func (a *Template) Resume(ctx context.Context, sessionRef, prompt string, opts SpawnOptions) error {
	return a.Spawn(ctx, prompt, opts)
}

func (a *Template) expand(prompt string, opts SpawnOptions) ([]string, error) {
	vars := templateVars{Prompt: prompt, CWD: opts.CWD, Model: opts.Model}
	out := make([]string, 0, len(a.cfg.CommandTemplate))
	for _, part := range a.cfg.CommandTemplate {
		if !strings.Contains(part, "{{") {
			out = append(out, part)
			continue
		}
		tmpl, err := template.New("arg").Parse(part)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		if err := tmpl.Execute(&sb, vars); err != nil {
			return nil, err
		}
		out = append(out, sb.String())
	}
	return out, nil
}

func (a *Template) run(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if a.onData != nil {
			a.onData(model.AgendoEvent{Type: model.EventAgentText, Ts: time.Now().UnixMilli(), Text: scanner.Text()})
		}
	}

	a.mu.Lock()
	a.alive = false
	cmd := a.cmd
	a.mu.Unlock()

	exitCode := 0
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
		a.onExit(ExitInfo{Code: exitCode})
	}
}

// SendMessage is unsupported: Adapter C is single-turn.
func (a *Template) SendMessage(ctx context.Context, text string, imagePath string) error {
	return fmt.Errorf("template adapter: multi-turn send not supported")
}

// Interrupt signals the process group; this adapter has no in-band cancel.
func (a *Template) Interrupt(ctx context.Context) error {
	return a.Kill(SigInt)
}

func (a *Template) Kill(sig Signal) error {
	return killProcessGroup(a.PID(), sig)
}

func (a *Template) SetPermissionMode(ctx context.Context, mode string) error {
	return fmt.Errorf("template adapter: permission mode not applicable")
}

func (a *Template) SetModel(ctx context.Context, modelName string) (bool, error) {
	return false, fmt.Errorf("template adapter: model switch not applicable to a one-shot run")
}
