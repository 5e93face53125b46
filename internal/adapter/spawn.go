// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"github.com/mitchellh/go-ps"
)

// guardEnvVars are host-agent-guard variables that would make a child
// detect it is itself being supervised by a nested session and abort, per
// §4.1 step 6. They are stripped before building the child environment.
var guardEnvVars = map[string]struct{}{
	"CLAUDECODE":           {},
	"CLAUDE_CODE_SSE_PORT": {},
	"CODEX_SANDBOX":        {},
}

// BuildChildEnv starts from the worker's own process environment, strips
// guard variables, overlays envOverrides, then injects session identity
// variables so the child can report back which session it belongs to.
func BuildChildEnv(overrides map[string]string, sessionID, agentID, taskID string) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(overrides)+4)
	for _, kv := range base {
		if eq := indexByte(kv, '='); eq > 0 {
			if _, guarded := guardEnvVars[kv[:eq]]; guarded {
				continue
			}
		}
		env = append(env, kv)
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	env = append(env, "SESSION_ID="+sessionID)
	if agentID != "" {
		env = append(env, "AGENT_ID="+agentID)
	}
	if taskID != "" {
		env = append(env, "TASK_ID="+taskID)
	}
	return env
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// NewChildCommand builds an *exec.Cmd for name/args that runs in its own
// process group, so a later signal to -pid reaches every descendant too.
func NewChildCommand(ctx context.Context, cwd string, env []string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = cwd
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// killProcessGroup signals the entire process group rooted at pid.
func killProcessGroup(pid int, sig Signal) error {
	if pid <= 0 {
		return nil
	}
	var osSig syscall.Signal
	switch sig {
	case SigInt:
		osSig = syscall.SIGINT
	case SigTerm:
		osSig = syscall.SIGTERM
	case SigKill:
		osSig = syscall.SIGKILL
	}
	return syscall.Kill(-pid, osSig)
}

// probeAlive reports whether pid still exists: kill(pid, 0) must succeed
// and the pid must also appear in the process table. A pid number the
// kernel has reassigned to an unrelated process passes both checks.
func probeAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if syscall.Kill(pid, 0) != nil {
		return false
	}
	proc, err := ps.FindProcess(pid)
	return err == nil && proc != nil
}

// ProbeAlive is the exported form of probeAlive, wired into the activity
// tracker's heartbeat probe and the zombie reconciler's boot-time scan.
func ProbeAlive(pid int) bool {
	return probeAlive(pid)
}
