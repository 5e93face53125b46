// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agendo/workerd/internal/model"
)

// cliJSONLLine mirrors one line of Claude CLI's on-disk session JSONL
// format, grounded on the teacher's CLIJSONLLine.
type cliJSONLLine struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"sessionId"`
	UUID        string          `json:"uuid"`
	ParentUUID  string          `json:"parentUuid,omitempty"`
	Message     json.RawMessage `json:"message"`
	CWD         string          `json:"cwd"`
	Version     string          `json:"version"`
	Timestamp   string          `json:"timestamp"`
	IsSidechain bool            `json:"isSidechain"`
	UserType    string          `json:"userType"`
}

// cliContentBlock is the subset of the Messages API content-block shape
// the CLI's JSONL reader expects for a role/content history turn.
type cliContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type cliMessage struct {
	Role    string            `json:"role"`
	Content []cliContentBlock `json:"content"`
	ts      time.Time
}

// cliProjectDir returns Claude CLI's project-specific storage directory for
// cwd, under ~/.claude/projects/, encoding "/" and "." as "-" exactly as
// the teacher's CLIProjectDir does.
func cliProjectDir(cwd string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	encoded := strings.NewReplacer("/", "-", ".", "-").Replace(cwd)
	return filepath.Join(home, ".claude", "projects", encoded), nil
}

// historyToCLIMessages reconstructs Claude-API-style role/content turns
// from the canonical AgendoEvent log: user text becomes a user message,
// a tool_use/tool_result pair becomes an assistant tool_use block followed
// by a user tool_result message, mirroring how the CLI itself writes
// multi-turn history to disk.
func historyToCLIMessages(events []model.AgendoEvent) []cliMessage {
	var out []cliMessage
	for _, ev := range events {
		ts := time.UnixMilli(ev.Ts)
		switch ev.Type {
		case model.EventUserMessage:
			if ev.Text == "" {
				continue
			}
			out = append(out, cliMessage{
				Role:    "user",
				Content: []cliContentBlock{{Type: "text", Text: ev.Text}},
				ts:      ts,
			})
		case model.EventToolStart:
			input, _ := json.Marshal(ev.ToolInput)
			out = append(out, cliMessage{
				Role: "assistant",
				Content: []cliContentBlock{{
					Type: "tool_use", ID: ev.ToolUseID, Name: ev.ToolName, Input: input,
				}},
				ts: ts,
			})
		case model.EventToolEnd:
			out = append(out, cliMessage{
				Role: "user",
				Content: []cliContentBlock{{
					Type: "tool_result", ToolUseID: ev.ToolUseID, Content: ev.ToolOutput,
				}},
				ts: ts,
			})
		}
	}
	return out
}

// writeCLISessionFile writes a fresh Claude CLI JSONL session file under
// cwd's project directory and returns the new session id, grounded on the
// teacher's WriteCLISessionFile. It does not touch sessions-index.json —
// this path exists only to recover a --resume target, not to make the
// rebuilt session browsable from the CLI's own session picker.
func writeCLISessionFile(cwd string, messages []cliMessage) (string, error) {
	projDir, err := cliProjectDir(cwd)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(projDir, 0755); err != nil {
		return "", fmt.Errorf("create project dir: %w", err)
	}

	sessionID := uuid.New().String()
	jsonlPath := filepath.Join(projDir, sessionID+".jsonl")

	f, err := os.Create(jsonlPath)
	if err != nil {
		return "", fmt.Errorf("create JSONL file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	var prevUUID string
	for _, msg := range messages {
		lineUUID := uuid.New().String()
		msgJSON, err := json.Marshal(struct {
			Role    string            `json:"role"`
			Content []cliContentBlock `json:"content"`
		}{Role: msg.Role, Content: msg.Content})
		if err != nil {
			return "", fmt.Errorf("marshal message: %w", err)
		}
		line := cliJSONLLine{
			Type:        msg.Role,
			SessionID:   sessionID,
			UUID:        lineUUID,
			ParentUUID:  prevUUID,
			Message:     msgJSON,
			CWD:         cwd,
			Version:     "2.1.37",
			Timestamp:   msg.ts.UTC().Format(time.RFC3339Nano),
			IsSidechain: false,
			UserType:    "external",
		}
		if err := enc.Encode(line); err != nil {
			return "", fmt.Errorf("write JSONL line: %w", err)
		}
		prevUUID = lineUUID
	}
	return sessionID, nil
}

// RebuildCLISessionFile reconstructs a Claude CLI session-history file from
// this session's canonical event log and returns the new sessionRef to
// --resume against. Used when a stale --resume fails with "No conversation
// found with session ID" (§4.3, E1): rather than discarding the
// conversation the way clearContextRestart does, the supervisor rewrites
// history to a fresh CLI session id the next Resume attempt can load.
func RebuildCLISessionFile(cwd string, events []model.AgendoEvent) (string, bool) {
	messages := historyToCLIMessages(events)
	if len(messages) == 0 {
		return "", false
	}
	ref, err := writeCLISessionFile(cwd, messages)
	if err != nil {
		return "", false
	}
	return ref, true
}
