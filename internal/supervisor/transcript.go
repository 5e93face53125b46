// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/agendo/workerd/internal/adapter"
	"github.com/agendo/workerd/internal/model"
	"github.com/agendo/workerd/internal/sessionlog"
)

// TranscriptSchema is the schema identifier for the export format (§C:
// "out of the critical path, no invariant depends on it" — transcript
// export/import is a convenience, not part of the claim/spawn/resume
// state machine).
const TranscriptSchema = "agendo.transcript.v1"

// Transcript is the full export format for one session's canonical event
// log, grounded on the teacher's claude.Transcript.
type Transcript struct {
	Schema     string              `json:"schema"`
	ExportedAt time.Time           `json:"exportedAt"`
	Source     TranscriptSource    `json:"source"`
	Events     []model.AgendoEvent `json:"events"`
	Stats      TranscriptStats     `json:"stats"`
}

// TranscriptSource records where an exported transcript came from, so a
// later Import can be pointed at the right working directory.
type TranscriptSource struct {
	SessionID  string `json:"sessionId"`
	SessionRef string `json:"sessionRef,omitempty"`
	CWD        string `json:"cwd,omitempty"`
	Model      string `json:"model,omitempty"`
}

// TranscriptStats summarizes an exported event log.
type TranscriptStats struct {
	EventCount int `json:"eventCount"`
	UserTurns  int `json:"userTurns"`
	ToolUses   int `json:"toolUses"`
}

func computeTranscriptStats(events []model.AgendoEvent) TranscriptStats {
	var stats TranscriptStats
	stats.EventCount = len(events)
	for _, ev := range events {
		switch ev.Type {
		case model.EventUserMessage:
			stats.UserTurns++
		case model.EventToolStart:
			stats.ToolUses++
		}
	}
	return stats
}

// Export replays this session's durable log from the beginning and writes
// it as a self-contained JSON transcript file at path, atomically (tmp +
// rename), grounded on the teacher's WriteTranscriptSplit.
func (s *Supervisor) Export(path string) error {
	s.mu.Lock()
	sess := s.sess
	cwd := s.cwd
	logPath := s.log.Path()
	s.mu.Unlock()

	events, err := sessionlog.ReplaySince(logPath, 0)
	if err != nil {
		return fmt.Errorf("supervisor: replay log for export: %w", err)
	}

	t := Transcript{
		Schema:     TranscriptSchema,
		ExportedAt: time.Now(),
		Source: TranscriptSource{
			SessionID:  sess.ID,
			SessionRef: sess.SessionRef,
			CWD:        cwd,
			Model:      sess.Model,
		},
		Events: events,
		Stats:  computeTranscriptStats(events),
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("supervisor: marshal transcript: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("supervisor: write transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("supervisor: rename transcript: %w", err)
	}
	return nil
}

// ParseTranscript parses and validates a previously exported transcript.
func ParseTranscript(data []byte) (*Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("supervisor: invalid transcript json: %w", err)
	}
	if t.Schema != TranscriptSchema {
		return nil, fmt.Errorf("supervisor: unsupported transcript schema %q", t.Schema)
	}
	if len(t.Events) == 0 {
		return nil, fmt.Errorf("supervisor: transcript has no events")
	}
	return &t, nil
}

// Import rewrites a fresh Claude CLI session-history file from a
// previously exported transcript's events and returns the new sessionRef a
// later Resume can target. cwd is the project directory to import into —
// not necessarily t.Source.CWD, since a transcript is commonly imported
// into a different checkout than the one it was exported from.
func Import(cwd string, t *Transcript) (string, bool) {
	return adapter.RebuildCLISessionFile(cwd, t.Events)
}
