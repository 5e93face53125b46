// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package teaminbox watches a team leader's inbox JSON file for appended
// messages, grounded on the teacher's internal/watcher.BinaryWatcher
// (fsnotify.Write/Create handling, ref-counted watch paths), retargeted
// from "watch a binary for rebuilds" onto "watch an inbox file for growth".
package teaminbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/agendo/workerd/internal/model"
)

// Entry is one element of the inbox array.
type Entry struct {
	Text string `json:"text"`
}

// EmitFunc publishes the team:message event the supervisor stamps and
// persists.
type EmitFunc func(model.AgendoEvent)

// Monitor watches one leader inbox file and emits a team:message event per
// entry appended after the monitor attached. Entries present at attach
// time are snapshotted and never re-fired.
type Monitor struct {
	path string
	emit EmitFunc
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	seen    int

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Attach opens path, snapshots its current entry count, and starts
// watching for appended entries. Returns nil, nil if path does not exist
// yet (no team claims this session).
func Attach(path string, emit EmitFunc, log zerolog.Logger) (*Monitor, error) {
	entries, err := readEntries(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("teaminbox: read %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("teaminbox: new watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("teaminbox: watch %s: %w", path, err)
	}

	m := &Monitor{
		path:    path,
		emit:    emit,
		log:     log,
		watcher: w,
		seen:    len(entries),
		closeCh: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m, nil
}

// Close stops the monitor.
func (m *Monitor) Close() error {
	select {
	case <-m.closeCh:
		return nil
	default:
		close(m.closeCh)
	}
	err := m.watcher.Close()
	m.wg.Wait()
	return err
}

func (m *Monitor) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.closeCh:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			m.checkGrowth()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn().Err(err).Str("path", m.path).Msg("teaminbox: watch error")
		}
	}
}

func (m *Monitor) checkGrowth() {
	entries, err := readEntries(m.path)
	if err != nil {
		m.log.Warn().Err(err).Str("path", m.path).Msg("teaminbox: read failed")
		return
	}

	m.mu.Lock()
	start := m.seen
	if len(entries) <= start {
		m.mu.Unlock()
		return
	}
	fresh := entries[start:]
	m.seen = len(entries)
	m.mu.Unlock()

	for _, e := range fresh {
		ev := model.AgendoEvent{Type: model.EventTeamMessage, Text: e.Text}
		var payload map[string]any
		if json.Unmarshal([]byte(e.Text), &payload) == nil {
			ev.StructuredPayload = payload
		}
		if m.emit != nil {
			m.emit(ev)
		}
	}
}

func readEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("teaminbox: parse %s: %w", path, err)
	}
	return entries, nil
}

// FindLeaderInbox scans dir for a team config that names sessionID as a
// member and returns the leader's inbox path, or "" if no team claims this
// session. Team config files are named "<teamId>.json" and carry
// {"leaderInboxPath": "...", "memberSessionIds": [...]}.
func FindLeaderInbox(ctx context.Context, teamConfigDir, sessionID string) (string, error) {
	entries, err := os.ReadDir(teamConfigDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("teaminbox: read team config dir: %w", err)
	}

	type teamConfig struct {
		LeaderInboxPath  string   `json:"leaderInboxPath"`
		MemberSessionIDs []string `json:"memberSessionIds"`
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(fmt.Sprintf("%s/%s", teamConfigDir, entry.Name()))
		if err != nil {
			continue
		}
		var cfg teamConfig
		if json.Unmarshal(data, &cfg) != nil {
			continue
		}
		for _, id := range cfg.MemberSessionIDs {
			if id == sessionID {
				return cfg.LeaderInboxPath, nil
			}
		}
	}
	return "", nil
}
