// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package teaminbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendo/workerd/internal/model"
)

func discardLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestAttachReturnsNilWhenInboxMissing(t *testing.T) {
	m, err := Attach(filepath.Join(t.TempDir(), "missing.json"), nil, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestAttachSnapshotsExistingEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inbox.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"text":"hello"}]`), 0644))

	var events []model.AgendoEvent
	m, err := Attach(path, func(ev model.AgendoEvent) { events = append(events, ev) }, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, m)
	defer m.Close()

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, events)
}

func TestAppendedEntryEmitsTeamMessage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inbox.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0644))

	var events []model.AgendoEvent
	m, err := Attach(path, func(ev model.AgendoEvent) { events = append(events, ev) }, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, m)
	defer m.Close()

	require.NoError(t, os.WriteFile(path, []byte(`[{"text":"hi team"}]`), 0644))

	require.Eventually(t, func() bool { return len(events) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.EventTeamMessage, events[0].Type)
	assert.Equal(t, "hi team", events[0].Text)
}

func TestFindLeaderInboxMatchesMember(t *testing.T) {
	dir := t.TempDir()
	cfg := `{"leaderInboxPath":"/tmp/leader-inbox.json","memberSessionIds":["s1","s2"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "team1.json"), []byte(cfg), 0644))

	path, err := FindLeaderInbox(nil, dir, "s2")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/leader-inbox.json", path)
}

func TestFindLeaderInboxNoMatch(t *testing.T) {
	dir := t.TempDir()
	path, err := FindLeaderInbox(nil, dir, "s9")
	require.NoError(t, err)
	assert.Empty(t, path)
}
