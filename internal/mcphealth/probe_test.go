// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcphealth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.json")
	body := `{
		"mcpServers": {
			"fs": {"command": ["mcp-fs"], "args": ["--root", "/tmp"], "env": {"FOO": "bar"}},
			"remote": {"url": "https://example.invalid/sse"},
			"off": {"command": ["mcp-off"], "disabled": true}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	servers, err := ParseConfigFile(path)
	require.NoError(t, err)
	require.Len(t, servers, 3)

	assert.True(t, servers["fs"].Enabled)
	assert.Equal(t, []string{"mcp-fs", "--root", "/tmp"}, servers["fs"].Command)
	assert.Equal(t, "bar", servers["fs"].Environment["FOO"])

	assert.True(t, servers["remote"].Enabled)
	assert.Equal(t, "https://example.invalid/sse", servers["remote"].URL)

	assert.False(t, servers["off"].Enabled)
}

func TestConnectSkipsDisabledServers(t *testing.T) {
	p := New(map[string]ServerConfig{
		"off": {Enabled: false, Command: []string{"does-not-matter"}},
	}, zerolog.Nop())

	p.Connect(context.Background())

	status := p.Status()
	assert.Equal(t, StatusDisabled, status["off"])
	assert.Empty(t, p.Unhealthy(context.Background()))
}

func TestConnectMarksFailedOnBadCommand(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := New(map[string]ServerConfig{
		"broken": {Enabled: true, Command: []string{"/nonexistent/binary-that-does-not-exist"}, Timeout: time.Second},
	}, zerolog.Nop())

	p.Connect(ctx)

	status := p.Status()
	assert.Equal(t, StatusFailed, status["broken"])
	assert.Contains(t, p.Unhealthy(ctx), "broken")
}

func TestUnhealthyReportsNeverConnectedServer(t *testing.T) {
	p := New(map[string]ServerConfig{
		"never-connected": {Enabled: true, Command: []string{"irrelevant"}},
	}, zerolog.Nop())

	assert.Equal(t, []string{"never-connected"}, p.Unhealthy(context.Background()))
}
