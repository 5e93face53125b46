// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesHJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agendo-workerd.hjson")
	body := `{
		// worker identity
		worker_id: w1
		slots: 8
		log_dir: /var/log/agendo
		adapters: {
			claude: {kind: ndjson, binary: claude}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	l := NewLoader()
	cfg, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "w1", cfg.WorkerID)
	assert.Equal(t, 8, cfg.Slots)
	assert.Equal(t, "claude", cfg.Adapters["claude"].Binary)
}

func TestLoadWithDefaultsAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agendo-workerd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"worker_id": "w1"}`), 0o644))

	l := NewLoader()
	cfg, err := l.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Slots)
	assert.Equal(t, 3, cfg.ZombieRetryMax)
	assert.Equal(t, "logs", cfg.LogDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "2s", cfg.TeamInbox.PollInterval)
}

func TestFindConfigPrefersHJSON(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(wd)
	require.NoError(t, os.Chdir(dir))

	require.NoError(t, os.WriteFile("agendo-workerd.hjson", []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile("agendo-workerd.json", []byte(`{}`), 0o644))

	l := NewLoader()
	found, err := l.FindConfig()
	require.NoError(t, err)
	assert.Contains(t, found, "agendo-workerd.hjson")
}

func TestFindConfigErrorsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(wd)
	require.NoError(t, os.Chdir(dir))

	l := NewLoader()
	_, err = l.FindConfig()
	assert.Error(t, err)
}
