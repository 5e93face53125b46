// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		WorkerID: "w1",
		Slots:    4,
		LogDir:   "logs",
		Adapters: map[string]AdapterConfig{
			"claude": {Kind: "ndjson", Binary: "claude"},
		},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	require.NoError(t, NewValidator().Validate(validConfig()))
}

func TestValidateRequiresWorkerIDAndLogDir(t *testing.T) {
	cfg := validConfig()
	cfg.WorkerID = ""
	cfg.LogDir = ""

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.False(t, ve.IsEmpty())
	assert.Contains(t, err.Error(), "worker_id")
	assert.Contains(t, err.Error(), "log_dir")
}

func TestValidateRejectsZeroSlots(t *testing.T) {
	cfg := validConfig()
	cfg.Slots = 0
	assert.Error(t, NewValidator().Validate(cfg))
}

func TestValidateRequiresBinaryForProcessAdapters(t *testing.T) {
	cfg := validConfig()
	cfg.Adapters["broken"] = AdapterConfig{Kind: "jsonrpc"}
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapters.broken.binary")
}

func TestValidateRequiresCommandTemplateForTemplateAdapter(t *testing.T) {
	cfg := validConfig()
	cfg.Adapters["oneshot"] = AdapterConfig{Kind: "template"}
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapters.oneshot.command_template")
}

func TestValidateRejectsMalformedDurations(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultIdleTimeout = "not-a-duration"
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_idle_timeout")
}
