// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateRequired(cfg, errs)
	v.validateSlots(cfg, errs)
	v.validateAdapters(cfg, errs)
	v.validateDurations(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateRequired(cfg *Config, errs *ValidationError) {
	if cfg.WorkerID == "" {
		errs.Add("worker_id", "is required")
	}
	if cfg.LogDir == "" {
		errs.Add("log_dir", "is required")
	}
}

func (v *Validator) validateSlots(cfg *Config, errs *ValidationError) {
	if cfg.Slots < 1 {
		errs.Add("slots", "must be at least 1")
	}
	if cfg.ZombieRetryMax < 0 {
		errs.Add("zombie_retry_max", "must not be negative")
	}
}

func (v *Validator) validateAdapters(cfg *Config, errs *ValidationError) {
	for name, a := range cfg.Adapters {
		field := fmt.Sprintf("adapters.%s", name)
		switch a.Kind {
		case "ndjson", "jsonrpc":
			if a.Binary == "" {
				errs.Add(field+".binary", "is required for kind "+a.Kind)
			}
		case "template":
			if len(a.CommandTemplate) == 0 {
				errs.Add(field+".command_template", "is required for kind template")
			}
		case "":
			errs.Add(field+".kind", "is required")
		default:
			errs.Add(field+".kind", "must be one of: ndjson, jsonrpc, template")
		}
	}
}

func (v *Validator) validateDurations(cfg *Config, errs *ValidationError) {
	if cfg.DefaultIdleTimeout != "" {
		if d := ParseDuration(cfg.DefaultIdleTimeout, -1); d == -1 {
			errs.Add("default_idle_timeout", "must be a valid Go duration, e.g. \"15m\"")
		}
	}
	if cfg.TeamInbox.PollInterval != "" {
		if d := ParseDuration(cfg.TeamInbox.PollInterval, -1); d == -1 {
			errs.Add("team_inbox.poll_interval", "must be a valid Go duration, e.g. \"2s\"")
		}
	}
}
