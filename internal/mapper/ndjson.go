// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"encoding/json"
	"strings"

	"github.com/agendo/workerd/internal/model"
)

// UsageCallback reports token accounting extracted from the usage block of
// an assistant message. stream_event message_start records are not read
// for usage. This is not itself a canonical event — it is non-event
// bookkeeping per §4.4.
type UsageCallback func(inputTokens, cacheReadInputTokens, cacheCreationInputTokens int)

// NDJSON is Adapter A's mapper. It owns only the minimal state needed to
// coalesce streamed content blocks and match tool-start/tool-end pairs;
// it never touches the bus, log, or session row.
type NDJSON struct {
	openToolUse   map[string]toolUseState
	sawSessionRef bool
}

type toolUseState struct {
	name      string
	startedAt int64
}

// NewNDJSON constructs a fresh per-session mapper instance.
func NewNDJSON() *NDJSON {
	return &NDJSON{openToolUse: make(map[string]toolUseState)}
}

// Map transforms one parsed wire line into zero or more canonical events.
// nowMs is supplied by the caller (the supervisor) rather than read from
// the system clock here, keeping the transform pure and testable.
func (m *NDJSON) Map(ev WireStreamEvent, nowMs int64, usage UsageCallback) []model.AgendoEvent {
	var out []model.AgendoEvent

	switch ev.Type {
	case "system":
		if ev.Subtype == "init" && !m.sawSessionRef {
			m.sawSessionRef = true
			out = append(out, model.AgendoEvent{
				Type:           model.EventSessionInit,
				Ts:             nowMs,
				SessionRef:     ev.SessionID,
				SlashCommands:  ev.SlashCommands,
				MCPServers:     mcpServerNames(ev.MCPServers),
				Tools:          ev.Tools,
				CWD:            ev.CWD,
				APIKeySource:   ev.APIKeySource,
				PermissionMode: ev.PermissionMode,
				Model:          ev.Model,
			})
		}
		if ev.RetryAfter > 0 {
			out = append(out, model.AgendoEvent{
				Type: model.EventSystemRateLimit, Ts: nowMs, RetryAfterSec: ev.RetryAfter,
			})
		}

	case "assistant":
		var parsed struct {
			Content []WireContentBlock `json:"content"`
			Usage   WireUsage          `json:"usage"`
		}
		if json.Unmarshal(ev.Message, &parsed) == nil {
			if usage != nil {
				usage(parsed.Usage.InputTokens, parsed.Usage.CacheReadInputTokens, parsed.Usage.CacheCreationInputTokens)
			}
			for _, block := range parsed.Content {
				out = append(out, m.mapContentBlock(block, nowMs)...)
			}
		}

	case "result":
		modelUsage := make(map[string]model.ModelUsage, len(ev.ModelUsage))
		for name, u := range ev.ModelUsage {
			modelUsage[name] = model.ModelUsage{
				InputTokens:              u.InputTokens,
				OutputTokens:             u.OutputTokens,
				CacheReadInputTokens:     u.CacheReadInputTokens,
				CacheCreationInputTokens: u.CacheCreationInputTokens,
				CostUSD:                  u.CostUSD,
				ContextWindow:            u.ContextWindow,
				MaxOutputTokens:          u.MaxOutputTokens,
			}
		}
		webSearch := 0
		if ev.ServerToolUse != nil {
			webSearch = ev.ServerToolUse.WebSearchRequests
		}
		out = append(out, model.AgendoEvent{
			Type:              model.EventResult,
			Ts:                nowMs,
			IsError:           ev.IsError,
			Subtype:           ev.Subtype,
			CostUSD:           ev.TotalCostUSD,
			Turns:             ev.NumTurns,
			DurationMs:        ev.DurationMs,
			DurationAPIMs:     ev.DurationAPIMs,
			ModelUsage:        modelUsage,
			PermissionDenials: len(ev.PermissionDenials),
			WebSearchRequests: webSearch,
			Errors:            ev.Errors,
		})

	case "stream_event":
		if ev.Event != nil {
			out = append(out, m.mapStreamEvent(ev.Event, nowMs)...)
		}
	}

	return out
}

// OpenToolUseID returns the id of the most recently started tool-use block
// named toolName that has not yet received its tool_result, for correlating
// a control_request permission prompt (keyed by its own request_id) back to
// the toolUseId its agent:tool-start event already carried.
func (m *NDJSON) OpenToolUseID(toolName string) (string, bool) {
	var id string
	var startedAt int64 = -1
	for candidate, st := range m.openToolUse {
		if st.name == toolName && st.startedAt > startedAt {
			id = candidate
			startedAt = st.startedAt
		}
	}
	return id, startedAt >= 0
}

func mcpServerNames(servers []WireMCPServer) []string {
	names := make([]string, 0, len(servers))
	for _, s := range servers {
		names = append(names, s.Name)
	}
	return names
}

func (m *NDJSON) mapContentBlock(block WireContentBlock, nowMs int64) []model.AgendoEvent {
	switch block.Type {
	case "text":
		return []model.AgendoEvent{{Type: model.EventAgentText, Ts: nowMs, Text: block.Text}}
	case "thinking":
		return []model.AgendoEvent{{Type: model.EventAgentThinking, Ts: nowMs, Text: block.Text}}
	case "tool_use":
		m.openToolUse[block.ID] = toolUseState{name: block.Name, startedAt: nowMs}
		input := decodeToolInput(block.Input)
		return []model.AgendoEvent{{
			Type: model.EventToolStart, Ts: nowMs, ToolUseID: block.ID, ToolName: block.Name, ToolInput: input,
		}}
	case "tool_result":
		state, known := m.openToolUse[block.ToolUseID]
		delete(m.openToolUse, block.ToolUseID)
		text, truncated := extractToolResultText(block.Content)
		var duration int64
		if known {
			duration = nowMs - state.startedAt
		}
		return []model.AgendoEvent{{
			Type: model.EventToolEnd, Ts: nowMs, ToolUseID: block.ToolUseID,
			ToolOutput: text, DurationMs: duration, Truncated: truncated,
		}}
	}
	return nil
}

// extractToolResultText implements the edge case in §4.4: content may be a
// JSON string, or an array of content blocks (text blocks joined with \n,
// anything else falls back to its raw JSON form).
func extractToolResultText(raw json.RawMessage) (text string, truncated bool) {
	if len(raw) == 0 {
		return "", false
	}
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		return stripMCPAnnotation(asString), false
	}
	var blocks []WireContentBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			} else {
				parts = append(parts, string(b.Content))
			}
		}
		return strings.Join(parts, "\n"), false
	}
	return string(raw), false
}

// stripMCPAnnotation removes the "/<server>[stdout] "/"[stderr] " prefix an
// agent sometimes adds to nested tool-call output before JSON parsing.
func stripMCPAnnotation(s string) string {
	if !strings.HasPrefix(s, "/") {
		return s
	}
	for _, marker := range []string{"[stdout] ", "[stderr] "} {
		if idx := strings.Index(s, marker); idx > 0 && idx < 64 {
			return s[idx+len(marker):]
		}
	}
	return s
}

func decodeToolInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) == nil {
		return m
	}
	return nil
}

// mapStreamEvent handles --include-partial-messages inner events:
// message_start (no canonical event; its usage is not read here),
// content_block_delta (agent:*-delta), content_block_stop (nothing; the
// subsequent assistant/result event carries the completed block).
func (m *NDJSON) mapStreamEvent(raw json.RawMessage, nowMs int64) []model.AgendoEvent {
	var inner struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"delta,omitempty"`
	}
	if json.Unmarshal(raw, &inner) != nil {
		return nil
	}
	switch inner.Type {
	case "content_block_delta":
		switch inner.Delta.Type {
		case "text_delta":
			return []model.AgendoEvent{{Type: model.EventAgentTextDelta, Ts: nowMs, Text: inner.Delta.Text, IsDelta: true}}
		case "thinking_delta":
			return []model.AgendoEvent{{Type: model.EventThinkingDelta, Ts: nowMs, Text: inner.Delta.Text, IsDelta: true}}
		}
	}
	return nil
}
