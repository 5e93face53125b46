// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mapper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendo/workerd/internal/model"
)

func decodeWire(t *testing.T, line string) WireStreamEvent {
	t.Helper()
	var ev WireStreamEvent
	require.NoError(t, json.Unmarshal([]byte(line), &ev))
	return ev
}

func TestNDJSON_SpawnTextExit(t *testing.T) {
	m := NewNDJSON()

	init := decodeWire(t, `{"type":"system","subtype":"init","session_id":"sess-abc","slash_commands":["compact","clear"],"mcp_servers":[],"model":"M1"}`)
	events := m.Map(init, 1, nil)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventSessionInit, events[0].Type)
	assert.Equal(t, "sess-abc", events[0].SessionRef)
	assert.Equal(t, "M1", events[0].Model)

	asst := decodeWire(t, `{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`)
	events = m.Map(asst, 2, nil)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventAgentText, events[0].Type)
	assert.Equal(t, "hi", events[0].Text)

	result := decodeWire(t, `{"type":"result","subtype":"success","duration_ms":1000,"duration_api_ms":900,"num_turns":1,"total_cost_usd":0.01,"modelUsage":{"M1":{"inputTokens":10,"outputTokens":2,"costUSD":0.01,"contextWindow":200000}}}`)
	events = m.Map(result, 3, nil)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, model.EventResult, ev.Type)
	assert.False(t, ev.IsError)
	assert.Equal(t, 1, ev.Turns)
	assert.Equal(t, int64(1000), ev.DurationMs)
	assert.Equal(t, 0.01, ev.CostUSD)
	assert.Equal(t, 0, ev.ModelUsage["M1"].CacheReadInputTokens, "absent cache fields coerce to 0")
}

func TestNDJSON_ToolStartEnd(t *testing.T) {
	m := NewNDJSON()
	asst := decodeWire(t, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu1","name":"Bash","input":{"command":"ls"}}]}}`)
	events := m.Map(asst, 10, nil)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventToolStart, events[0].Type)
	assert.Equal(t, "Bash", events[0].ToolName)
	assert.Equal(t, "ls", events[0].ToolInput["command"])

	result := decodeWire(t, `{"type":"assistant","message":{"content":[{"type":"tool_result","tool_use_id":"tu1","content":"file1\nfile2"}]}}`)
	events = m.Map(result, 20, nil)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventToolEnd, events[0].Type)
	assert.Equal(t, "tu1", events[0].ToolUseID)
	assert.Equal(t, int64(10), events[0].DurationMs)
	assert.Equal(t, "file1\nfile2", events[0].ToolOutput)
}

func TestExtractToolResultText_ArrayOfBlocks(t *testing.T) {
	raw := json.RawMessage(`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`)
	text, truncated := extractToolResultText(raw)
	assert.Equal(t, "a\nb", text)
	assert.False(t, truncated)
}

func TestExtractToolResultText_String(t *testing.T) {
	raw := json.RawMessage(`"plain output"`)
	text, _ := extractToolResultText(raw)
	assert.Equal(t, "plain output", text)
}

func TestStreamEvent_Deltas(t *testing.T) {
	m := NewNDJSON()
	outer := decodeWire(t, `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"he"}}}`)
	events := m.Map(outer, 5, nil)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventAgentTextDelta, events[0].Type)
	assert.True(t, events[0].IsDelta)
	assert.Equal(t, "he", events[0].Text)
}

func TestNDJSON_SecondSystemInitProducesNoEvent(t *testing.T) {
	m := NewNDJSON()

	first := decodeWire(t, `{"type":"system","subtype":"init","session_id":"sess-abc","model":"M1"}`)
	events := m.Map(first, 1, nil)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventSessionInit, events[0].Type)

	second := decodeWire(t, `{"type":"system","subtype":"init","session_id":"sess-abc","model":"M1"}`)
	events = m.Map(second, 2, nil)
	assert.Empty(t, events, "a repeated system_init must not re-emit session:init")
}

func TestUsageCallback_DefaultsMissingCacheFieldsToZero(t *testing.T) {
	m := NewNDJSON()
	var gotIn, gotCacheRead, gotCacheCreate int
	cb := func(in, cr, cc int) { gotIn, gotCacheRead, gotCacheCreate = in, cr, cc }

	asst := decodeWire(t, `{"type":"assistant","message":{"content":[],"usage":{"input_tokens":7}}}`)
	m.Map(asst, 1, cb)
	assert.Equal(t, 7, gotIn)
	assert.Equal(t, 0, gotCacheRead)
	assert.Equal(t, 0, gotCacheCreate)
}
