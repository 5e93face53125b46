// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mapper holds the pure (parsedWireEvent) -> []AgendoEvent
// transforms, one per adapter variant. Each mapper type owns only the
// minimal accumulation state its protocol requires (open tool-use ids,
// in-flight content blocks); it never touches the bus, the log, or the
// session row — the supervisor stamps id/sessionId/ts and persists.
package mapper

import "encoding/json"

// WireContentBlock mirrors the content-block shape shared by the NDJSON
// and JSON-RPC wire formats closely enough to share extraction helpers.
type WireContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// WireStreamEvent is a parsed NDJSON line from an agent CLI running
// --output-format stream-json --include-partial-messages.
type WireStreamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Errors    []string        `json:"errors,omitempty"`

	DurationMs        int64                     `json:"duration_ms,omitempty"`
	DurationAPIMs     int64                     `json:"duration_api_ms,omitempty"`
	NumTurns          int                       `json:"num_turns,omitempty"`
	TotalCostUSD      float64                   `json:"total_cost_usd,omitempty"`
	ModelUsage        map[string]WireModelUsage `json:"modelUsage,omitempty"`
	PermissionDenials []json.RawMessage         `json:"permission_denials,omitempty"`
	ServerToolUse     *WireServerToolUse        `json:"server_tool_use,omitempty"`

	SlashCommands  []string        `json:"slash_commands,omitempty"`
	MCPServers     []WireMCPServer `json:"mcp_servers,omitempty"`
	Tools          []string        `json:"tools,omitempty"`
	CWD            string          `json:"cwd,omitempty"`
	APIKeySource   string          `json:"apiKeySource,omitempty"`
	PermissionMode string          `json:"permissionMode,omitempty"`
	Model          string          `json:"model,omitempty"`

	RetryAfter int `json:"retry_after,omitempty"`

	// control_request fields (permission prompts from --permission-prompt-tool stdio)
	RequestID string          `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`

	// stream_event inner payload (message_start/content_block_*)
	Event json.RawMessage `json:"event,omitempty"`
}

// WireModelUsage is the per-model accounting block on a result event.
// Cache fields are frequently absent; the mapper coerces them to 0.
type WireModelUsage struct {
	InputTokens              int     `json:"inputTokens"`
	OutputTokens             int     `json:"outputTokens"`
	CacheReadInputTokens     int     `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int     `json:"cacheCreationInputTokens"`
	CostUSD                  float64 `json:"costUSD"`
	ContextWindow            int     `json:"contextWindow"`
	MaxOutputTokens          int     `json:"maxOutputTokens"`
}

// WireServerToolUse carries server-side tool accounting (e.g. web search).
type WireServerToolUse struct {
	WebSearchRequests int `json:"web_search_requests,omitempty"`
}

// WireMCPServer is one entry of the system/init event's mcp_servers array.
type WireMCPServer struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// WireUsage is the usage block on an assistant message / message_start.
type WireUsage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}
