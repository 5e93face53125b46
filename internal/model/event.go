// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package model

// EventType discriminates AgendoEvent. The serializer emits it verbatim
// under the "type" field; the deserializer pattern-matches on it.
type EventType string

const (
	EventAgentText       EventType = "agent:text"
	EventAgentTextDelta  EventType = "agent:text-delta"
	EventAgentThinking   EventType = "agent:thinking"
	EventThinkingDelta   EventType = "agent:thinking-delta"
	EventToolStart       EventType = "agent:tool-start"
	EventToolEnd         EventType = "agent:tool-end"
	EventToolApproval    EventType = "agent:tool-approval"
	EventResult          EventType = "agent:result"
	EventActivity        EventType = "agent:activity"
	EventSessionInit     EventType = "session:init"
	EventSessionState    EventType = "session:state"
	EventUserMessage     EventType = "user:message"
	EventSystemInfo      EventType = "system:info"
	EventSystemError     EventType = "system:error"
	EventSystemMCPStatus EventType = "system:mcp-status"
	EventSystemRateLimit EventType = "system:rate-limit"
	EventTeamMessage     EventType = "team:message"
)

// ModelUsage is the per-model token/cost accounting carried on
// agent:result. Absent cache fields are coerced to 0 by the mapper, never
// left as a missing-key sentinel the consumer must special-case.
type ModelUsage struct {
	InputTokens              int     `json:"inputTokens"`
	OutputTokens             int     `json:"outputTokens"`
	CacheReadInputTokens     int     `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int     `json:"cacheCreationInputTokens"`
	CostUSD                  float64 `json:"costUsd"`
	ContextWindow            int     `json:"contextWindow"`
	MaxOutputTokens          int     `json:"maxOutputTokens"`
}

// AgendoEvent is the canonical, append-only, immutable outbound record.
// Every adapter's mapper produces these; the supervisor stamps ID/SessionID/Ts
// and is the only writer of the sequence number.
type AgendoEvent struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Ts        int64     `json:"ts"`
	Type      EventType `json:"type"`

	// Payload fields, only the ones relevant to Type are populated.
	Text        string         `json:"text,omitempty"`
	IsDelta     bool           `json:"isDelta,omitempty"`
	ToolUseID   string         `json:"toolUseId,omitempty"`
	ToolName    string         `json:"toolName,omitempty"`
	ToolInput   map[string]any `json:"toolInput,omitempty"`
	ToolOutput  string         `json:"toolOutput,omitempty"`
	DurationMs  int64          `json:"durationMs,omitempty"`
	FileCount   int            `json:"fileCount,omitempty"`
	Truncated   bool           `json:"truncated,omitempty"`
	ApprovalID  string         `json:"approvalId,omitempty"`
	DangerLevel string         `json:"dangerLevel,omitempty"`
	AskUser     bool           `json:"askUser,omitempty"`

	IsError           bool                  `json:"isError,omitempty"`
	Subtype           string                `json:"subtype,omitempty"`
	CostUSD           float64               `json:"costUsd,omitempty"`
	Turns             int                   `json:"turns,omitempty"`
	DurationAPIMs     int64                 `json:"durationApiMs,omitempty"`
	ModelUsage        map[string]ModelUsage `json:"modelUsage,omitempty"`
	PermissionDenials int                   `json:"permissionDenials,omitempty"`
	WebSearchRequests int                   `json:"webSearchRequests,omitempty"`
	Errors            []string              `json:"errors,omitempty"`

	SessionRef     string   `json:"sessionRef,omitempty"`
	SlashCommands  []string `json:"slashCommands,omitempty"`
	MCPServers     []string `json:"mcpServers,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	CWD            string   `json:"cwd,omitempty"`
	APIKeySource   string   `json:"apiKeySource,omitempty"`
	PermissionMode string   `json:"permissionMode,omitempty"`
	Model          string   `json:"model,omitempty"`

	Status   SessionStatus `json:"status,omitempty"`
	Thinking bool          `json:"thinking,omitempty"`

	MCPServerName string `json:"mcpServerName,omitempty"`
	MCPHealthy    bool   `json:"mcpHealthy,omitempty"`

	RetryAfterSec int `json:"retryAfterSec,omitempty"`

	StructuredPayload map[string]any `json:"structuredPayload,omitempty"`

	ImageRef string `json:"imageRef,omitempty"`
}
