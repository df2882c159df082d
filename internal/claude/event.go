// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"encoding/json"
	"time"
)

// EventKind identifies a normalized session event.
type EventKind string

const (
	EventRaw               EventKind = "raw"
	EventSessionInit       EventKind = "session_init"
	EventMessageStarted    EventKind = "message_started"
	EventTextDelta         EventKind = "text_delta"
	EventMessageComplete   EventKind = "message_complete"
	EventToolStarted       EventKind = "tool_started"
	EventToolCompleted     EventKind = "tool_completed"
	EventToolResult        EventKind = "tool_result"
	EventTodosReplaced     EventKind = "todos_replaced"
	EventSubagentStarted   EventKind = "subagent_started"
	EventUsageUpdated      EventKind = "usage_updated"
	EventThinking          EventKind = "thinking"
	EventTurnEnded         EventKind = "turn_ended"
	EventPermissionRequest EventKind = "permission_request"

	// Emitted by the supervisor rather than the parser.
	EventUserMessage EventKind = "user_message"
	EventStatus      EventKind = "status"
	EventApproval    EventKind = "approval"
)

// Todo is one entry of a TodoWrite tool call.
type Todo struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// Event is a normalized event produced from the agent's output stream or by
// the supervisor itself. Seq is assigned when the event enters the session's
// reconnect buffer and is zero for events emitted while no process is alive.
type Event struct {
	Seq       uint64    `json:"seq,omitempty"`
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	Text        string `json:"text,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
	Model       string `json:"model,omitempty"`

	AgentSessionID string   `json:"agent_session_id,omitempty"`
	SlashCommands  []string `json:"slash_commands,omitempty"`

	ToolName  string          `json:"tool_name,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	Todos     []Todo `json:"todos,omitempty"`
	AgentType string `json:"agent_type,omitempty"`

	Thinking *bool          `json:"thinking,omitempty"`
	Usage    *UsageSnapshot `json:"usage,omitempty"`

	StopReason string   `json:"stop_reason,omitempty"`
	Errors     []string `json:"errors,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	Status   Status          `json:"status,omitempty"`
	Approval json.RawMessage `json:"approval,omitempty"`
}

func boolPtr(b bool) *bool { return &b }
