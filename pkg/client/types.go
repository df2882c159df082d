// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/json"
	"time"
)

// Session status values.
const (
	StatusStopped = "stopped"
	StatusRunning = "running"
	StatusError   = "error"
)

// Session permission modes.
const (
	ModeDefault           = "default"
	ModeAcceptEdits       = "acceptEdits"
	ModePlan              = "plan"
	ModeBypassPermissions = "bypassPermissions"
)

// Session is a persistent chat session and its process status.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	WorkDir        string    `json:"work_dir"`
	AgentSessionID string    `json:"agent_session_id,omitempty"`
	Model          string    `json:"model,omitempty"`
	Mode           string    `json:"mode"`
	Status         string    `json:"status"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateSessionRequest describes a new session.
type CreateSessionRequest struct {
	WorkDir string `json:"work_dir"`
	Model   string `json:"model,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// Attachment is a file sent alongside a user message.
type Attachment struct {
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// ContentBlock is one block of a stored message.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Message is one stored turn of a session's conversation.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        string         `json:"role"`
	Content     []ContentBlock `json:"content"`
	Interrupted bool           `json:"interrupted,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Usage is a snapshot of a process's token and cost totals.
type Usage struct {
	Model               string  `json:"model,omitempty"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CostUSD             float64 `json:"cost_usd"`
	Turns               int64   `json:"turns"`
	ContextTokens       int     `json:"context_tokens"`
	ContextWindow       int     `json:"context_window"`
	ContextPercent      int     `json:"context_percent"`
}

// UsageStatus reports usage for a session. Usage is nil when no process is
// running.
type UsageStatus struct {
	Running bool   `json:"running"`
	Usage   *Usage `json:"usage,omitempty"`
}

// BufferedEvent is an event replayed to a reconnecting client. Payload holds
// the event as the server emitted it.
type BufferedEvent struct {
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ReconnectState is what a client needs to resume a session view.
type ReconnectState struct {
	BufferedEvents []BufferedEvent `json:"bufferedEvents"`
	IsRunning      bool            `json:"isRunning"`
	Status         string          `json:"status"`
	Thinking       bool            `json:"thinking"`
	AgentType      string          `json:"agentType,omitempty"`
	Usage          *Usage          `json:"usage,omitempty"`
	PendingAction  *Action         `json:"pendingAction,omitempty"`
}

// Approval kinds.
const (
	KindPermission = "permission"
	KindPlan       = "plan"
	KindQuestion   = "question"
	KindCommit     = "commit"
)

// Approval status values.
const (
	ActionPending  = "pending"
	ActionResolved = "resolved"
)

// Rule scopes. An empty scope approves once.
const (
	ScopeOnce    = ""
	ScopeSession = "session"
	ScopeAlways  = "always"
)

// ApprovalRequest is submitted by a satellite helper.
type ApprovalRequest struct {
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Action is a queued approval request.
type Action struct {
	SessionID  string          `json:"session_id"`
	RequestID  string          `json:"request_id"`
	Kind       string          `json:"kind"`
	ToolName   string          `json:"tool_name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     string          `json:"status"`
	Resolution *Resolution     `json:"resolution,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt time.Time       `json:"resolved_at,omitempty"`
}

// Resolution is a human's (or the rule engine's) answer to an Action.
type Resolution struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`

	// Pattern and Scope save an approval rule alongside the answer.
	Pattern string `json:"pattern,omitempty"`
	Scope   string `json:"scope,omitempty"`

	// Push asks a commit helper to push after committing.
	Push bool `json:"push,omitempty"`

	// Answers maps question text to the chosen answer.
	Answers map[string]string `json:"answers,omitempty"`

	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
	TimedOut     bool            `json:"timed_out,omitempty"`
	AutoApproved bool            `json:"auto_approved,omitempty"`
}

// RespondResult is returned by [ApprovalClient.Respond]. Status is
// "resolved" when this call answered the request, the action's current
// status when it was already answered, or "unknown".
type RespondResult struct {
	RequestID string  `json:"request_id"`
	Status    string  `json:"status"`
	Action    *Action `json:"action,omitempty"`
}

// AuditEntry is one row of a session's approval audit trail.
type AuditEntry struct {
	RequestID string        `json:"request_id"`
	SessionID string        `json:"session_id"`
	Kind      string        `json:"kind"`
	ToolName  string        `json:"tool_name,omitempty"`
	Event     string        `json:"event"`
	Outcome   string        `json:"outcome,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Pattern   string        `json:"pattern,omitempty"`
	Wait      time.Duration `json:"wait_ns,omitempty"`
	At        time.Time     `json:"at"`
}

// Event is a server event.
type Event struct {
	ID        string                 `json:"id"`
	Seq       uint64                 `json:"seq"`
	Version   string                 `json:"version"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Session   string                 `json:"session,omitempty"`
	User      string                 `json:"user,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
}

// Health is the server's health report.
type Health struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
	Running  int    `json:"running"`
}
