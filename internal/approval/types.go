// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package approval queues human-approval requests per session and lets
// out-of-process callers block on their resolution.
package approval

import (
	"encoding/json"
	"errors"
	"time"
)

// Kind is the kind of decision a human is asked to make.
type Kind string

const (
	KindPermission Kind = "permission"
	KindPlan       Kind = "plan"
	KindQuestion   Kind = "question"
	KindCommit     Kind = "commit"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPermission, KindPlan, KindQuestion, KindCommit:
		return true
	}
	return false
}

// Status is the lifecycle state of an Action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Scope controls how long a remembered permission pattern applies.
type Scope string

const (
	ScopeOnce    Scope = ""
	ScopeSession Scope = "session"
	ScopeAlways  Scope = "always"
)

// Outcome labels how an action was resolved, for audit and metrics.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeExpired  Outcome = "expired"
	OutcomeAuto     Outcome = "auto_approved"
)

var (
	ErrDuplicateRequest = errors.New("approval: duplicate request id")
	ErrUnknownRequest   = errors.New("approval: unknown request id")
	ErrInvalidKind      = errors.New("approval: invalid kind")
	ErrMissingSession   = errors.New("approval: session id required")
)

// Resolution is the human's decision plus kind-specific extras.
type Resolution struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`

	// Permission: remember this pattern for the given scope.
	Pattern string `json:"pattern,omitempty"`
	Scope   Scope  `json:"scope,omitempty"`

	// Commit: push after committing.
	Push bool `json:"push,omitempty"`

	// Question: answers keyed by question text.
	Answers map[string]string `json:"answers,omitempty"`

	// Replaces the tool input the agent proposed.
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`

	TimedOut     bool `json:"timed_out,omitempty"`
	AutoApproved bool `json:"auto_approved,omitempty"`
}

// Outcome classifies the resolution.
func (r Resolution) Outcome() Outcome {
	switch {
	case r.AutoApproved:
		return OutcomeAuto
	case r.TimedOut:
		return OutcomeTimeout
	case r.Approved:
		return OutcomeApproved
	default:
		return OutcomeDenied
	}
}

// EffectiveInput returns the tool input the agent should run with after an
// approval: an explicit replacement, the original input with question
// answers merged in, or the original input unchanged.
func (r Resolution) EffectiveInput(kind Kind, input json.RawMessage) json.RawMessage {
	if len(r.UpdatedInput) > 0 {
		return r.UpdatedInput
	}
	if kind != KindQuestion || len(r.Answers) == 0 {
		return input
	}
	fields := map[string]json.RawMessage{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &fields); err != nil {
			return input
		}
	}
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return input
	}
	fields["answers"] = answers
	merged, err := json.Marshal(fields)
	if err != nil {
		return input
	}
	return merged
}

// Request is what a caller submits to the gateway.
type Request struct {
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id,omitempty"`
	Kind      Kind            `json:"kind,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Action is one tracked approval request. Fields other than Status,
// Resolution and ResolvedAt never change after creation; those three are
// written exactly once.
type Action struct {
	SessionID  string          `json:"session_id"`
	RequestID  string          `json:"request_id"`
	Kind       Kind            `json:"kind"`
	ToolName   string          `json:"tool_name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     Status          `json:"status"`
	Resolution *Resolution     `json:"resolution,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt time.Time       `json:"resolved_at,omitempty"`

	done chan struct{}
}

// Done is closed once the action is resolved.
func (a *Action) Done() <-chan struct{} { return a.done }
