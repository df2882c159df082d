// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events is Warden's in-process event bus. Sessions, approvals and
// config reloads publish here; dashboards read the history or stream it.
package events

import (
	"context"
	"time"
)

// Event is one published record. Seq is assigned by the bus and increases
// with every publish.
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

// VisibleTo reports whether user may see e. Events without an owner, such
// as config reloads, are visible to everyone.
func (e Event) VisibleTo(user string) bool {
	return e.User == "" || e.User == user
}

// EventHandler processes received events.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID identifies a subscription.
type SubscriptionID string

// EventFilter selects events from history. Zero fields match everything.
type EventFilter struct {
	Types    []string // patterns, see Pattern
	Session  string
	Viewer   string // only events VisibleTo this user
	Since    time.Time
	Until    time.Time
	AfterSeq uint64
	Limit    int // newest Limit events
}

// EventBus is the pub/sub interface components depend on.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)

	// SubscribeAsync delivers on a dedicated goroutine through a buffer of
	// bufferSize events. Events that find the buffer full are dropped.
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)

	Unsubscribe(id SubscriptionID) error
	History(filter EventFilter) ([]Event, error)
	Close() error
}

// Event types.
const (
	EventSessionCreated     = "session.created"
	EventSessionDeleted     = "session.deleted"
	EventSessionStarted     = "session.started"
	EventSessionStopped     = "session.stopped"
	EventSessionError       = "session.error"
	EventSessionIdleStopped = "session.idle_stopped"
	EventSessionTurnEnded   = "session.turn_ended"

	EventApprovalSubmitted = "approval.submitted"
	EventApprovalActive    = "approval.active"
	EventApprovalResolved  = "approval.resolved"
	EventApprovalExpired   = "approval.expired"
	EventApprovalAuto      = "approval.auto_approved"

	EventConfigReloaded = "config.reloaded"
)
