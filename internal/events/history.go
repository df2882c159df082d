// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"time"
)

// Default retention.
const (
	DefaultHistoryMaxEvents = 10000
	DefaultHistoryMaxAge    = time.Hour
)

// EventHistoryConfig configures retention. Zero values select defaults.
type EventHistoryConfig struct {
	MaxEvents int
	MaxAge    time.Duration
}

// EventHistory keeps the most recent events in a ring. Events leave when
// the ring is full or when Prune finds them older than MaxAge.
type EventHistory struct {
	mu     sync.RWMutex
	ring   []Event
	head   int // index of the oldest event
	size   int
	maxAge time.Duration
	now    func() time.Time
}

// NewEventHistory creates an empty history.
func NewEventHistory(cfg EventHistoryConfig) *EventHistory {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultHistoryMaxEvents
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultHistoryMaxAge
	}
	return &EventHistory{
		ring:   make([]Event, cfg.MaxEvents),
		maxAge: cfg.MaxAge,
		now:    time.Now,
	}
}

// Add appends event, evicting the oldest when full.
func (h *EventHistory) Add(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ring == nil {
		return
	}
	if h.size < len(h.ring) {
		h.ring[(h.head+h.size)%len(h.ring)] = event
		h.size++
		return
	}
	h.ring[h.head] = event
	h.head = (h.head + 1) % len(h.ring)
}

// Len returns the number of retained events.
func (h *EventHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Query returns matching events oldest first.
func (h *EventHistory) Query(filter EventFilter) ([]Event, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Event, 0)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.head+i)%len(h.ring)]
		if filter.matches(ev) {
			result = append(result, ev)
		}
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

func (f EventFilter) matches(ev Event) bool {
	switch {
	case len(f.Types) > 0 && !matchAny(ev.Type, f.Types):
		return false
	case f.Session != "" && ev.Session != f.Session:
		return false
	case f.Viewer != "" && !ev.VisibleTo(f.Viewer):
		return false
	case ev.Seq <= f.AfterSeq && f.AfterSeq > 0:
		return false
	case !f.Since.IsZero() && ev.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && ev.Timestamp.After(f.Until):
		return false
	}
	return true
}

// Prune drops events older than MaxAge. Events are stored in publish order,
// so expiry only ever trims the oldest end.
func (h *EventHistory) Prune() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.now().Add(-h.maxAge)
	for h.size > 0 && !h.ring[h.head].Timestamp.After(cutoff) {
		h.ring[h.head] = Event{}
		h.head = (h.head + 1) % len(h.ring)
		h.size--
	}
}

// Close drops every event. Later adds are ignored.
func (h *EventHistory) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring = nil
	h.head, h.size = 0, 0
}
