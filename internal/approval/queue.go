// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"encoding/json"
	"sync"
	"time"
)

// HeadFunc is called when the action at the front of a session's queue
// changes. head is nil when the queue empties. Callbacks run while the
// session's queue is locked and must not block or call back into the Queue
// for the same session.
type HeadFunc func(sessionID string, head *Action)

// Queue holds pending actions per session in submission order. Only the head
// of each session's queue is surfaced; later items wait invisibly until the
// ones before them resolve. Resolution order is free.
//
// Lock order is session queue, then the global index.
type Queue struct {
	mu       sync.Mutex
	sessions map[string]*sessionQueue
	index    map[string]*Action // pending and recently resolved, by request id

	hookMu sync.RWMutex
	hooks  []HeadFunc

	now func() time.Time
}

type sessionQueue struct {
	mu    sync.Mutex
	items []*Action
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{
		sessions: make(map[string]*sessionQueue),
		index:    make(map[string]*Action),
		now:      time.Now,
	}
}

// OnHeadChange registers fn for head notifications.
func (q *Queue) OnHeadChange(fn HeadFunc) {
	q.hookMu.Lock()
	defer q.hookMu.Unlock()
	q.hooks = append(q.hooks, fn)
}

func (q *Queue) notify(sessionID string, head *Action) {
	q.hookMu.RLock()
	hooks := q.hooks
	q.hookMu.RUnlock()

	var snap *Action
	if head != nil {
		c := head.snapshot()
		snap = &c
	}
	for _, fn := range hooks {
		fn(sessionID, snap)
	}
}

// lockSession returns the session's queue with its lock held. Empty queues
// are pruned by Expire, so the lookup is retried if the queue was replaced
// between the map read and acquiring its lock.
func (q *Queue) lockSession(id string) *sessionQueue {
	for {
		q.mu.Lock()
		sq, ok := q.sessions[id]
		if !ok {
			sq = &sessionQueue{}
			q.sessions[id] = sq
		}
		q.mu.Unlock()

		sq.mu.Lock()
		q.mu.Lock()
		current := q.sessions[id] == sq
		q.mu.Unlock()
		if current {
			return sq
		}
		sq.mu.Unlock()
	}
}

// Enqueue appends a pending action. If it is the only item for the session
// it becomes the head and subscribers are notified.
func (q *Queue) Enqueue(sessionID string, kind Kind, requestID, toolName string, payload json.RawMessage) (*Action, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}

	a := &Action{
		SessionID: sessionID,
		RequestID: requestID,
		Kind:      kind,
		ToolName:  toolName,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: q.now(),
		done:      make(chan struct{}),
	}

	sq := q.lockSession(sessionID)
	defer sq.mu.Unlock()

	q.mu.Lock()
	if _, exists := q.index[requestID]; exists {
		q.mu.Unlock()
		return nil, ErrDuplicateRequest
	}
	q.index[requestID] = a
	q.mu.Unlock()

	sq.items = append(sq.items, a)
	if len(sq.items) == 1 {
		q.notify(sessionID, a)
	}
	return a, nil
}

// Settle records an action that is resolved on arrival, such as one covered
// by a saved rule. It never enters the pending list.
func (q *Queue) Settle(sessionID string, kind Kind, requestID, toolName string, payload json.RawMessage, res Resolution) (*Action, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	now := q.now()
	a := &Action{
		SessionID:  sessionID,
		RequestID:  requestID,
		Kind:       kind,
		ToolName:   toolName,
		Payload:    payload,
		Status:     StatusResolved,
		Resolution: &res,
		CreatedAt:  now,
		ResolvedAt: now,
		done:       make(chan struct{}),
	}
	close(a.done)

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.index[requestID]; exists {
		return nil, ErrDuplicateRequest
	}
	q.index[requestID] = a
	return a, nil
}

// Resolve marks the action resolved and removes it from its session's queue.
// It returns false, changing nothing, for unknown or already resolved ids.
func (q *Queue) Resolve(requestID string, res Resolution) bool {
	_, ok := q.resolve(requestID, res)
	return ok
}

func (q *Queue) resolve(requestID string, res Resolution) (*Action, bool) {
	q.mu.Lock()
	a, ok := q.index[requestID]
	q.mu.Unlock()
	if !ok {
		return nil, false
	}

	sq := q.lockSession(a.SessionID)
	defer sq.mu.Unlock()

	// Re-check under the session lock: a concurrent resolve may have won.
	if a.Status != StatusPending {
		return nil, false
	}

	a.Status = StatusResolved
	a.Resolution = &res
	a.ResolvedAt = q.now()
	close(a.done)

	wasHead := false
	for i, item := range sq.items {
		if item == a {
			wasHead = i == 0
			sq.items = append(sq.items[:i], sq.items[i+1:]...)
			break
		}
	}
	if wasHead {
		if len(sq.items) > 0 {
			q.notify(a.SessionID, sq.items[0])
		} else {
			q.notify(a.SessionID, nil)
		}
	}
	return a, true
}

// Head returns the action currently surfaced for the session.
func (q *Queue) Head(sessionID string) *Action {
	sq := q.lockSession(sessionID)
	defer sq.mu.Unlock()
	if len(sq.items) == 0 {
		return nil
	}
	c := sq.items[0].snapshot()
	return &c
}

// Pending returns the session's pending actions in submission order.
func (q *Queue) Pending(sessionID string) []Action {
	sq := q.lockSession(sessionID)
	defer sq.mu.Unlock()
	out := make([]Action, 0, len(sq.items))
	for _, a := range sq.items {
		out = append(out, a.snapshot())
	}
	return out
}

// Get returns a copy of a tracked action, pending or recently resolved.
func (q *Queue) Get(requestID string) (Action, bool) {
	a := q.lookup(requestID)
	if a == nil {
		return Action{}, false
	}
	sq := q.lockSession(a.SessionID)
	defer sq.mu.Unlock()
	return a.snapshot(), true
}

// lookup returns the live action. Its mutable fields may only be read after
// Done is closed or under the session lock.
func (q *Queue) lookup(requestID string) *Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index[requestID]
}

// Expire resolves pending actions older than maxAge as denied and forgets
// resolved actions older than maxAge. It returns the actions it expired.
func (q *Queue) Expire(maxAge time.Duration) []Action {
	cutoff := q.now().Add(-maxAge)

	q.mu.Lock()
	var stale []string
	for id, a := range q.index {
		if a.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	q.mu.Unlock()

	var expired []Action
	for _, id := range stale {
		a, ok := q.resolve(id, Resolution{Approved: false, Reason: "expired"})
		if ok {
			expired = append(expired, a.snapshot())
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for id, a := range q.index {
		select {
		case <-a.done:
		default:
			continue
		}
		if a.ResolvedAt.Before(cutoff) {
			delete(q.index, id)
		}
	}
	// TryLock keeps the session-then-index lock order intact.
	for id, sq := range q.sessions {
		if sq.mu.TryLock() {
			if len(sq.items) == 0 {
				delete(q.sessions, id)
			}
			sq.mu.Unlock()
		}
	}
	return expired
}

// Len returns the number of tracked actions, pending or resolved.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

func (a *Action) snapshot() Action {
	c := *a
	if a.Resolution != nil {
		r := *a.Resolution
		c.Resolution = &r
	}
	return c
}
