// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferCapacity = 1000

// BufferedEvent is one replayable entry in a ReconnectBuffer.
type BufferedEvent struct {
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	Payload   Event     `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// ReconnectBuffer is a thread-safe ring buffer of recent session events used
// to catch up reconnecting clients. Timestamps are strictly increasing, so a
// client that remembers the last timestamp it saw can resume without gaps or
// duplicates as long as the range has not been evicted.
type ReconnectBuffer struct {
	mu       sync.RWMutex
	entries  []BufferedEvent
	head     int // Next write position
	size     int
	capacity int
	seq      *atomic.Uint64 // may be shared with later buffers of the session
	last     time.Time
	now      func() time.Time
}

// NewReconnectBuffer creates a buffer holding at most capacity events.
func NewReconnectBuffer(capacity int) *ReconnectBuffer {
	return newReconnectBuffer(capacity, new(atomic.Uint64))
}

// newReconnectBuffer numbers events from seq. A session passes the same
// counter to the buffer of every process it spawns, so sequence numbers
// keep increasing across respawns.
func newReconnectBuffer(capacity int, seq *atomic.Uint64) *ReconnectBuffer {
	if capacity <= 0 {
		capacity = defaultBufferCapacity
	}
	return &ReconnectBuffer{
		entries:  make([]BufferedEvent, capacity),
		capacity: capacity,
		seq:      seq,
		now:      time.Now,
	}
}

// Add appends an event, evicting the oldest entry when full. The event's Seq
// and Timestamp are stamped by the buffer and the stamped copy is returned.
func (b *ReconnectBuffer) Add(ev Event) BufferedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.now()
	if !ts.After(b.last) {
		ts = b.last.Add(time.Nanosecond)
	}
	b.last = ts
	seq := b.seq.Add(1)

	ev.Seq = seq
	ev.Timestamp = ts
	entry := BufferedEvent{
		Seq:       seq,
		Kind:      ev.Kind,
		Payload:   ev,
		Timestamp: ts,
	}

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
	return entry
}

// start returns the index of the oldest entry. Must be called with b.mu held.
func (b *ReconnectBuffer) start() int {
	start := b.head - b.size
	if start < 0 {
		start += b.capacity
	}
	return start
}

// Since returns buffered events with a timestamp strictly after t, oldest
// first. A zero t returns everything buffered.
func (b *ReconnectBuffer) Since(t time.Time) []BufferedEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]BufferedEvent, 0)
	start := b.start()
	for i := 0; i < b.size; i++ {
		entry := b.entries[(start+i)%b.capacity]
		if t.IsZero() || entry.Timestamp.After(t) {
			result = append(result, entry)
		}
	}
	return result
}

// After returns buffered events with a sequence number greater than seq.
func (b *ReconnectBuffer) After(seq uint64) []BufferedEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]BufferedEvent, 0)
	start := b.start()
	for i := 0; i < b.size; i++ {
		entry := b.entries[(start+i)%b.capacity]
		if entry.Seq > seq {
			result = append(result, entry)
		}
	}
	return result
}

// Len returns the number of buffered events.
func (b *ReconnectBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the configured capacity.
func (b *ReconnectBuffer) Cap() int {
	return b.capacity
}

// LastSeq returns the last sequence number issued by the buffer's counter.
func (b *ReconnectBuffer) LastSeq() uint64 {
	return b.seq.Load()
}

// Oldest returns the timestamp of the oldest buffered event.
func (b *ReconnectBuffer) Oldest() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return time.Time{}
	}
	return b.entries[b.start()].Timestamp
}

// Newest returns the timestamp of the newest buffered event.
func (b *ReconnectBuffer) Newest() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return time.Time{}
	}
	idx := b.head - 1
	if idx < 0 {
		idx = b.capacity - 1
	}
	return b.entries[idx].Timestamp
}

// Clear drops all buffered events. Sequence numbers keep increasing.
func (b *ReconnectBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}
