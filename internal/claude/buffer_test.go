// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestReconnectBuffer_Basic(t *testing.T) {
	buf := NewReconnectBuffer(10)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 10, buf.Cap())

	for i := 0; i < 5; i++ {
		buf.Add(Event{Kind: EventTextDelta, Text: "x"})
	}
	assert.Equal(t, 5, buf.Len())

	all := buf.Since(time.Time{})
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Seq, all[i-1].Seq)
		assert.True(t, all[i].Timestamp.After(all[i-1].Timestamp))
		assert.Equal(t, all[i].Seq, all[i].Payload.Seq)
	}
}

func TestReconnectBuffer_DefaultCapacity(t *testing.T) {
	buf := NewReconnectBuffer(0)
	assert.Equal(t, defaultBufferCapacity, buf.Cap())
}

func TestReconnectBuffer_NeverExceedsCapacity(t *testing.T) {
	buf := NewReconnectBuffer(5)
	for i := 0; i < 23; i++ {
		buf.Add(Event{Kind: EventTextDelta, Text: string(rune('a' + i))})
		assert.LessOrEqual(t, buf.Len(), 5)
	}

	all := buf.Since(time.Time{})
	require.Len(t, all, 5)
	// Oldest entries were evicted first.
	assert.Equal(t, uint64(19), all[0].Seq)
	assert.Equal(t, uint64(23), all[4].Seq)
	assert.Equal(t, "s", all[0].Payload.Text)
}

func TestReconnectBuffer_SinceReturnsExactSuffix(t *testing.T) {
	buf := NewReconnectBuffer(100)
	buf.now = stepClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var stamped []BufferedEvent
	for i := 0; i < 20; i++ {
		stamped = append(stamped, buf.Add(Event{Kind: EventTextDelta}))
	}

	// Reconnect with the timestamp of the 10th event.
	got := buf.Since(stamped[9].Timestamp)
	require.Len(t, got, 10)
	assert.Equal(t, stamped[10].Seq, got[0].Seq)
	assert.Equal(t, stamped[19].Seq, got[9].Seq)
	for _, e := range got {
		assert.True(t, e.Timestamp.After(stamped[9].Timestamp))
	}

	for i := range stamped {
		suffix := buf.Since(stamped[i].Timestamp)
		assert.Len(t, suffix, len(stamped)-i-1, "since event %d", i)
	}

	assert.Empty(t, buf.Since(stamped[19].Timestamp))
	assert.Len(t, buf.Since(stamped[0].Timestamp.Add(-time.Hour)), 20)
}

func TestReconnectBuffer_TimestampTiesAreBumped(t *testing.T) {
	buf := NewReconnectBuffer(10)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf.now = func() time.Time { return fixed }

	a := buf.Add(Event{Kind: EventTextDelta})
	b := buf.Add(Event{Kind: EventTextDelta})
	c := buf.Add(Event{Kind: EventTextDelta})

	assert.True(t, b.Timestamp.After(a.Timestamp))
	assert.True(t, c.Timestamp.After(b.Timestamp))

	got := buf.Since(a.Timestamp)
	require.Len(t, got, 2)
	assert.Equal(t, b.Seq, got[0].Seq)
}

func TestReconnectBuffer_After(t *testing.T) {
	buf := NewReconnectBuffer(10)
	for i := 0; i < 6; i++ {
		buf.Add(Event{Kind: EventTextDelta})
	}
	got := buf.After(4)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(5), got[0].Seq)
	assert.Equal(t, uint64(6), buf.LastSeq())
}

func TestReconnectBuffer_OldestNewestClear(t *testing.T) {
	buf := NewReconnectBuffer(3)
	assert.True(t, buf.Oldest().IsZero())
	assert.True(t, buf.Newest().IsZero())

	buf.now = stepClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var stamped []BufferedEvent
	for i := 0; i < 4; i++ {
		stamped = append(stamped, buf.Add(Event{Kind: EventTextDelta}))
	}
	assert.Equal(t, stamped[1].Timestamp, buf.Oldest())
	assert.Equal(t, stamped[3].Timestamp, buf.Newest())

	buf.Clear()
	assert.Equal(t, 0, buf.Len())
	next := buf.Add(Event{Kind: EventTextDelta})
	assert.Equal(t, uint64(5), next.Seq)
}

func TestReconnectBuffer_SharedCounter(t *testing.T) {
	var seq atomic.Uint64
	first := newReconnectBuffer(4, &seq)
	first.Add(Event{Kind: EventTextDelta})
	first.Add(Event{Kind: EventTextDelta})

	second := newReconnectBuffer(4, &seq)
	b := second.Add(Event{Kind: EventUserMessage})
	assert.Equal(t, uint64(3), b.Seq)
	assert.Equal(t, uint64(3), b.Payload.Seq)
	assert.Equal(t, uint64(3), first.LastSeq())
	assert.Empty(t, second.After(3))
}
