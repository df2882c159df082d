// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/warden/internal/auth"
	"github.com/wingedpig/warden/internal/events"
)

func publishTestEvents(t *testing.T, bus events.EventBus) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range []events.Event{
		{Type: events.EventSessionCreated, Session: "s1", User: "alice"},
		{Type: events.EventSessionCreated, Session: "s2", User: "bob"},
		{Type: events.EventApprovalSubmitted, Session: "s1", User: "alice"},
		{Type: events.EventConfigReloaded},
	} {
		require.NoError(t, bus.Publish(ctx, ev))
	}
}

func TestEventHandler_History(t *testing.T) {
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 100})
	defer bus.Close()
	publishTestEvents(t, bus)
	h := NewEventHandler(bus)

	rec := httptest.NewRecorder()
	h.History(rec, newRequest("GET", "/api/v1/events", "alice", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []events.Event
	decodeData(t, rec, &list)
	require.Len(t, list, 3)
	for _, ev := range list {
		assert.NotEqual(t, "bob", ev.User)
	}

	rec = httptest.NewRecorder()
	h.History(rec, newRequest("GET", "/api/v1/events?type=session.*&limit=1", "alice", nil, nil))
	decodeData(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].Session)

	rec = httptest.NewRecorder()
	h.History(rec, newRequest("GET", "/api/v1/events?session=s2", "alice", nil, nil))
	decodeData(t, rec, &list)
	assert.Empty(t, list)
}

func TestEventHandler_WebSocket(t *testing.T) {
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 100})
	defer bus.Close()
	h := NewEventHandler(bus)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.WebSocket(w, r.WithContext(auth.WithUser(r.Context(), "alice")))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?pattern=session.*", nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	publishTestEvents(t, bus)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.EventSessionCreated, ev.Type)
	assert.Equal(t, "alice", ev.User)

	// bob's event and the non-session events are filtered; nothing else arrives.
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	assert.Error(t, conn.ReadJSON(&ev))
}

func TestEventHandler_HistoryAfter(t *testing.T) {
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 100})
	defer bus.Close()
	publishTestEvents(t, bus)
	h := NewEventHandler(bus)

	rec := httptest.NewRecorder()
	h.History(rec, newRequest("GET", "/api/v1/events", "alice", nil, nil))
	var all []events.Event
	decodeData(t, rec, &all)
	require.NotEmpty(t, all)

	rec = httptest.NewRecorder()
	h.History(rec, newRequest("GET", fmt.Sprintf("/api/v1/events?after=%d", all[0].Seq), "alice", nil, nil))
	var rest []events.Event
	decodeData(t, rec, &rest)
	assert.Equal(t, all[1:], rest)
}

func TestEventHandler_WebSocketBadPattern(t *testing.T) {
	h := NewEventHandler(events.NewMemoryEventBus(events.MemoryBusConfig{}))

	rec := httptest.NewRecorder()
	h.WebSocket(rec, newRequest("GET", "/api/v1/events/ws?pattern=sess*", "alice", nil, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
