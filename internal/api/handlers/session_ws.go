// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/claude"
)

// clientMessage is a frame sent by the browser.
type clientMessage struct {
	Type        string              `json:"type"` // message, interrupt, permission_response
	Text        string              `json:"text,omitempty"`
	Attachments []claude.Attachment `json:"attachments,omitempty"`
	RequestID   string              `json:"request_id,omitempty"`
	Resolution  approval.Resolution `json:"resolution"`
}

// serverMessage is a frame sent to the browser.
type serverMessage struct {
	Type    string                 `json:"type"` // replay, event, error
	State   *claude.ReconnectState `json:"state,omitempty"`
	Event   *claude.Event          `json:"event,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// connTracker counts open session websockets so a session is only marked
// disconnected when its last client goes away.
type connTracker struct {
	mu    sync.Mutex
	conns map[string]int
}

func (c *connTracker) add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conns == nil {
		c.conns = make(map[string]int)
	}
	c.conns[id]++
}

// remove returns true when id has no clients left.
func (c *connTracker) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id]--
	if c.conns[id] <= 0 {
		delete(c.conns, id)
		return true
	}
	return false
}

// WebSocket replays what the client missed since the since query parameter,
// then streams live session events and accepts chat frames.
func (h *SessionHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(msg serverMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}

	// Subscribe before replaying so nothing falls between the two.
	subCh, err := h.sup.Subscribe(id)
	if err != nil {
		writeJSON(serverMessage{Type: "error", Message: err.Error()})
		return
	}
	defer h.sup.Unsubscribe(id, subCh)

	h.conns.add(id)
	defer func() {
		if h.conns.remove(id) {
			h.sup.MarkDisconnected(id)
		}
	}()

	state, err := h.sup.Reconnect(id, since)
	if err != nil {
		writeJSON(serverMessage{Type: "error", Message: err.Error()})
		return
	}
	var replayed uint64
	for _, ev := range state.Events {
		replayed = max(replayed, ev.Seq)
	}
	if err := writeJSON(serverMessage{Type: "replay", State: &state}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		for ev := range subCh {
			if ev.Seq != 0 && ev.Seq <= replayed {
				continue
			}
			if err := writeJSON(serverMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
		}
		// Channel closed: the session was deleted.
		writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session deleted"),
			time.Now().Add(writeWait))
		writeMu.Unlock()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	readCh := make(chan clientMessage, 10)
	wsClosed := make(chan struct{})
	go func() {
		defer close(wsClosed)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			select {
			case readCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg := <-readCh:
			if err := h.handleClientMessage(ctx, id, msg); err != nil {
				slog.Debug("api: session frame failed", "session", id, "type", msg.Type, "error", err)
				writeJSON(serverMessage{Type: "error", Message: err.Error()})
			}

		case <-pingTicker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}

		case <-wsClosed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *SessionHandler) handleClientMessage(ctx context.Context, id string, msg clientMessage) error {
	switch msg.Type {
	case "message":
		return h.sup.Send(ctx, id, msg.Text, msg.Attachments)
	case "interrupt":
		return h.sup.Interrupt(ctx, id)
	case "permission_response":
		action, ok := h.gw.Get(msg.RequestID)
		if !ok || action.SessionID != id {
			return approval.ErrUnknownRequest
		}
		return h.gw.Respond(ctx, msg.RequestID, msg.Resolution)
	default:
		slog.Debug("api: unknown session frame", "session", id, "type", msg.Type)
		return nil
	}
}
