// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Session is the persisted record of one logical agent session.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	WorkDir        string    `json:"work_dir"`
	AgentSessionID string    `json:"agent_session_id,omitempty"`
	Model          string    `json:"model,omitempty"`
	Mode           string    `json:"mode"`
	Status         Status    `json:"status"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is one persisted chat turn.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        string         `json:"role"`
	Content     []ContentBlock `json:"content"`
	Interrupted bool           `json:"interrupted,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Store persists session records and their message history.
type Store interface {
	SaveSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]Session, error)
	AppendMessage(ctx context.Context, m Message) error
	Messages(ctx context.Context, sessionID string) ([]Message, error)
}

// MemoryStore is a Store that keeps everything in memory. It is used when no
// store directory is configured.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	messages map[string][]Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		messages: make(map[string][]Message),
	}
}

func (m *MemoryStore) SaveSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *MemoryStore) Messages(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages[sessionID]...), nil
}
