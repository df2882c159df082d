// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/events"
)

// Status is the lifecycle state of a session's process.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

// Permission modes passed to the agent.
const (
	ModeDefault     = "default"
	ModeAcceptEdits = "acceptEdits"
	ModeBypass      = "bypassPermissions"
	ModePlan        = "plan"
)

// ValidMode reports whether mode is accepted by the agent.
func ValidMode(mode string) bool {
	switch mode {
	case ModeDefault, ModeAcceptEdits, ModeBypass, ModePlan:
		return true
	}
	return false
}

// Environment passed to every agent process so satellite helpers can call
// back into the server.
const (
	EnvURL         = "WARDEN_URL"
	EnvSessionID   = "WARDEN_SESSION_ID"
	EnvHelperToken = "WARDEN_HELPER_TOKEN"
)

const (
	DefaultMaxIdle       = 30 * time.Minute
	DefaultSweepInterval = time.Minute

	subscriberBuffer = 256
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrForbidden       = errors.New("session belongs to another user")
	ErrNotRunning      = errors.New("session process not running")
	ErrInvalidMode     = errors.New("invalid permission mode")
	ErrEmptyMessage    = errors.New("empty message")
)

// Approvals is the part of the approval gateway the supervisor files agent
// permission prompts into.
type Approvals interface {
	Submit(ctx context.Context, req approval.Request) (string, error)
	Await(ctx context.Context, requestID string, timeout time.Duration) (approval.Resolution, error)
	Respond(ctx context.Context, requestID string, res approval.Resolution) error
	Head(sessionID string) *approval.Action
}

// Recorder receives process and usage metrics.
type Recorder interface {
	ProcessStarted(ctx context.Context)
	ProcessExited(ctx context.Context, status string)
	TurnEnded(ctx context.Context, model string, delta UsageSnapshot)
}

// Config configures a Supervisor. Zero values select defaults.
type Config struct {
	// Command is the agent binary followed by any fixed leading arguments.
	Command []string
	// BaseURL is exported to agents as WARDEN_URL.
	BaseURL       string
	Env           []string
	BufferSize    int
	StopGrace     time.Duration
	MaxIdle       time.Duration
	SweepInterval time.Duration
}

// Attachment is an image sent along with a user message.
type Attachment struct {
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// ReconnectState is what a reconnecting client needs to catch up.
type ReconnectState struct {
	Events        []BufferedEvent  `json:"bufferedEvents"`
	IsRunning     bool             `json:"isRunning"`
	Status        Status           `json:"status"`
	Thinking      bool             `json:"thinking"`
	AgentType     string           `json:"agentType,omitempty"`
	Usage         *UsageSnapshot   `json:"usage,omitempty"`
	PendingAction *approval.Action `json:"pendingAction,omitempty"`
}

// entry is the registry slot for one session.
type entry struct {
	id string

	// startMu serializes process start and stop per session.
	startMu sync.Mutex
	// sendMu keeps user messages in order on stdin.
	sendMu sync.Mutex

	mu      sync.Mutex
	session Session
	proc    *processHandle
	gen     uint64
	subs    map[chan Event]struct{}
	deleted bool

	// seq numbers buffered events across every process of the session.
	seq atomic.Uint64
}

// processHandle is the live state of one process lifetime.
type processHandle struct {
	gen         uint64
	proc        atomic.Pointer[agentProcess]
	ready       chan struct{}
	usage       *UsageAccumulator
	buffer      *ReconnectBuffer
	helperToken string
	startedAt   time.Time
	resumed     bool
	exited      chan struct{}

	// mu serializes parsing and emission so buffer order matches fan-out.
	mu        sync.Mutex
	parser    *Parser
	announced bool
	reported  UsageSnapshot

	// Guarded by entry.mu.
	lastActivity   time.Time
	disconnectedAt time.Time
	reminderSent   bool
	stopping       bool
	requests       map[string]struct{}
}

// stdinUserMessage is the JSON format for sending user messages to the
// agent's stdin.
type stdinUserMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Message   stdinMessageInner `json:"message"`
}

type stdinMessageInner struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type stdinControlRequest struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id"`
	Request   map[string]interface{} `json:"request"`
}

type stdinControlResponse struct {
	Type     string              `json:"type"`
	Response controlResponseBody `json:"response"`
}

type controlResponseBody struct {
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id"`
	Response  permissionReply `json:"response"`
}

type permissionReply struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// Supervisor owns one agent process per logical session.
type Supervisor struct {
	cfg       Config
	store     Store
	approvals Approvals
	bus       events.EventBus
	recorder  Recorder

	mu       sync.Mutex
	sessions map[string]*entry

	maxIdle atomic.Int64
	now     func() time.Time
}

// Deps are the collaborators of a Supervisor. Store defaults to a
// MemoryStore; the others are optional.
type Deps struct {
	Store     Store
	Approvals Approvals
	Bus       events.EventBus
	Recorder  Recorder
}

// NewSupervisor returns a supervisor with no sessions loaded.
func NewSupervisor(cfg Config, deps Deps) *Supervisor {
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"claude"}
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = DefaultMaxIdle
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if deps.Store == nil {
		deps.Store = NewMemoryStore()
	}
	s := &Supervisor{
		cfg:       cfg,
		store:     deps.Store,
		approvals: deps.Approvals,
		bus:       deps.Bus,
		recorder:  deps.Recorder,
		sessions:  make(map[string]*entry),
		now:       time.Now,
	}
	s.maxIdle.Store(int64(cfg.MaxIdle))
	return s
}

// Load restores session records from the store. No process is started; any
// record left running by a previous server is marked stopped.
func (s *Supervisor) Load(ctx context.Context) error {
	records, err := s.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.Status == StatusRunning {
			rec.Status = StatusStopped
		}
		s.sessions[rec.ID] = &entry{id: rec.ID, session: rec, subs: make(map[chan Event]struct{})}
	}
	slog.Info("claude: sessions loaded", "count", len(records))
	return nil
}

// SetMaxIdle changes how long a disconnected process may live.
func (s *Supervisor) SetMaxIdle(d time.Duration) {
	if d > 0 {
		s.maxIdle.Store(int64(d))
	}
}

// CreateSession registers a new stopped session owned by userID.
func (s *Supervisor) CreateSession(ctx context.Context, userID, workDir, model, mode string) (Session, error) {
	if mode == "" {
		mode = ModeDefault
	}
	if !ValidMode(mode) {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	now := s.now()
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		WorkDir:   workDir,
		Model:     model,
		Mode:      mode,
		Status:    StatusStopped,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &entry{id: sess.ID, session: sess, subs: make(map[chan Event]struct{})}
	s.mu.Unlock()

	slog.Info("claude: session created", "session", sess.ID, "user", userID, "workdir", workDir)
	s.publish(ctx, events.EventSessionCreated, sess, nil)
	return sess, nil
}

func (s *Supervisor) lookup(id string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Session returns the session record.
func (s *Supervisor) Session(id string) (Session, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// Owner returns the owning user of a session, or "" if unknown.
func (s *Supervisor) Owner(id string) string {
	sess, err := s.Session(id)
	if err != nil {
		return ""
	}
	return sess.UserID
}

// ListSessions returns userID's sessions, oldest first. An empty userID
// lists every session.
func (s *Supervisor) ListSessions(userID string) []Session {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	var out []Session
	for _, e := range entries {
		e.mu.Lock()
		sess := e.session
		e.mu.Unlock()
		if userID == "" || sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Authorize checks that userID owns the session.
func (s *Supervisor) Authorize(sessionID, userID string) error {
	sess, err := s.Session(sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrForbidden
	}
	return nil
}

// AuthorizeHelper checks a satellite helper's token against the session's
// running process.
func (s *Supervisor) AuthorizeHelper(sessionID, token string) error {
	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil {
		return ErrNotRunning
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(e.proc.helperToken)) != 1 {
		return ErrForbidden
	}
	return nil
}

// HelperToken returns the token of the running process.
func (s *Supervisor) HelperToken(sessionID string) (string, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil {
		return "", ErrNotRunning
	}
	return e.proc.helperToken, nil
}

// DeleteSession stops the process, forgets the session and its history.
func (s *Supervisor) DeleteSession(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.startMu.Lock()
	defer e.startMu.Unlock()
	s.stopLocked(ctx, e)

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	e.mu.Lock()
	e.deleted = true
	sess := e.session
	for ch := range e.subs {
		close(ch)
	}
	e.subs = make(map[chan Event]struct{})
	e.mu.Unlock()

	if err := s.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	slog.Info("claude: session deleted", "session", id)
	s.publish(ctx, events.EventSessionDeleted, sess, nil)
	return nil
}

// Start spawns the session's process. It is a no-op if one is running.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.startMu.Lock()
	defer e.startMu.Unlock()
	return s.startLocked(ctx, e)
}

func (s *Supervisor) startLocked(ctx context.Context, e *entry) error {
	e.mu.Lock()
	if e.proc != nil {
		e.mu.Unlock()
		return nil
	}
	if e.deleted {
		e.mu.Unlock()
		return ErrSessionNotFound
	}
	e.gen++
	sess := e.session
	now := s.now()
	h := &processHandle{
		gen:          e.gen,
		usage:        NewUsageAccumulator(),
		buffer:       newReconnectBuffer(s.cfg.BufferSize, &e.seq),
		helperToken:  uuid.NewString(),
		startedAt:    now,
		resumed:      sess.AgentSessionID != "",
		exited:       make(chan struct{}),
		ready:        make(chan struct{}),
		lastActivity: now,
		requests:     make(map[string]struct{}),
	}
	h.parser = NewParser(sess.ID, h.usage)
	if len(e.subs) == 0 {
		// Started over REST with nobody watching; idle time counts from now.
		h.disconnectedAt = now
	}
	// Installed before spawning so the pumps and the exit path see it.
	e.proc = h
	e.mu.Unlock()

	spec := processSpec{
		Command: s.cfg.Command,
		Args:    buildArgs(sess),
		Dir:     sess.WorkDir,
		Env: append(append([]string(nil), s.cfg.Env...),
			EnvURL+"="+s.cfg.BaseURL,
			EnvSessionID+"="+sess.ID,
			EnvHelperToken+"="+h.helperToken,
		),
	}
	proc, err := startProcess(spec,
		func(r io.Reader) {
			<-h.ready
			s.pumpStdout(e, h, r)
		},
		func(r io.Reader) { s.pumpStderr(e, r) },
	)
	if err != nil {
		slog.Error("claude: spawn failed", "session", sess.ID, "error", err)
		close(h.exited)
		s.finish(ctx, e, h, StatusError, err)
		return fmt.Errorf("start session %s: %w", sess.ID, err)
	}
	h.proc.Store(proc)
	close(h.ready)

	e.mu.Lock()
	e.session.Status = StatusRunning
	e.session.LastError = ""
	e.session.UpdatedAt = s.now()
	sess = e.session
	e.mu.Unlock()

	go s.waitExit(e, h)

	s.saveSession(ctx, sess)
	slog.Info("claude: process started", "session", sess.ID, "pid", proc.pid, "resume", sess.AgentSessionID)
	if s.recorder != nil {
		s.recorder.ProcessStarted(ctx)
	}
	s.emitStatus(e, h, StatusRunning, "")
	s.publish(ctx, events.EventSessionStarted, sess, map[string]interface{}{"pid": proc.pid})
	return nil
}

func (s *Supervisor) pumpStdout(e *entry, h *processHandle, r io.Reader) {
	br := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 32*1024)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			h.mu.Lock()
			for _, ev := range h.parser.Feed(buf[:n]) {
				s.emitLocked(e, h, ev)
			}
			h.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("claude: stdout read error", "session", e.id, "error", err)
			}
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range h.parser.Flush() {
		s.emitLocked(e, h, ev)
	}
	// Close out a turn the agent never finished.
	if h.parser.State() != StateIdle || h.parser.Thinking() {
		for _, ev := range h.parser.Interrupt() {
			s.emitLocked(e, h, ev)
		}
	}
}

func (s *Supervisor) pumpStderr(e *entry, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			slog.Debug("claude: stderr", "session", e.id, "line", line)
		}
	}
}

func (s *Supervisor) waitExit(e *entry, h *processHandle) {
	proc := h.proc.Load()
	<-proc.Done()
	err := proc.ExitErr()

	e.mu.Lock()
	stopping := h.stopping
	e.mu.Unlock()

	status := StatusStopped
	if err != nil && !stopping {
		status = StatusError
		slog.Warn("claude: process exited", "session", e.id, "pid", proc.pid, "error", err)
	} else {
		slog.Info("claude: process exited", "session", e.id, "pid", proc.pid)
		err = nil
	}
	s.finish(context.Background(), e, h, status, err)
	close(h.exited)
}

// finish is the single cleanup path for spawn failure and process exit. It
// does nothing if h is no longer the session's current handle.
func (s *Supervisor) finish(ctx context.Context, e *entry, h *processHandle, status Status, cause error) {
	e.mu.Lock()
	if e.gen != h.gen || e.proc != h {
		e.mu.Unlock()
		return
	}
	e.proc = nil
	e.session.Status = status
	e.session.LastError = ""
	if cause != nil {
		e.session.LastError = cause.Error()
	}
	e.session.UpdatedAt = s.now()
	sess := e.session
	deleted := e.deleted
	requests := make([]string, 0, len(h.requests))
	for id := range h.requests {
		requests = append(requests, id)
	}
	e.mu.Unlock()

	// Nobody is left to act on prompts from the dead process.
	if s.approvals != nil {
		for _, id := range requests {
			s.approvals.Respond(ctx, id, approval.Resolution{Approved: false, Reason: "agent process exited"})
		}
	}

	if s.recorder != nil && h.proc.Load() != nil {
		s.recorder.ProcessExited(ctx, string(status))
	}
	if deleted {
		return
	}
	s.saveSession(ctx, sess)
	s.emitStatus(e, nil, status, sess.LastError)

	typ := events.EventSessionStopped
	if status == StatusError {
		typ = events.EventSessionError
	}
	payload := map[string]interface{}{}
	if sess.LastError != "" {
		payload["error"] = sess.LastError
	}
	s.publish(ctx, typ, sess, payload)
}

// Send delivers a user turn, starting the process if needed.
func (s *Supervisor) Send(ctx context.Context, id, text string, attachments []Attachment) error {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.startMu.Lock()
	err = s.startLocked(ctx, e)
	e.startMu.Unlock()
	if err != nil {
		return err
	}

	// The write below may block on a full pipe. It holds only sendMu, so
	// Stop and Restart can still close the process underneath it.
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	h := e.proc
	if h == nil || h.proc.Load() == nil || h.stopping {
		e.mu.Unlock()
		return ErrNotRunning
	}
	// sendMu makes this check and the update after the write atomic.
	reminder := h.resumed && !h.reminderSent
	h.lastActivity = s.now()
	agentSID := e.session.AgentSessionID
	workDir := e.session.WorkDir
	e.mu.Unlock()

	blocks := userBlocks(text, attachments)
	s.appendMessage(ctx, Message{
		ID:        uuid.NewString(),
		SessionID: id,
		Role:      "user",
		Content:   blocks,
		Timestamp: s.now(),
	})
	h.mu.Lock()
	s.emitLocked(e, h, Event{Kind: EventUserMessage, Text: text})
	h.mu.Unlock()

	wire := blocks
	if reminder {
		wire = append([]ContentBlock{{Type: string(BlockText), Text: workDirReminder(workDir)}}, blocks...)
	}
	err = h.proc.Load().writeJSON(stdinUserMessage{
		Type:      "user",
		SessionID: agentSID,
		Message:   stdinMessageInner{Role: "user", Content: wire},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if reminder {
		e.mu.Lock()
		h.reminderSent = true
		e.mu.Unlock()
	}
	return nil
}

func userBlocks(text string, attachments []Attachment) []ContentBlock {
	var blocks []ContentBlock
	for _, a := range attachments {
		blocks = append(blocks, ContentBlock{
			Type: "image",
			Source: &ImageSource{
				Type:      "base64",
				MediaType: a.MediaType,
				Data:      base64.StdEncoding.EncodeToString(a.Data),
			},
		})
	}
	if text != "" {
		blocks = append(blocks, ContentBlock{Type: string(BlockText), Text: text})
	}
	return blocks
}

func workDirReminder(workDir string) string {
	return "<system-reminder>\nThis conversation was resumed in a new process. The working directory is " +
		workDir + ".\n</system-reminder>"
}

// Interrupt ends the current turn: pending text is finalized as interrupted
// and the agent is asked to stop generating.
func (s *Supervisor) Interrupt(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	h := e.proc
	if h != nil {
		h.lastActivity = s.now()
	}
	e.mu.Unlock()
	if h == nil || h.proc.Load() == nil {
		return ErrNotRunning
	}

	h.mu.Lock()
	for _, ev := range h.parser.Interrupt() {
		s.emitLocked(e, h, ev)
	}
	h.mu.Unlock()

	err = h.proc.Load().writeJSON(stdinControlRequest{
		Type:      "control_request",
		RequestID: uuid.NewString(),
		Request:   map[string]interface{}{"subtype": "interrupt"},
	})
	if err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	slog.Info("claude: interrupted", "session", id)
	return nil
}

// Stop ends the session's process: stdin is closed, then the process group
// is killed after the grace period.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.startMu.Lock()
	defer e.startMu.Unlock()
	s.stopLocked(ctx, e)
	return nil
}

func (s *Supervisor) stopLocked(ctx context.Context, e *entry) {
	e.mu.Lock()
	h := e.proc
	if h == nil || h.proc.Load() == nil {
		e.mu.Unlock()
		return
	}
	h.stopping = true
	e.mu.Unlock()

	h.proc.Load().stop(ctx, s.cfg.StopGrace)
	<-h.exited
}

// Restart stops the process and forgets the agent's conversation, then
// starts a fresh one.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.startMu.Lock()
	defer e.startMu.Unlock()
	s.stopLocked(ctx, e)

	e.mu.Lock()
	e.session.AgentSessionID = ""
	e.session.UpdatedAt = s.now()
	sess := e.session
	e.mu.Unlock()
	s.saveSession(ctx, sess)

	return s.startLocked(ctx, e)
}

// MarkDisconnected records that the last client went away. The idle sweep
// stops processes that stay disconnected for too long.
func (s *Supervisor) MarkDisconnected(id string) {
	e, err := s.lookup(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc != nil && e.proc.disconnectedAt.IsZero() {
		e.proc.disconnectedAt = s.now()
	}
}

// MarkReconnected clears the disconnect mark.
func (s *Supervisor) MarkReconnected(id string) {
	e, err := s.lookup(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc != nil {
		e.proc.disconnectedAt = time.Time{}
		e.proc.lastActivity = s.now()
	}
}

// BufferSince returns buffered events newer than since.
func (s *Supervisor) BufferSince(id string, since time.Time) ([]BufferedEvent, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	h := e.proc
	e.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return h.buffer.Since(since), nil
}

// Reconnect marks the session connected and returns what a client missed
// since the given timestamp.
func (s *Supervisor) Reconnect(id string, since time.Time) (ReconnectState, error) {
	e, err := s.lookup(id)
	if err != nil {
		return ReconnectState{}, err
	}
	s.MarkReconnected(id)

	e.mu.Lock()
	h := e.proc
	state := ReconnectState{Status: e.session.Status}
	e.mu.Unlock()

	if h != nil {
		state.IsRunning = true
		state.Events = h.buffer.Since(since)
		snap := h.usage.Snapshot()
		state.Usage = &snap
		h.mu.Lock()
		state.Thinking = h.parser.Thinking()
		state.AgentType = h.parser.AgentType()
		h.mu.Unlock()
	}
	if state.Events == nil {
		state.Events = []BufferedEvent{}
	}
	if s.approvals != nil {
		state.PendingAction = s.approvals.Head(id)
	}
	return state, nil
}

// Usage returns the current process's usage, if one is running.
func (s *Supervisor) Usage(id string) (UsageSnapshot, bool) {
	e, err := s.lookup(id)
	if err != nil {
		return UsageSnapshot{}, false
	}
	e.mu.Lock()
	h := e.proc
	e.mu.Unlock()
	if h == nil {
		return UsageSnapshot{}, false
	}
	return h.usage.Snapshot(), true
}

// Messages returns the persisted history of a session.
func (s *Supervisor) Messages(ctx context.Context, id string) ([]Message, error) {
	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	return s.store.Messages(ctx, id)
}

// Subscribe returns a channel of live events for the session. Events are
// dropped for subscribers that fall behind.
func (s *Supervisor) Subscribe(id string) (chan Event, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, ErrSessionNotFound
	}
	ch := make(chan Event, subscriberBuffer)
	e.subs[ch] = struct{}{}
	return ch, nil
}

// Unsubscribe removes and closes ch. Safe to call more than once.
func (s *Supervisor) Unsubscribe(id string, ch chan Event) {
	e, err := s.lookup(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[ch]; ok {
		delete(e.subs, ch)
		close(ch)
	}
}

// NotifyApproval is a queue head hook: it tells the session's clients which
// approval, if any, is now active.
func (s *Supervisor) NotifyApproval(sessionID string, head *approval.Action) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(head)
	if err != nil {
		slog.Warn("claude: marshal approval", "session", sessionID, "error", err)
		return
	}
	e.mu.Lock()
	h := e.proc
	e.mu.Unlock()

	ev := Event{Kind: EventApproval, Approval: payload}
	if h == nil {
		s.emitLocked(e, nil, ev)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s.emitLocked(e, h, ev)
}

func (s *Supervisor) emitStatus(e *entry, h *processHandle, status Status, msg string) {
	ev := Event{Kind: EventStatus, Status: status, Text: msg}
	if h == nil {
		s.emitLocked(e, nil, ev)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s.emitLocked(e, h, ev)
}

// emitLocked buffers and fans out one event and applies its side effects.
// h.mu must be held when h is non-nil.
func (s *Supervisor) emitLocked(e *entry, h *processHandle, ev Event) {
	ev.SessionID = e.id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	if h != nil {
		b := h.buffer.Add(ev)
		ev = b.Payload
		s.apply(e, h, ev)
	}

	e.mu.Lock()
	if h != nil {
		h.lastActivity = s.now()
	}
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber buffer is full
		}
	}
	e.mu.Unlock()
}

// apply handles the side effects of a parsed event. Called with h.mu held;
// it must not call into the approval gateway synchronously.
func (s *Supervisor) apply(e *entry, h *processHandle, ev Event) {
	ctx := context.Background()
	switch ev.Kind {
	case EventSessionInit:
		if h.announced || ev.AgentSessionID == "" {
			return
		}
		h.announced = true
		e.mu.Lock()
		e.session.AgentSessionID = ev.AgentSessionID
		if ev.Model != "" && e.session.Model == "" {
			e.session.Model = ev.Model
		}
		e.session.UpdatedAt = s.now()
		sess := e.session
		e.mu.Unlock()
		s.saveSession(ctx, sess)
		slog.Info("claude: agent session announced", "session", e.id, "agent_session", ev.AgentSessionID)

	case EventMessageComplete:
		s.appendMessage(ctx, Message{
			ID:          uuid.NewString(),
			SessionID:   e.id,
			Role:        "assistant",
			Content:     []ContentBlock{{Type: string(BlockText), Text: ev.Text}},
			Interrupted: ev.Interrupted,
			Timestamp:   ev.Timestamp,
		})

	case EventToolCompleted:
		s.appendMessage(ctx, Message{
			ID:        uuid.NewString(),
			SessionID: e.id,
			Role:      "assistant",
			Content:   []ContentBlock{{Type: string(BlockToolUse), ID: ev.ToolUseID, Name: ev.ToolName, Input: ev.ToolInput}},
			Timestamp: ev.Timestamp,
		})

	case EventToolResult:
		content, _ := json.Marshal(ev.Text)
		s.appendMessage(ctx, Message{
			ID:        uuid.NewString(),
			SessionID: e.id,
			Role:      "user",
			Content:   []ContentBlock{{Type: "tool_result", ToolUseID: ev.ToolUseID, Content: content, IsError: ev.IsError}},
			Timestamp: ev.Timestamp,
		})

	case EventTurnEnded:
		snap := h.usage.Snapshot()
		delta := usageDelta(snap, h.reported)
		h.reported = snap
		if s.recorder != nil {
			s.recorder.TurnEnded(ctx, snap.Model, delta)
		}
		e.mu.Lock()
		sess := e.session
		e.mu.Unlock()
		s.publish(ctx, events.EventSessionTurnEnded, sess, map[string]interface{}{
			"stop_reason":     ev.StopReason,
			"is_error":        ev.IsError,
			"cost_usd":        snap.CostUSD,
			"turns":           snap.Turns,
			"context_percent": snap.ContextPercent,
		})

	case EventPermissionRequest:
		if s.approvals == nil {
			return
		}
		go s.handlePermission(e, h, ev)
	}
}

func usageDelta(now, prev UsageSnapshot) UsageSnapshot {
	return UsageSnapshot{
		Model:               now.Model,
		InputTokens:         now.InputTokens - prev.InputTokens,
		OutputTokens:        now.OutputTokens - prev.OutputTokens,
		CacheReadTokens:     now.CacheReadTokens - prev.CacheReadTokens,
		CacheCreationTokens: now.CacheCreationTokens - prev.CacheCreationTokens,
		CostUSD:             now.CostUSD - prev.CostUSD,
		Turns:               now.Turns - prev.Turns,
	}
}

// handlePermission files an agent permission prompt with the gateway, waits
// for the decision and answers the agent.
func (s *Supervisor) handlePermission(e *entry, h *processHandle, ev Event) {
	ctx := context.Background()
	id := ev.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	// Registered before submitting so an exiting process can deny it.
	e.mu.Lock()
	if e.proc != h {
		e.mu.Unlock()
		return
	}
	h.requests[id] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(h.requests, id)
		e.mu.Unlock()
	}()

	_, err := s.approvals.Submit(ctx, approval.Request{
		SessionID: e.id,
		RequestID: id,
		Kind:      approval.KindPermission,
		ToolName:  ev.ToolName,
		Payload:   ev.ToolInput,
	})
	if err != nil {
		slog.Warn("claude: permission request rejected", "session", e.id, "request", id, "error", err)
		s.replyPermission(e, h, ev, approval.Resolution{Approved: false, Reason: err.Error()}, "")
		return
	}

	e.mu.Lock()
	gone := e.proc != h
	e.mu.Unlock()
	if gone {
		s.approvals.Respond(ctx, id, approval.Resolution{Approved: false, Reason: "agent process exited"})
		return
	}

	res, err := s.approvals.Await(ctx, id, 0)
	if err != nil {
		res = approval.Resolution{Approved: false, Reason: err.Error()}
	}
	kind := approval.AliasKind(approval.KindPermission, ev.ToolName)
	s.replyPermission(e, h, ev, res, kind)
}

func (s *Supervisor) replyPermission(e *entry, h *processHandle, ev Event, res approval.Resolution, kind approval.Kind) {
	reply := permissionReply{Behavior: "deny", Message: res.Reason}
	if res.Approved {
		input := res.EffectiveInput(kind, ev.ToolInput)
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		reply = permissionReply{Behavior: "allow", UpdatedInput: input}
	} else if reply.Message == "" {
		reply.Message = "denied by user"
	}

	proc := h.proc.Load()
	if proc == nil {
		return
	}
	err := proc.writeJSON(stdinControlResponse{
		Type: "control_response",
		Response: controlResponseBody{
			Subtype:   "success",
			RequestID: ev.RequestID,
			Response:  reply,
		},
	})
	if err != nil {
		slog.Debug("claude: permission reply not delivered", "session", e.id, "request", ev.RequestID, "error", err)
		return
	}
	slog.Info("claude: permission answered", "session", e.id, "request", ev.RequestID, "tool", ev.ToolName, "behavior", reply.Behavior)
}

// Shutdown stops every running process in parallel.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			e.startMu.Lock()
			defer e.startMu.Unlock()
			s.stopLocked(gctx, e)
			return nil
		})
	}
	err := g.Wait()

	for _, e := range entries {
		e.mu.Lock()
		for ch := range e.subs {
			close(ch)
		}
		e.subs = make(map[chan Event]struct{})
		e.mu.Unlock()
	}
	return err
}

func (s *Supervisor) saveSession(ctx context.Context, sess Session) {
	if err := s.store.SaveSession(ctx, sess); err != nil {
		slog.Error("claude: failed to persist session", "session", sess.ID, "error", err)
	}
}

func (s *Supervisor) appendMessage(ctx context.Context, m Message) {
	if err := s.store.AppendMessage(ctx, m); err != nil {
		slog.Error("claude: failed to persist message", "session", m.SessionID, "error", err)
	}
}

func (s *Supervisor) publish(ctx context.Context, typ string, sess Session, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["status"] = string(sess.Status)
	if err := s.bus.Publish(ctx, events.Event{
		Type:    typ,
		Session: sess.ID,
		User:    sess.UserID,
		Payload: payload,
	}); err != nil {
		slog.Debug("claude: bus publish failed", "type", typ, "error", err)
	}
}
