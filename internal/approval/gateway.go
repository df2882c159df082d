// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wingedpig/warden/internal/events"
)

const (
	DefaultTimeout       = 120 * time.Second
	DefaultReviewTimeout = 300 * time.Second
	DefaultMaxAge        = 30 * time.Minute
	DefaultGCInterval    = time.Minute
)

// AuditEntry is one row of the approval audit trail.
type AuditEntry struct {
	RequestID string        `json:"request_id"`
	SessionID string        `json:"session_id"`
	Kind      Kind          `json:"kind"`
	ToolName  string        `json:"tool_name,omitempty"`
	Event     string        `json:"event"` // submitted, resolved, expired, auto_approved
	Outcome   Outcome       `json:"outcome,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Pattern   string        `json:"pattern,omitempty"`
	Wait      time.Duration `json:"wait_ns,omitempty"`
	At        time.Time     `json:"at"`
}

// AuditLog records approval lifecycle events.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Recorder receives approval metrics.
type Recorder interface {
	ApprovalSubmitted(ctx context.Context, kind string)
	ApprovalResolved(ctx context.Context, kind, outcome string, wait time.Duration)
}

// GatewayConfig configures a Gateway. Zero values select defaults.
type GatewayConfig struct {
	Timeout       time.Duration
	ReviewTimeout time.Duration
	MaxAge        time.Duration
	GCInterval    time.Duration

	Rules    RuleStore
	Audit    AuditLog
	Bus      events.EventBus
	Recorder Recorder

	// Owner maps a session id to its owning user for bus events.
	Owner func(sessionID string) string
}

// Gateway correlates approval requests from the agent or satellite helpers
// with human responses.
type Gateway struct {
	queue *Queue
	cfg   GatewayConfig

	timeout       atomic.Int64
	reviewTimeout atomic.Int64
	maxAge        atomic.Int64
}

// NewGateway returns a gateway over queue.
func NewGateway(queue *Queue, cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ReviewTimeout <= 0 {
		cfg.ReviewTimeout = DefaultReviewTimeout
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = DefaultGCInterval
	}
	if cfg.Rules == nil {
		cfg.Rules = NewMemoryRules()
	}

	g := &Gateway{queue: queue, cfg: cfg}
	g.SetTimeouts(cfg.Timeout, cfg.ReviewTimeout, cfg.MaxAge)
	queue.OnHeadChange(g.publishHead)
	return g
}

// Queue returns the underlying queue.
func (g *Gateway) Queue() *Queue { return g.queue }

// SetTimeouts updates wait limits at runtime. Non-positive values are ignored.
func (g *Gateway) SetTimeouts(timeout, review, maxAge time.Duration) {
	if timeout > 0 {
		g.timeout.Store(int64(timeout))
	}
	if review > 0 {
		g.reviewTimeout.Store(int64(review))
	}
	if maxAge > 0 {
		g.maxAge.Store(int64(maxAge))
	}
}

// TimeoutFor returns the default wait for kind. Plan and commit reviews get
// the longer review timeout.
func (g *Gateway) TimeoutFor(kind Kind) time.Duration {
	switch kind {
	case KindPlan, KindCommit:
		return time.Duration(g.reviewTimeout.Load())
	default:
		return time.Duration(g.timeout.Load())
	}
}

// MaxWait is the longest a single Await may block.
func (g *Gateway) MaxWait() time.Duration {
	return max(time.Duration(g.reviewTimeout.Load()), time.Duration(g.timeout.Load()))
}

// Submit files a request and returns its id without waiting. Permission
// requests for aliased tools are re-filed under their dedicated kind, and
// permission requests covered by a saved rule are approved immediately.
func (g *Gateway) Submit(ctx context.Context, req Request) (string, error) {
	if req.SessionID == "" {
		return "", ErrMissingSession
	}
	if req.Kind == "" {
		req.Kind = KindPermission
	}
	if !req.Kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}
	req.Kind = AliasKind(req.Kind, req.ToolName)
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if !AlwaysAsk(req.Kind) {
		if rule, ok := g.matchRule(ctx, req); ok {
			res := Resolution{Approved: true, Pattern: rule.Pattern, Scope: rule.Scope, AutoApproved: true}
			a, err := g.queue.Settle(req.SessionID, req.Kind, req.RequestID, req.ToolName, req.Payload, res)
			if err != nil {
				return "", err
			}
			slog.Info("approval: auto-approved by rule", "session", req.SessionID, "request", req.RequestID, "tool", req.ToolName, "pattern", rule.Pattern)
			g.record(ctx, a, "auto_approved", res)
			g.publish(ctx, events.EventApprovalAuto, a, &res)
			return req.RequestID, nil
		}
	}

	a, err := g.queue.Enqueue(req.SessionID, req.Kind, req.RequestID, req.ToolName, req.Payload)
	if err != nil {
		return "", err
	}
	slog.Info("approval: submitted", "session", req.SessionID, "request", req.RequestID, "kind", req.Kind, "tool", req.ToolName)
	if g.cfg.Recorder != nil {
		g.cfg.Recorder.ApprovalSubmitted(ctx, string(req.Kind))
	}
	g.audit(ctx, AuditEntry{
		RequestID: a.RequestID,
		SessionID: a.SessionID,
		Kind:      a.Kind,
		ToolName:  a.ToolName,
		Event:     "submitted",
		At:        a.CreatedAt,
	})
	g.publish(ctx, events.EventApprovalSubmitted, a, nil)
	return req.RequestID, nil
}

func (g *Gateway) matchRule(ctx context.Context, req Request) (Rule, bool) {
	rules, err := g.cfg.Rules.Rules(ctx, req.SessionID)
	if err != nil {
		slog.Warn("approval: rule lookup failed", "session", req.SessionID, "error", err)
		return Rule{}, false
	}
	for _, r := range rules {
		if r.Matches(req.ToolName, req.Payload) {
			return r, true
		}
	}
	return Rule{}, false
}

// Await blocks until the request is resolved or timeout elapses. On timeout
// the request is resolved as denied, exactly once. If ctx ends first the
// request stays pending for a later Await and ctx's error is returned. An
// unknown request id yields a denial.
func (g *Gateway) Await(ctx context.Context, requestID string, timeout time.Duration) (Resolution, error) {
	a := g.queue.lookup(requestID)
	if a == nil {
		return Resolution{Approved: false, Reason: "unknown request"}, nil
	}
	if timeout <= 0 {
		timeout = g.TimeoutFor(a.Kind)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.Done():
		return *a.Resolution, nil
	case <-timer.C:
		res := Resolution{Approved: false, Reason: "timed out waiting for approval", TimedOut: true}
		if g.resolve(ctx, requestID, res, "resolved") {
			slog.Info("approval: timed out", "session", a.SessionID, "request", requestID, "after", timeout)
			return res, nil
		}
		// Lost the race to a human response.
		<-a.Done()
		return *a.Resolution, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Respond resolves a pending request. Unknown or already resolved ids are a
// successful no-op. An approved permission carrying a pattern with session
// or always scope is saved as a rule.
func (g *Gateway) Respond(ctx context.Context, requestID string, res Resolution) error {
	res.TimedOut = false
	res.AutoApproved = false
	if !g.resolve(ctx, requestID, res, "resolved") {
		slog.Debug("approval: response for unknown or resolved request", "request", requestID)
		return nil
	}

	a := g.queue.lookup(requestID)
	if a == nil || a.Kind != KindPermission || !res.Approved || res.Pattern == "" {
		return nil
	}
	if res.Scope != ScopeSession && res.Scope != ScopeAlways {
		return nil
	}
	rule, err := ParseRule(res.Pattern)
	if err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	rule.Scope = res.Scope
	rule.CreatedAt = time.Now()
	if res.Scope == ScopeSession {
		rule.SessionID = a.SessionID
	}
	if err := g.cfg.Rules.SaveRule(ctx, rule); err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	slog.Info("approval: saved rule", "session", a.SessionID, "pattern", rule.Pattern, "scope", rule.Scope)
	return nil
}

func (g *Gateway) resolve(ctx context.Context, requestID string, res Resolution, event string) bool {
	a, ok := g.queue.resolve(requestID, res)
	if !ok {
		return false
	}
	g.record(ctx, a, event, res)
	g.publish(ctx, events.EventApprovalResolved, a, &res)
	return true
}

func (g *Gateway) record(ctx context.Context, a *Action, event string, res Resolution) {
	wait := a.ResolvedAt.Sub(a.CreatedAt)
	if g.cfg.Recorder != nil {
		g.cfg.Recorder.ApprovalResolved(ctx, string(a.Kind), string(res.Outcome()), wait)
	}
	g.audit(ctx, AuditEntry{
		RequestID: a.RequestID,
		SessionID: a.SessionID,
		Kind:      a.Kind,
		ToolName:  a.ToolName,
		Event:     event,
		Outcome:   res.Outcome(),
		Reason:    res.Reason,
		Pattern:   res.Pattern,
		Wait:      wait,
		At:        a.ResolvedAt,
	})
}

// Pending returns the session's pending requests in submission order.
func (g *Gateway) Pending(sessionID string) []Action {
	return g.queue.Pending(sessionID)
}

// Head returns the request currently surfaced for the session.
func (g *Gateway) Head(sessionID string) *Action {
	return g.queue.Head(sessionID)
}

// Get returns a tracked request.
func (g *Gateway) Get(requestID string) (Action, bool) {
	return g.queue.Get(requestID)
}

// Run expires stale requests until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.collect(ctx)
		}
	}
}

func (g *Gateway) collect(ctx context.Context) {
	expired := g.queue.Expire(time.Duration(g.maxAge.Load()))
	for i := range expired {
		a := &expired[i]
		slog.Info("approval: expired", "session", a.SessionID, "request", a.RequestID, "kind", a.Kind)
		res := Resolution{Approved: false, Reason: "expired"}
		if a.Resolution != nil {
			res = *a.Resolution
		}
		if g.cfg.Recorder != nil {
			g.cfg.Recorder.ApprovalResolved(ctx, string(a.Kind), string(OutcomeExpired), a.ResolvedAt.Sub(a.CreatedAt))
		}
		g.audit(ctx, AuditEntry{
			RequestID: a.RequestID,
			SessionID: a.SessionID,
			Kind:      a.Kind,
			ToolName:  a.ToolName,
			Event:     "expired",
			Outcome:   OutcomeExpired,
			Reason:    res.Reason,
			Wait:      a.ResolvedAt.Sub(a.CreatedAt),
			At:        a.ResolvedAt,
		})
		g.publish(ctx, events.EventApprovalExpired, a, &res)
	}
}

func (g *Gateway) audit(ctx context.Context, entry AuditEntry) {
	if g.cfg.Audit == nil {
		return
	}
	if err := g.cfg.Audit.Record(ctx, entry); err != nil {
		slog.Warn("approval: audit write failed", "request", entry.RequestID, "error", err)
	}
}

// publishHead is the queue's head hook. It runs under the session's queue
// lock; the bus delivers synchronously, so subscribers must stay quick.
func (g *Gateway) publishHead(sessionID string, head *Action) {
	if g.cfg.Bus == nil {
		return
	}
	payload := map[string]interface{}{"active": head != nil}
	if head != nil {
		payload["request_id"] = head.RequestID
		payload["kind"] = string(head.Kind)
		payload["tool_name"] = head.ToolName
	}
	g.cfg.Bus.Publish(context.Background(), events.Event{
		Type:    events.EventApprovalActive,
		Session: sessionID,
		User:    g.owner(sessionID),
		Payload: payload,
	})
}

// publish reads only the immutable fields of a; the resolution is passed
// separately so a pending action is never read while it may be resolved.
func (g *Gateway) publish(ctx context.Context, typ string, a *Action, res *Resolution) {
	if g.cfg.Bus == nil {
		return
	}
	payload := map[string]interface{}{
		"request_id": a.RequestID,
		"kind":       string(a.Kind),
		"tool_name":  a.ToolName,
	}
	if res != nil {
		payload["approved"] = res.Approved
		payload["outcome"] = string(res.Outcome())
	}
	if err := g.cfg.Bus.Publish(ctx, events.Event{
		Type:    typ,
		Session: a.SessionID,
		User:    g.owner(a.SessionID),
		Payload: payload,
	}); err != nil {
		slog.Debug("approval: bus publish failed", "type", typ, "error", err)
	}
}

func (g *Gateway) owner(sessionID string) string {
	if g.cfg.Owner == nil {
		return ""
	}
	return g.cfg.Owner(sessionID)
}
