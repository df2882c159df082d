// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/warden/internal/events"
)

// Run sweeps idle processes every sweep interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepIdle(ctx)
		}
	}
}

// SweepIdle stops processes whose clients have been disconnected longer than
// the idle limit and returns the sorted ids of the sessions it stopped.
func (s *Supervisor) SweepIdle(ctx context.Context) []string {
	cutoff := s.now().Add(-time.Duration(s.maxIdle.Load()))

	s.mu.Lock()
	var candidates []*entry
	for _, e := range s.sessions {
		candidates = append(candidates, e)
	}
	s.mu.Unlock()

	// Each stop can take the full grace period; one stuck process must not
	// delay the others.
	var (
		mu      sync.Mutex
		stopped []string
		g       errgroup.Group
	)
	for _, e := range candidates {
		if !s.idle(e, cutoff) {
			continue
		}
		g.Go(func() error {
			e.startMu.Lock()
			defer e.startMu.Unlock()
			// A client may have come back while we waited for the lock.
			if !s.idle(e, cutoff) {
				return nil
			}
			slog.Info("claude: stopping idle process", "session", e.id)
			s.stopLocked(ctx, e)

			e.mu.Lock()
			sess := e.session
			e.mu.Unlock()
			s.publish(ctx, events.EventSessionIdleStopped, sess, nil)

			mu.Lock()
			stopped = append(stopped, e.id)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	sort.Strings(stopped)
	return stopped
}

func (s *Supervisor) idle(e *entry, cutoff time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.proc
	return h != nil && !h.disconnectedAt.IsZero() && h.disconnectedAt.Before(cutoff)
}
