// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBusClosed            = errors.New("event bus is closed")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

const defaultAsyncBuffer = 100

// MemoryBusConfig configures a MemoryEventBus.
type MemoryBusConfig struct {
	HistoryMaxEvents int
	HistoryMaxAge    time.Duration
}

// MemoryEventBus is the in-process EventBus.
type MemoryEventBus struct {
	mu   sync.RWMutex
	subs map[SubscriptionID]*subscription

	// seqMu keeps history in Seq order.
	seqMu   sync.Mutex
	history *EventHistory
	seq     atomic.Uint64
	dropped atomic.Uint64
	closed  atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

type subscription struct {
	id      SubscriptionID
	pattern Pattern
	handler EventHandler

	// Async subscriptions only.
	queue chan Event
	quit  chan struct{}
}

// NewMemoryEventBus starts a bus and its history pruner.
func NewMemoryEventBus(cfg MemoryBusConfig) *MemoryEventBus {
	bus := &MemoryEventBus{
		subs: make(map[SubscriptionID]*subscription),
		history: NewEventHistory(EventHistoryConfig{
			MaxEvents: cfg.HistoryMaxEvents,
			MaxAge:    cfg.HistoryMaxAge,
		}),
		stop: make(chan struct{}),
	}

	maxAge := cfg.HistoryMaxAge
	if maxAge <= 0 {
		maxAge = DefaultHistoryMaxAge
	}
	bus.wg.Add(1)
	go bus.pruneLoop(min(max(maxAge/10, time.Minute), time.Hour))
	return bus
}

func (bus *MemoryEventBus) pruneLoop(every time.Duration) {
	defer bus.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-bus.stop:
			return
		case <-ticker.C:
			bus.history.Prune()
		}
	}
}

// Stats returns the number of events published and the number dropped
// because an async subscriber's buffer was full.
func (bus *MemoryEventBus) Stats() (published, dropped uint64) {
	return bus.seq.Load(), bus.dropped.Load()
}

// Publish stamps event, records it in history and hands it to every
// matching subscriber. Synchronous handlers run on the caller's goroutine.
func (bus *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	if bus.closed.Load() {
		return ErrBusClosed
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Version == "" {
		event.Version = "1.0"
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	bus.seqMu.Lock()
	event.Seq = bus.seq.Add(1)
	bus.history.Add(event)
	bus.seqMu.Unlock()

	bus.mu.RLock()
	matched := make([]*subscription, 0, len(bus.subs))
	for _, sub := range bus.subs {
		if sub.pattern.Match(event.Type) {
			matched = append(matched, sub)
		}
	}
	bus.mu.RUnlock()

	for _, sub := range matched {
		if sub.queue == nil {
			sub.call(ctx, event)
			continue
		}
		select {
		case sub.queue <- event:
		default:
			bus.dropped.Add(1)
			slog.Warn("events: async subscriber full, event dropped", "type", event.Type, "session", event.Session, "subscription", sub.id)
		}
	}
	return nil
}

// call runs the handler, containing panics to the subscriber.
func (sub *subscription) call(ctx context.Context, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("events: handler panic", "type", event.Type, "subscription", sub.id, "panic", r)
		}
	}()
	if err := sub.handler(ctx, event); err != nil {
		slog.Debug("events: handler error", "type", event.Type, "subscription", sub.id, "error", err)
	}
}

func (sub *subscription) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-sub.quit:
			return
		case event := <-sub.queue:
			sub.call(context.Background(), event)
		}
	}
}

func (bus *MemoryEventBus) add(pattern string, handler EventHandler, bufferSize int, async bool) (SubscriptionID, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return "", err
	}
	sub := &subscription{
		id:      SubscriptionID(uuid.NewString()),
		pattern: p,
		handler: handler,
	}
	if async {
		if bufferSize <= 0 {
			bufferSize = defaultAsyncBuffer
		}
		sub.queue = make(chan Event, bufferSize)
		sub.quit = make(chan struct{})
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	// Checked under the lock so Close cannot miss a new subscriber.
	if bus.closed.Load() {
		return "", ErrBusClosed
	}
	bus.subs[sub.id] = sub
	if async {
		bus.wg.Add(1)
		go sub.run(&bus.wg)
	}
	return sub.id, nil
}

// Subscribe registers a synchronous handler for events matching pattern.
func (bus *MemoryEventBus) Subscribe(pattern string, handler EventHandler) (SubscriptionID, error) {
	return bus.add(pattern, handler, 0, false)
}

// SubscribeAsync registers a handler that runs on its own goroutine.
func (bus *MemoryEventBus) SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error) {
	return bus.add(pattern, handler, bufferSize, true)
}

// Unsubscribe removes a subscription. Events already queued for an async
// subscriber are discarded.
func (bus *MemoryEventBus) Unsubscribe(id SubscriptionID) error {
	bus.mu.Lock()
	sub, ok := bus.subs[id]
	delete(bus.subs, id)
	bus.mu.Unlock()

	if !ok {
		return ErrSubscriptionNotFound
	}
	if sub.quit != nil {
		close(sub.quit)
	}
	return nil
}

// History returns past events matching filter, oldest first.
func (bus *MemoryEventBus) History(filter EventFilter) ([]Event, error) {
	return bus.history.Query(filter)
}

// Close stops every subscriber and the pruner, then drops history. It is
// safe to call more than once.
func (bus *MemoryEventBus) Close() error {
	bus.mu.Lock()
	if bus.closed.Swap(true) {
		bus.mu.Unlock()
		return nil
	}
	for id, sub := range bus.subs {
		if sub.quit != nil {
			close(sub.quit)
		}
		delete(bus.subs, id)
	}
	bus.mu.Unlock()

	close(bus.stop)
	bus.wg.Wait()
	bus.history.Close()
	return nil
}
