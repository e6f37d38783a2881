// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event is the payload delivered to the external error-tracking backend
// for every constructed domain error.
type Event struct {
	Severity    string
	Category    string
	Subcategory string
	Component   string
	Message     string
	Cause       string
	Context     map[string]string
	Metadata    map[string]string
	Timestamp   time.Time
}

// Tracker delivers error events to an external backend. Implementations
// must not block the caller.
type Tracker interface {
	Track(ev Event)
}

// NopTracker discards all events.
type NopTracker struct{}

// Track implements Tracker.
func (NopTracker) Track(Event) {}

// Sink is the delivery function behind an AsyncTracker.
type Sink func(ctx context.Context, ev Event) error

// AsyncTracker queues events on a buffered channel and delivers them on
// a background goroutine. A full queue drops the event; delivery errors
// are logged and never propagate.
type AsyncTracker struct {
	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	sink    Sink
	logger  *slog.Logger
	dropped atomic.Int64
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	once    sync.Once
}

// NewAsyncTracker starts a tracker with the given queue size and sink.
func NewAsyncTracker(queueSize int, sink Sink, logger *slog.Logger) *AsyncTracker {
	if queueSize < 1 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &AsyncTracker{
		queue:  make(chan Event, queueSize),
		sink:   sink,
		logger: logger,
		cancel: cancel,
	}
	t.wg.Add(1)
	go t.run(ctx)
	return t
}

// Track enqueues the event without blocking. Events are dropped when the
// queue is full or the tracker is already closed.
func (t *AsyncTracker) Track(ev Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.dropped.Add(1)
		return
	}
	select {
	case t.queue <- ev:
	default:
		n := t.dropped.Add(1)
		if n%100 == 1 {
			t.logger.Warn("errors.tracker.dropped", slog.Int64("total_dropped", n))
		}
	}
}

// Dropped returns the number of events dropped due to a full queue.
func (t *AsyncTracker) Dropped() int64 {
	return t.dropped.Load()
}

// Close stops the delivery goroutine after draining queued events.
// Events tracked after Close count as dropped.
func (t *AsyncTracker) Close() {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.queue)
		t.wg.Wait()
		t.cancel()
	})
}

func (t *AsyncTracker) run(ctx context.Context) {
	defer t.wg.Done()
	for ev := range t.queue {
		if t.sink == nil {
			continue
		}
		if err := t.sink(ctx, ev); err != nil {
			t.logger.Warn("errors.tracker.deliver.failed",
				slog.String("category", ev.Category),
				slog.String("error", err.Error()),
			)
		}
	}
}
