package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"treta/internal/logging"
)

const (
	DefaultCascadeBudget = 64
	historySize          = 200
)

type traceBudget struct {
	pushed   int
	inflight int
}

// Bus is an unbounded FIFO of events. Each trace may push at most budget
// events until every event of that trace has been popped and marked done.
type Bus struct {
	mu      sync.Mutex
	queue   []Event
	history []Event
	budgets map[string]*traceBudget
	budget  int
	ready   chan struct{}
	log     *zap.Logger
}

// NewBus returns a bus with the given cascade budget; a budget <= 0 uses the default.
func NewBus(budget int, log *zap.Logger) *Bus {
	if budget <= 0 {
		budget = DefaultCascadeBudget
	}
	return &Bus{
		budgets: map[string]*traceBudget{},
		budget:  budget,
		ready:   make(chan struct{}, 1),
		log:     logging.OrNop(log),
	}
}

func budgetKey(e Event) string {
	switch {
	case e.TraceID != "":
		return e.TraceID
	case e.RequestID != "":
		return e.RequestID
	default:
		return "global"
	}
}

// Push enqueues e. It reports false when the trace's cascade budget is spent
// and the event was dropped.
func (b *Bus) Push(e Event) bool {
	e = e.Normalize(time.Now())
	key := budgetKey(e)

	b.mu.Lock()
	tb := b.budgets[key]
	if tb == nil {
		tb = &traceBudget{}
		b.budgets[key] = tb
	}
	if tb.pushed+1 > b.budget {
		seen := tb.pushed + 1
		b.mu.Unlock()
		logging.Critical(b.log, "event cascade budget exceeded; dropping event",
			zap.String("reason", "event_cascade_budget_exceeded"),
			zap.String("event_type", e.Type),
			zap.String("trace_id", e.TraceID),
			zap.String("request_id", e.RequestID),
			zap.String("event_id", e.EventID),
			zap.Int("max_events_per_cycle", b.budget),
			zap.Int("events_seen", seen))
		return false
	}
	tb.pushed++
	tb.inflight++
	b.queue = append(b.queue, e)
	b.history = append(b.history, e)
	if len(b.history) > historySize {
		b.history = append([]Event(nil), b.history[len(b.history)-historySize:]...)
	}
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop waits up to timeout for the next event.
func (b *Bus) Pop(ctx context.Context, timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if e, ok := b.tryPop(); ok {
			return e, true
		}
		select {
		case <-b.ready:
		case <-timer.C:
			return b.tryPop()
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

func (b *Bus) tryPop() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return Event{}, false
	}
	e := b.queue[0]
	b.queue[0] = Event{}
	b.queue = b.queue[1:]
	if len(b.queue) > 0 {
		select {
		case b.ready <- struct{}{}:
		default:
		}
	}
	return e, true
}

// Done marks a popped event as fully dispatched. When a trace has nothing
// left in flight its cascade counter resets.
func (b *Bus) Done(e Event) {
	key := budgetKey(e)
	b.mu.Lock()
	defer b.mu.Unlock()
	tb := b.budgets[key]
	if tb == nil {
		return
	}
	tb.inflight--
	if tb.inflight <= 0 {
		delete(b.budgets, key)
	}
}

// Recent returns up to limit of the most recently pushed events, oldest first.
func (b *Bus) Recent(limit int) []Event {
	if limit <= 0 {
		return []Event{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	start := len(b.history) - limit
	if start < 0 {
		start = 0
	}
	return append([]Event{}, b.history[start:]...)
}

// Len returns the number of queued events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
