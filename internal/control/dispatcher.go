package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/logging"
	"treta/internal/statemachine"
)

const DefaultPopTimeout = 500 * time.Millisecond

// Publisher receives follow-up events.
type Publisher interface {
	Push(e events.Event) bool
}

// Result describes what happened to one dispatched event.
type Result struct {
	Event     events.Event   `json:"event"`
	Actions   []Action       `json:"actions"`
	Children  []events.Event `json:"children"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Invalid   bool           `json:"invalid,omitempty"`
	Missing   []string       `json:"missing,omitempty"`
}

// Dispatcher handles one event at a time. The bus consumer and inline HTTP
// calls share its lock, so store mutations never interleave.
type Dispatcher struct {
	Control *Control
	Ledger  events.Ledger
	Bus     Publisher
	Machine *statemachine.Machine
	Log     *zap.Logger
	Now     func() time.Time

	mu sync.Mutex
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// Handle runs e through validation, dedup, the state machine and its
// handler, then publishes the handler's actions as child events. e is
// recorded as processed only when the handler succeeds, so a failed event
// can be retried.
func (d *Dispatcher) Handle(ctx context.Context, e events.Event) (Result, error) {
	log := logging.OrNop(d.Log)
	e = e.Normalize(d.now())
	ctx = events.WithTrace(ctx, e.Trace())
	fields := append(events.TraceFields(ctx), zap.String("event_type", e.Type))
	res := Result{Event: e, Actions: []Action{}, Children: []events.Event{}}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !events.Known(e.Type) && !events.IsNotification(e.Type) {
		log.Warn("unknown event type; routing anyway", fields...)
	}
	if missing := events.MissingKeys(e.Type, e.Payload); len(missing) > 0 {
		e.Invalid = true
		e.InvalidReason = "missing required keys: " + strings.Join(missing, ",")
		res.Event, res.Invalid, res.Missing = e, true, missing
		log.Warn("invalid event dropped", append(fields, zap.Strings("missing", missing))...)
		if err := d.Ledger.MarkProcessed(ctx, e.EventID, e.Type); err != nil {
			return res, fmt.Errorf("mark invalid event: %w", err)
		}
		return res, nil
	}

	done, err := d.Ledger.IsProcessed(ctx, e.EventID)
	if err != nil {
		return res, err
	}
	if done {
		res.Duplicate = true
		log.Info("event already processed; skipped", fields...)
		return res, nil
	}

	if d.Machine != nil {
		if next, ok := statemachine.ForEvent(e.Type); ok {
			d.Machine.Transition(next)
		}
	}

	actions, err := d.Control.Consume(ctx, e)
	if err != nil {
		log.Warn("event handler failed", append(fields, zap.Error(err))...)
		return res, err
	}
	for _, a := range actions {
		res.Actions = append(res.Actions, a)
		child := e.Child(a.Type, a.Payload)
		if d.Bus != nil && !d.Bus.Push(child) {
			continue
		}
		res.Children = append(res.Children, child)
	}

	if err := d.Ledger.MarkProcessed(ctx, e.EventID, e.Type); err != nil {
		return res, fmt.Errorf("mark event processed: %w", err)
	}
	log.Debug("event handled", append(fields, zap.Int("actions", len(actions)))...)
	return res, nil
}

// Source is the queue the consumer loop drains.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (events.Event, bool)
	Done(e events.Event)
}

// Run drains src until ctx is cancelled. Handler errors are logged and the
// loop moves on.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	log := logging.OrNop(d.Log)
	for {
		if ctx.Err() != nil {
			return nil
		}
		e, ok := src.Pop(ctx, DefaultPopTimeout)
		if !ok {
			continue
		}
		_, err := d.Handle(ctx, e)
		src.Done(e)
		if err == nil {
			continue
		}
		fields := append(e.Trace().Fields(), zap.String("event_type", e.Type), zap.Error(err))
		var inv domain.InvariantViolation
		var dep domain.DependencyError
		switch {
		case errors.As(err, &inv), errors.As(err, &dep):
			log.Warn("event failed; continuing", fields...)
		case errors.Is(err, context.Canceled):
			return nil
		default:
			log.Error("event failed", fields...)
		}
	}
}

// Exclusive runs fn under the dispatch lock. Endpoints that call a component
// directly for its result use it to stay serialized with event handling.
func (d *Dispatcher) Exclusive(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn()
}
