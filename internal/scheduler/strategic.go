package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"treta/internal/control"
	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/logging"
)

const (
	DefaultLoopInterval      = 5 * time.Minute
	DefaultMaxPendingActions = 20
	DefaultHeartbeatInterval = 30 * time.Second

	minLoopInterval = 10 * time.Millisecond
)

// Handler runs one event inline.
type Handler interface {
	Handle(ctx context.Context, e events.Event) (control.Result, error)
}

// PendingCounter counts strategy actions by status.
type PendingCounter interface {
	CountStrategyActions(ctx context.Context, status string) (int, error)
}

// Cycle outcomes reported by Strategic.Cycle.
const (
	CycleRan         = "ran"
	CycleTooPending  = "skip_too_many_pending"
	CycleLockActive  = "skip_cycle_lock_active"
	CycleCountFailed = "skip_count_failed"
)

// Strategic periodically runs a strategy decision. A cycle is skipped while
// too many actions wait for confirmation, and overlapping cycles never run
// together. The decision cooldown is enforced by the handler itself.
type Strategic struct {
	Handler    Handler
	Pending    PendingCounter
	Interval   time.Duration
	MaxPending int
	Log        *zap.Logger

	cycle sync.Mutex
}

func (s *Strategic) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultLoopInterval
	}
	return max(s.Interval, minLoopInterval)
}

func (s *Strategic) maxPending() int {
	if s.MaxPending <= 0 {
		return DefaultMaxPendingActions
	}
	return s.MaxPending
}

// Cycle runs one iteration and reports what it did.
func (s *Strategic) Cycle(ctx context.Context) (string, error) {
	log := logging.OrNop(s.Log)
	pending, err := s.Pending.CountStrategyActions(ctx, domain.ActionPendingConfirmation)
	if err != nil {
		return CycleCountFailed, fmt.Errorf("count pending actions: %w", err)
	}
	if limit := s.maxPending(); pending >= limit {
		log.Info("skip: too many pending", zap.Int("pending_actions_count", pending), zap.Int("max_pending", limit))
		return CycleTooPending, nil
	}
	if !s.cycle.TryLock() {
		log.Info("skip: cycle_lock_active")
		return CycleLockActive, nil
	}
	defer s.cycle.Unlock()

	e := events.New(events.RunStrategyDecision, nil, Source)
	res, err := s.Handler.Handle(ctx, e)
	if err != nil {
		return CycleRan, err
	}
	log.Debug("strategic cycle finished", append(res.Event.Trace().Fields(), zap.Int("actions", len(res.Actions)))...)
	return CycleRan, nil
}

// Run cycles every Interval until ctx is cancelled.
func (s *Strategic) Run(ctx context.Context) error {
	log := logging.OrNop(s.Log)
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()
	for {
		if _, err := s.Cycle(ctx); err != nil {
			log.Error("strategic loop iteration failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Heartbeat pushes a Heartbeat event every Interval so the conversation state
// gets persisted.
type Heartbeat struct {
	Bus      Publisher
	Interval time.Duration
	Log      *zap.Logger
}

func (h Heartbeat) Run(ctx context.Context) error {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !h.Bus.Push(events.New(events.Heartbeat, nil, Source)) {
				logging.OrNop(h.Log).Warn("heartbeat dropped by the bus")
			}
		}
	}
}
