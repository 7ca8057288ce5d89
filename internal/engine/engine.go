// Package engine is the lifecycle kernel: every proposal, plan and launch
// mutation runs through it, is checked against the global invariants and is
// either committed to the stores as a whole or not at all.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/lifecycle"
	"treta/internal/store"
)

type Engine struct {
	Stores *store.Stores
	Log    *zap.Logger
	Now    func() time.Time
	mu     *sync.Mutex
}

func New(stores *store.Stores, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		Stores: stores,
		Log:    log.Named("kernel"),
		Now:    time.Now,
		mu:     &sync.Mutex{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Snapshot returns a copy of the current lifecycle state.
func (e Engine) Snapshot() lifecycle.Snapshot {
	return lifecycle.Snapshot{
		Proposals: e.Stores.Proposals.Items(),
		Plans:     e.Stores.Plans.Items(),
		Launches:  e.Stores.Launches.Items(),
	}
}

// Integrity computes the integrity report over the current state.
func (e Engine) Integrity() lifecycle.Report {
	return lifecycle.ComputeIntegrity(e.Snapshot())
}

// Validate checks the global invariants over the current state.
func (e Engine) Validate() error {
	return lifecycle.Validate(e.Snapshot())
}

// mutate applies fn to a working copy of the lifecycle state, recomputes the
// execution focus and commits only when every invariant holds.
func (e Engine) mutate(ctx context.Context, op string, fn func(s *lifecycle.Snapshot) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	orig := e.Snapshot()
	work := lifecycle.Snapshot{
		Proposals: append([]domain.ProductProposal(nil), orig.Proposals...),
		Plans:     append([]domain.ProductPlan(nil), orig.Plans...),
		Launches:  append([]domain.ProductLaunch(nil), orig.Launches...),
	}
	if err := fn(&work); err != nil {
		return err
	}
	focus := lifecycle.ApplyFocus(&work)
	if err := lifecycle.Validate(work); err != nil {
		fields := append(events.TraceFields(ctx), zap.String("op", op), zap.Error(err))
		var iv domain.InvariantViolation
		if errors.As(err, &iv) {
			fields = append(fields, zap.String("rule", iv.Rule))
		}
		e.Log.Warn("mutation rolled back", fields...)
		return err
	}
	if err := e.commit(orig, work); err != nil {
		return err
	}
	e.Log.Debug("mutation committed", append(events.TraceFields(ctx), zap.String("op", op), zap.Stringer("focus", focus))...)
	return nil
}

func (e Engine) commit(orig, next lifecycle.Snapshot) error {
	e.replace(next)
	if err := e.save(); err != nil {
		e.replace(orig)
		if rerr := e.save(); rerr != nil {
			e.Log.Error("restore after failed save", zap.Error(rerr))
		}
		return fmt.Errorf("persist lifecycle state: %w", err)
	}
	return nil
}

func (e Engine) replace(s lifecycle.Snapshot) {
	e.Stores.Proposals.Replace(s.Proposals)
	e.Stores.Plans.Replace(s.Plans)
	e.Stores.Launches.Replace(s.Launches)
}

func (e Engine) save() error {
	if err := e.Stores.Proposals.Save(); err != nil {
		return err
	}
	if err := e.Stores.Plans.Save(); err != nil {
		return err
	}
	return e.Stores.Launches.Save()
}

func proposalIndex(s *lifecycle.Snapshot, id string) int {
	for i := range s.Proposals {
		if s.Proposals[i].ID == id {
			return i
		}
	}
	return -1
}

func planIndex(s *lifecycle.Snapshot, proposalID string) int {
	for i := range s.Plans {
		if s.Plans[i].ProposalID == proposalID {
			return i
		}
	}
	return -1
}

func launchIndex(s *lifecycle.Snapshot, id string) int {
	for i := range s.Launches {
		if s.Launches[i].ID == id {
			return i
		}
	}
	return -1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
