// Package scheduler owns the background timers: the daily forum scan, the
// strategic decision loop and the state heartbeat.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"treta/internal/events"
	"treta/internal/jsonstore"
	"treta/internal/logging"
	"treta/internal/repo"
)

const (
	DefaultScanHour = 9
	Source          = "scheduler"

	// LegacyStateFile is the scheduler state file of older data directories.
	LegacyStateFile = "scheduler_state.json"

	keyLastRunDate      = "last_run_date"
	keyLastRunTimestamp = "last_run_timestamp"

	dateLayout = "2006-01-02"
	maxWait    = time.Minute
)

// Publisher receives the events a timer produces.
type Publisher interface {
	Push(e events.Event) bool
}

// Daily pushes one RunInfoproductScan per local day, at or after Hour. The
// last run date is persisted, so a restart on the same day does not scan
// again.
type Daily struct {
	Repo     repo.Repo
	Bus      Publisher
	Hour     int
	Location *time.Location
	Log      *zap.Logger
	Now      func() time.Time

	mu      sync.Mutex
	lastRun string
	loaded  bool
}

func (d *Daily) now() time.Time {
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	if d.Location != nil {
		now = now.In(d.Location)
	}
	return now
}

func (d *Daily) scheduledFor(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), d.Hour, 0, 0, 0, now.Location())
}

// Next returns when the next scan is due after now.
func (d *Daily) Next(now time.Time) time.Time {
	at := d.scheduledFor(now)
	if now.Before(at) {
		return at
	}
	return at.AddDate(0, 0, 1)
}

// LastRunDate is the local date of the latest scan, empty when none ran.
func (d *Daily) LastRunDate(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return "", err
	}
	return d.lastRun, nil
}

func (d *Daily) loadLocked(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	v, err := d.Repo.GetSchedulerState(ctx, keyLastRunDate)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("load scheduler state: %w", err)
	}
	d.lastRun, d.loaded = v, true
	return nil
}

// Tick pushes the scan when it is due and reports whether it did.
func (d *Daily) Tick(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	log := logging.OrNop(d.Log)

	if err := d.loadLocked(ctx); err != nil {
		return false, err
	}
	now := d.now()
	today := now.Format(dateLayout)
	if d.lastRun == today || now.Before(d.scheduledFor(now)) {
		return false, nil
	}

	requestID := uuid.NewString()
	e := events.New(events.RunInfoproductScan, map[string]any{"request_id": requestID}, Source)
	fields := append(e.Trace().Fields(), zap.String("event_type", e.Type))
	if !d.Bus.Push(e) {
		log.Warn("daily scan dropped by the bus", fields...)
		return false, nil
	}
	log.Info("daily scan scheduled", fields...)

	d.lastRun = today
	err := d.Repo.SetSchedulerState(ctx, map[string]string{
		keyLastRunDate:      today,
		keyLastRunTimestamp: now.Format(time.RFC3339),
	})
	if err != nil {
		return true, fmt.Errorf("persist scheduler state: %w", err)
	}
	return true, nil
}

// Run ticks until ctx is cancelled, sleeping until the next due time but
// never longer than a minute.
func (d *Daily) Run(ctx context.Context) error {
	log := logging.OrNop(d.Log)
	for {
		if _, err := d.Tick(ctx); err != nil {
			log.Error("daily scheduler tick failed", zap.Error(err))
		}
		now := d.now()
		next := d.Next(now)
		log.Debug("next scan scheduled", zap.Time("next_scan_at", next))
		wait := min(next.Sub(now), maxWait)
		timer := time.NewTimer(max(wait, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

type legacyState struct {
	LastRunDate      string `json:"last_run_date"`
	LastRunTimestamp string `json:"last_run_timestamp"`
}

// ImportLegacyState copies scheduler_state.json into the scheduler table once.
func ImportLegacyState(ctx context.Context, r repo.Repo, path string, log *zap.Logger) (bool, error) {
	return r.ImportOnce(ctx, repo.FlagSchedulerImported, func() error {
		var st legacyState
		found, err := jsonstore.Read(path, &st, log)
		if err != nil || !found || st.LastRunDate == "" {
			return err
		}
		if _, err := time.Parse(dateLayout, st.LastRunDate); err != nil {
			logging.OrNop(log).Warn("legacy scheduler state ignored", zap.String("last_run_date", st.LastRunDate))
			return nil
		}
		values := map[string]string{keyLastRunDate: st.LastRunDate}
		if st.LastRunTimestamp != "" {
			values[keyLastRunTimestamp] = st.LastRunTimestamp
		}
		return r.SetSchedulerState(ctx, values)
	})
}
