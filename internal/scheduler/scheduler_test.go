package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"treta/internal/control"
	"treta/internal/db"
	"treta/internal/events"
	"treta/internal/migrate"
	"treta/internal/repo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *fakeBus) Push(e events.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return true
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDailyPersistsAcrossRestart(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	runTime := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)

	bus := &fakeBus{}
	first := &Daily{Repo: r, Bus: bus, Hour: 9, Location: time.UTC, Now: fixed(runTime)}
	ran, err := first.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	require.Equal(t, 1, bus.count())
	e := bus.events[0]
	assert.Equal(t, events.RunInfoproductScan, e.Type)
	assert.Equal(t, Source, e.Source)
	_, err = uuid.Parse(e.RequestID)
	assert.NoError(t, err)
	assert.Equal(t, e.RequestID, e.Payload["request_id"])

	date, err := r.GetSchedulerState(ctx, "last_run_date")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", date)
	ts, err := r.GetSchedulerState(ctx, "last_run_timestamp")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T10:30:00Z", ts)

	restartedBus := &fakeBus{}
	restarted := &Daily{Repo: r, Bus: restartedBus, Hour: 9, Location: time.UTC, Now: fixed(runTime.Add(30 * time.Minute))}
	ran, err = restarted.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 0, restartedBus.count())

	nextDay := &Daily{Repo: r, Bus: restartedBus, Hour: 9, Location: time.UTC, Now: fixed(time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC))}
	ran, err = nextDay.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, restartedBus.count())
}

func TestDailyWaitsForScanHour(t *testing.T) {
	r := newRepo(t)
	bus := &fakeBus{}
	early := time.Date(2024, 3, 5, 8, 59, 0, 0, time.UTC)
	d := &Daily{Repo: r, Bus: bus, Hour: 9, Now: fixed(early)}

	ran, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), d.Next(early))
	assert.Equal(t, time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC), d.Next(early.Add(2*time.Minute)))

	last, err := d.LastRunDate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestDailyUsesLocalDate(t *testing.T) {
	r := newRepo(t)
	bus := &fakeBus{}
	loc := time.FixedZone("UTC+10", 10*3600)
	// 23:30 UTC is already 09:30 the next day at UTC+10.
	d := &Daily{Repo: r, Bus: bus, Hour: 9, Location: loc, Now: fixed(time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC))}

	ran, err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	last, err := d.LastRunDate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", last)
}

func TestDailyRunStopsOnCancel(t *testing.T) {
	r := newRepo(t)
	bus := &fakeBus{}
	d := &Daily{Repo: r, Bus: bus, Hour: 0, Now: fixed(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, bus.count())
}

func TestImportLegacyState(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), LegacyStateFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"last_run_date":"2024-01-01","last_run_timestamp":"2024-01-01T09:01:00+00:00"}`), 0o644))

	imported, err := ImportLegacyState(ctx, r, path, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, imported)
	v, err := r.GetSchedulerState(ctx, "last_run_date")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", v)

	require.NoError(t, os.WriteFile(path, []byte(`{"last_run_date":"2030-01-01"}`), 0o644))
	imported, err = ImportLegacyState(ctx, r, path, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, imported)
	v, err = r.GetSchedulerState(ctx, "last_run_date")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", v)
}

type fakePending struct {
	n   int
	err error
}

func (f fakePending) CountStrategyActions(context.Context, string) (int, error) { return f.n, f.err }

type fakeHandler struct {
	mu    sync.Mutex
	calls []events.Event
	block chan struct{}
	err   error
}

func (h *fakeHandler) Handle(_ context.Context, e events.Event) (control.Result, error) {
	h.mu.Lock()
	h.calls = append(h.calls, e)
	h.mu.Unlock()
	if h.block != nil {
		<-h.block
	}
	return control.Result{Event: e}, h.err
}

func (h *fakeHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func TestStrategicCycle(t *testing.T) {
	h := &fakeHandler{}
	s := &Strategic{Handler: h, Pending: fakePending{n: 2}, MaxPending: 3}

	out, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleRan, out)
	require.Equal(t, 1, h.count())
	assert.Equal(t, events.RunStrategyDecision, h.calls[0].Type)
	assert.Equal(t, Source, h.calls[0].Source)
}

func TestStrategicSkipsWhenTooManyPending(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := &fakeHandler{}
	s := &Strategic{Handler: h, Pending: fakePending{n: 3}, MaxPending: 3, Log: zap.New(core)}

	out, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleTooPending, out)
	assert.Equal(t, 0, h.count())
	require.Equal(t, 1, logs.FilterMessage("skip: too many pending").Len())
	fields := logs.FilterMessage("skip: too many pending").All()[0].ContextMap()
	assert.EqualValues(t, 3, fields["pending_actions_count"])

	s.Pending = fakePending{err: errors.New("db gone")}
	out, err = s.Cycle(context.Background())
	assert.Error(t, err)
	assert.Equal(t, CycleCountFailed, out)
}

func TestStrategicCycleLock(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	s := &Strategic{Handler: h, Pending: fakePending{}}

	done := make(chan string, 1)
	go func() {
		out, _ := s.Cycle(context.Background())
		done <- out
	}()
	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)

	out, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleLockActive, out)

	close(h.block)
	assert.Equal(t, CycleRan, <-done)
	assert.Equal(t, 1, h.count())
}

func TestStrategicRunLoops(t *testing.T) {
	h := &fakeHandler{}
	s := &Strategic{Handler: h, Pending: fakePending{}, Interval: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return h.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestHeartbeatPushes(t *testing.T) {
	bus := &fakeBus{}
	hb := Heartbeat{Bus: bus, Interval: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hb.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, events.Heartbeat, bus.events[0].Type)
}
