// Package app wires the runtime: storage, the event bus and dispatcher, the
// strategy and autonomy engines, the schedulers and the HTTP API.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"treta/internal/autonomy"
	"treta/internal/config"
	"treta/internal/control"
	"treta/internal/db"
	"treta/internal/engine"
	"treta/internal/events"
	"treta/internal/execution"
	"treta/internal/integrations"
	"treta/internal/logging"
	"treta/internal/migrate"
	"treta/internal/opportunity"
	"treta/internal/repo"
	"treta/internal/scheduler"
	"treta/internal/server"
	"treta/internal/statemachine"
	"treta/internal/store"
	"treta/internal/strategy"
)

// Legacy JSON files imported once into the database.
const (
	LegacyAdaptiveStateFile  = "adaptive_policy_state.json"
	LegacySchedulerStateFile = "scheduler_state.json"
	LegacyActionsFile        = "strategy_actions.json"
)

const (
	shutdownTimeout = 5 * time.Second
	drainPopTimeout = 10 * time.Millisecond
)

// Options tune Build.
type Options struct {
	Version string
	Log     *zap.Logger
	// Now overrides the wall clock of every component.
	Now func() time.Time
}

// App is a fully wired runtime.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Repo       repo.Repo
	Stores     *store.Stores
	Engine     engine.Engine
	Bus        *events.Bus
	Dispatcher *control.Dispatcher
	Policy     *autonomy.Policy
	Executor   execution.Layer
	Daily      *scheduler.Daily
	Strategic  *scheduler.Strategic
	Heartbeat  scheduler.Heartbeat
	Handler    http.Handler
	Log        *zap.Logger
}

// Build opens storage, runs migrations and legacy imports, and wires every
// component. Close releases the database.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	log := logging.OrNop(opts.Log)
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// JSON stores and legacy files live at the data dir root; only the
	// database sits under memory/.
	if _, err := db.EnsureDataDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	dataDir := cfg.DataDir
	conn, err := db.Open(db.Config{DataDir: cfg.DataDir})
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: conn, Log: log}
	fail := func(err error) (*App, error) {
		conn.Close()
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		return fail(fmt.Errorf("migrate: %w", err))
	}
	a.Repo = repo.Repo{DB: conn, Now: now}

	if _, err := scheduler.ImportLegacyState(ctx, a.Repo, filepath.Join(dataDir, LegacySchedulerStateFile), log); err != nil {
		return fail(fmt.Errorf("import legacy scheduler state: %w", err))
	}
	if n, err := a.Repo.ImportLegacyActions(ctx, filepath.Join(dataDir, LegacyActionsFile), log); err != nil {
		return fail(fmt.Errorf("import legacy actions: %w", err))
	} else if n > 0 {
		log.Info("legacy strategy actions imported", zap.Int("count", n))
	}

	if a.Stores, err = store.Open(dataDir, log); err != nil {
		return fail(fmt.Errorf("open stores: %w", err))
	}
	a.Stores.Memory.Now = now
	a.Engine = engine.New(a.Stores, log.Named("engine"))
	a.Engine.Now = now

	a.Bus = events.NewBus(cfg.Bus.CascadeBudget, log.Named("bus"))
	a.Executor = execution.Layer{
		Repo:            a.Repo,
		Registry:        execution.DefaultRegistry(newTasks(cfg, log)),
		Bus:             a.Bus,
		Log:             log.Named("execution"),
		Now:             now,
		DefaultTimeout:  time.Duration(cfg.Execution.DefaultTimeoutSeconds) * time.Second,
		Timeouts:        cfg.ExecutionTimeouts(),
		BreakerFailures: cfg.Execution.BreakerFailures,
		BreakerWindow:   time.Duration(cfg.Execution.BreakerWindowSeconds) * time.Second,
	}
	a.Policy, err = autonomy.New(ctx, a.Repo, a.Executor, a.Bus, autonomy.Options{
		Mode:                    cfg.Autonomy.Mode,
		ImpactThreshold:         cfg.Autonomy.ImpactThreshold,
		MaxAutoExecutionsPer24h: cfg.Autonomy.MaxAutoExecutionsPer24h,
		LegacyStatePath:         filepath.Join(dataDir, LegacyAdaptiveStateFile),
	}, log.Named("autonomy"))
	if err != nil {
		return fail(fmt.Errorf("autonomy policy: %w", err))
	}
	a.Policy.SetClock(now)

	machine, err := restoreMachine(ctx, a.Repo, log)
	if err != nil {
		return fail(err)
	}

	ctl := &control.Control{
		Engine: a.Engine,
		Stores: a.Stores,
		Repo:   a.Repo,
		Strategy: strategy.Orchestrator{
			Repo:     a.Repo,
			Launches: a.Stores.Launches.Items,
			Weights:  a.Policy,
			Autonomy: a.Policy,
			Log:      log.Named("strategy"),
			Now:      now,
		},
		Executor:      a.Executor,
		Confirmations: control.NewConfirmationQueue(now),
		Machine:       machine,
		Forum:         newReddit(cfg, log),
		Evaluator:     opportunity.DefaultEvaluator(),
		Subreddits:    cfg.Integrations.Reddit.Subreddits,
		PainThreshold: cfg.Integrations.Reddit.PainThreshold,
		Cooldown:      cfg.Cooldown(),
		Log:           log.Named("control"),
		Now:           now,
	}
	planner := strategy.Planner{Log: log.Named("planner")}
	if llm := newLLM(cfg, log); llm != nil {
		ctl.LLM = llm
		planner.LLM = llm
	}
	var sales engine.SalesSource
	if g := newGumroad(cfg, log); g != nil {
		ctl.Sales = g
		sales = g
	}

	a.Dispatcher = &control.Dispatcher{
		Control: ctl,
		Ledger:  events.Ledger{DB: conn, Now: now},
		Bus:     a.Bus,
		Machine: machine,
		Log:     log.Named("dispatcher"),
		Now:     now,
	}
	a.Daily = &scheduler.Daily{
		Repo:     a.Repo,
		Bus:      a.Bus,
		Hour:     cfg.ScanHour,
		Location: loc,
		Log:      log.Named("scheduler"),
		Now:      now,
	}
	a.Strategic = &scheduler.Strategic{
		Handler:    a.Dispatcher,
		Pending:    a.Repo,
		Interval:   cfg.LoopInterval(),
		MaxPending: cfg.Strategy.MaxPendingActions,
		Log:        log.Named("strategic_loop"),
	}
	a.Heartbeat = scheduler.Heartbeat{Bus: a.Bus, Log: log.Named("heartbeat")}

	a.Handler, err = server.New(server.Config{
		Dispatcher:   a.Dispatcher,
		Bus:          a.Bus,
		Autonomy:     a.Policy,
		Planner:      planner,
		Sales:        sales,
		IntegrityTTL: cfg.IntegrityTTL(),
		MaxBodyBytes: cfg.HTTP.MaxRequestBodyBytes,
		Auth: server.AuthConfig{
			APIToken:     cfg.Auth.APIToken,
			JWTSecret:    cfg.Auth.JWTSecret,
			DevMode:      cfg.Auth.DevMode,
			RequireToken: cfg.Auth.RequireToken,
		},
		Version: opts.Version,
		Log:     log,
		Now:     now,
	})
	if err != nil {
		return fail(err)
	}
	return a, nil
}

// restoreMachine starts the conversation state machine from its persisted
// state, or IDLE.
func restoreMachine(ctx context.Context, r repo.Repo, log *zap.Logger) (*statemachine.Machine, error) {
	initial := statemachine.Idle
	v, err := r.GetState(ctx, statemachine.StateKey)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load state machine: %w", err)
	case statemachine.Valid(statemachine.State(v)):
		initial = statemachine.State(v)
	default:
		log.Warn("persisted state ignored", zap.String("state", v))
	}
	return statemachine.New(initial, log.Named("state_machine")), nil
}

func breaker(cfg *config.Config) integrations.BreakerConfig {
	return integrations.BreakerConfig{
		Failures: uint32(max(cfg.Integrations.BreakerFailures, 0)),
		Open:     time.Duration(cfg.Integrations.BreakerOpenSeconds) * time.Second,
	}
}

func newLLM(cfg *config.Config, log *zap.Logger) *integrations.LLM {
	c := cfg.Integrations.LLM
	return integrations.NewLLM(integrations.LLMConfig{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Model:   c.Model,
		Breaker: breaker(cfg),
	}, nil, log)
}

func newGumroad(cfg *config.Config, log *zap.Logger) *integrations.Gumroad {
	c := cfg.Integrations.Gumroad
	return integrations.NewGumroad(integrations.GumroadConfig{
		BaseURL:     c.BaseURL,
		AccessToken: c.AccessToken,
		Breaker:     breaker(cfg),
	}, nil, log)
}

func newReddit(cfg *config.Config, log *zap.Logger) *integrations.Reddit {
	return integrations.NewReddit(integrations.RedditConfig{
		BaseURL: cfg.Integrations.Reddit.BaseURL,
		Breaker: breaker(cfg),
	}, nil, log)
}

func newTasks(cfg *config.Config, log *zap.Logger) *integrations.Tasks {
	c := cfg.Integrations.ExternalTasks
	return integrations.NewTasks(integrations.TasksConfig{
		BaseURL: c.BaseURL,
		Timeout: time.Duration(c.TimeoutSeconds) * time.Second,
		Breaker: breaker(cfg),
	}, nil, log)
}

// Listen opens the configured HTTP address.
func (a *App) Listen() (net.Listener, error) {
	return net.Listen("tcp", a.Config.HTTP.Addr)
}

// Run supervises the bus consumer, the daily scheduler, the strategic loop,
// the heartbeat and, when ln is not nil, the HTTP server. It returns when ctx
// is cancelled or any of them fails.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Dispatcher.Run(ctx, a.Bus) })
	g.Go(func() error { return a.Daily.Run(ctx) })
	g.Go(func() error { return a.Strategic.Run(ctx) })
	g.Go(func() error { return a.Heartbeat.Run(ctx) })

	if ln != nil {
		srv := &http.Server{Handler: a.Handler, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			a.Log.Info("http api listening", zap.String("addr", ln.Addr().String()))
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// Drain handles every queued event inline, including the follow-ups they
// publish, and returns how many were handled. Commands that run without the
// consumer loop use it.
func (a *App) Drain(ctx context.Context) (int, error) {
	handled := 0
	for a.Bus.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		e, ok := a.Bus.Pop(ctx, drainPopTimeout)
		if !ok {
			continue
		}
		_, err := a.Dispatcher.Handle(ctx, e)
		a.Bus.Done(e)
		handled++
		if err != nil {
			a.Log.Warn("event failed", append(e.Trace().Fields(), zap.String("event_type", e.Type), zap.Error(err))...)
		}
	}
	return handled, nil
}

// Close releases the database.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
