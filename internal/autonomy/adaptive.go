// Package autonomy holds the adaptive autonomy policy: the persisted
// thresholds and strategy weights, and the auto-execution pass over pending
// low-risk actions.
package autonomy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/jsonstore"
	"treta/internal/logging"
	"treta/internal/repo"
)

const (
	ModeManual   = "manual"
	ModePartial  = "partial"
	ModeDisabled = "disabled"

	DefaultImpactThreshold = 6
	MinImpactThreshold     = 4
	MaxImpactThreshold     = 8

	DefaultMaxAutoExecutions = 3
	MinAutoExecutions        = 1
	MaxAutoExecutions        = 5

	MinStrategyWeight = 0.2
	MaxStrategyWeight = 3.0

	weightSmoothing   = 0.3
	weightEligibility = 8
	deltaHistory      = 200
)

// StrategyTypes carry a weight from the first load on.
var StrategyTypes = []string{
	domain.ActionScale, domain.ActionReview, domain.ActionPriceTest, domain.ActionNewProduct, domain.ActionArchive,
}

// Options configures a Policy.
type Options struct {
	Mode                    string
	ImpactThreshold         int
	MaxAutoExecutionsPer24h int
	// LegacyStatePath is imported once into the database when set.
	LegacyStatePath string
}

// Status is the adaptive part of the policy as reported to operators.
type Status struct {
	SuccessRate             float64            `json:"success_rate"`
	AvgRevenueDelta         float64            `json:"avg_revenue_delta"`
	ImpactThreshold         int                `json:"impact_threshold"`
	MaxAutoExecutionsPer24h int                `json:"max_auto_executions_per_24h"`
	StrategyWeights         map[string]float64 `json:"strategy_weights"`
}

// Metrics are the raw counters behind Status.
type Metrics struct {
	TotalAutoExecutedActions int       `json:"total_auto_executed_actions"`
	SuccessfulActions        int       `json:"successful_actions"`
	RevenueDeltaPerAction    []float64 `json:"revenue_delta_per_action"`
}

// Policy is the adaptive autonomy policy. Its state lives in the
// adaptive_policy_state table under the global scope.
type Policy struct {
	repo  repo.Repo
	exec  ActionExecutor
	bus   Publisher
	log   *zap.Logger
	now   func() time.Time
	mode  string
	mu    sync.Mutex
	state domain.AdaptivePolicyState
}

// NormalizeMode maps unknown modes to manual.
func NormalizeMode(mode string) string {
	switch mode {
	case ModePartial, ModeDisabled:
		return mode
	default:
		return ModeManual
	}
}

// New loads the policy state, importing the legacy JSON file once and
// seeding defaults from opts when nothing is stored.
func New(ctx context.Context, r repo.Repo, exec ActionExecutor, bus Publisher, opts Options, log *zap.Logger) (*Policy, error) {
	p := &Policy{
		repo: r,
		exec: exec,
		bus:  bus,
		log:  logging.OrNop(log),
		now:  time.Now,
		mode: NormalizeMode(opts.Mode),
	}
	if opts.LegacyStatePath != "" {
		if err := p.importLegacy(ctx, opts.LegacyStatePath); err != nil {
			return nil, err
		}
	}
	st, _, err := r.LoadAdaptiveState(ctx, repo.GlobalScope)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		st = domain.AdaptivePolicyState{
			ImpactThreshold:         opts.ImpactThreshold,
			MaxAutoExecutionsPer24h: opts.MaxAutoExecutionsPer24h,
		}
		p.state = normalize(st)
		if err := p.save(ctx); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("load adaptive state: %w", err)
	default:
		p.state = normalize(st)
	}
	return p, nil
}

// SetClock replaces the wall clock; tests use it.
func (p *Policy) SetClock(now func() time.Time) {
	p.now = now
}

func (p *Policy) Mode() string {
	return p.mode
}

func (p *Policy) importLegacy(ctx context.Context, path string) error {
	imported, err := p.repo.ImportOnce(ctx, repo.FlagAdaptiveImported, func() error {
		var st domain.AdaptivePolicyState
		found, err := jsonstore.Read(path, &st, p.log)
		if err != nil || !found {
			return err
		}
		return p.repo.SaveAdaptiveState(ctx, repo.GlobalScope, normalize(st))
	})
	if err != nil {
		return fmt.Errorf("import legacy adaptive state: %w", err)
	}
	if imported {
		p.log.Info("legacy adaptive state import checked", zap.String("path", path))
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func normalize(st domain.AdaptivePolicyState) domain.AdaptivePolicyState {
	if st.ImpactThreshold == 0 {
		st.ImpactThreshold = DefaultImpactThreshold
	}
	if st.MaxAutoExecutionsPer24h == 0 {
		st.MaxAutoExecutionsPer24h = DefaultMaxAutoExecutions
	}
	st.ImpactThreshold = clampInt(st.ImpactThreshold, MinImpactThreshold, MaxImpactThreshold)
	st.MaxAutoExecutionsPer24h = clampInt(st.MaxAutoExecutionsPer24h, MinAutoExecutions, MaxAutoExecutions)
	st.TotalAutoExecutedActions = max(st.TotalAutoExecutedActions, 0)
	st.SuccessfulActions = clampInt(st.SuccessfulActions, 0, st.TotalAutoExecutedActions)
	if n := len(st.RevenueDeltaPerAction); n > deltaHistory {
		st.RevenueDeltaPerAction = st.RevenueDeltaPerAction[n-deltaHistory:]
	}
	st.RevenueDeltaPerAction = append([]float64{}, st.RevenueDeltaPerAction...)

	weights := make(map[string]float64, len(StrategyTypes))
	for _, t := range StrategyTypes {
		weights[t] = 1.0
	}
	for t, w := range st.StrategyWeights {
		weights[t] = clampFloat(w, MinStrategyWeight, MaxStrategyWeight)
	}
	st.StrategyWeights = weights
	return st
}

func (p *Policy) save(ctx context.Context) error {
	if err := p.repo.SaveAdaptiveState(ctx, repo.GlobalScope, p.state); err != nil {
		return fmt.Errorf("save adaptive state: %w", err)
	}
	return nil
}

func successRate(st domain.AdaptivePolicyState) float64 {
	if st.TotalAutoExecutedActions <= 0 {
		return 0
	}
	return float64(st.SuccessfulActions) / float64(st.TotalAutoExecutedActions)
}

func avgDelta(st domain.AdaptivePolicyState) float64 {
	if len(st.RevenueDeltaPerAction) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range st.RevenueDeltaPerAction {
		sum += d
	}
	return sum / float64(len(st.RevenueDeltaPerAction))
}

func (p *Policy) statusLocked() Status {
	weights := make(map[string]float64, len(p.state.StrategyWeights))
	for k, v := range p.state.StrategyWeights {
		weights[k] = v
	}
	return Status{
		SuccessRate:             successRate(p.state),
		AvgRevenueDelta:         avgDelta(p.state),
		ImpactThreshold:         p.state.ImpactThreshold,
		MaxAutoExecutionsPer24h: p.state.MaxAutoExecutionsPer24h,
		StrategyWeights:         weights,
	}
}

// AdaptiveStatus reports the current thresholds, weights and rates.
func (p *Policy) AdaptiveStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Policy) TrackedMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Metrics{
		TotalAutoExecutedActions: p.state.TotalAutoExecutedActions,
		SuccessfulActions:        p.state.SuccessfulActions,
		RevenueDeltaPerAction:    append([]float64{}, p.state.RevenueDeltaPerAction...),
	}
}

// RecordOutcome counts one auto-executed action. A positive delta is a
// success. Thresholds are recomputed and the state is saved.
func (p *Policy) RecordOutcome(ctx context.Context, revenueDelta float64) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.TotalAutoExecutedActions++
	if revenueDelta > 0 {
		p.state.SuccessfulActions++
	}
	p.state.RevenueDeltaPerAction = append(p.state.RevenueDeltaPerAction, revenueDelta)
	if n := len(p.state.RevenueDeltaPerAction); n > deltaHistory {
		p.state.RevenueDeltaPerAction = p.state.RevenueDeltaPerAction[n-deltaHistory:]
	}
	p.recompute()
	return p.statusLocked(), p.save(ctx)
}

func (p *Policy) recompute() {
	threshold := p.state.ImpactThreshold
	switch rate := successRate(p.state); {
	case rate > 0.7:
		threshold--
	case rate < 0.4:
		threshold++
	}
	p.state.ImpactThreshold = clampInt(threshold, MinImpactThreshold, MaxImpactThreshold)

	budget := p.state.MaxAutoExecutionsPer24h
	switch avg := avgDelta(p.state); {
	case avg > 100:
		budget++
	case avg < 0:
		budget--
	}
	p.state.MaxAutoExecutionsPer24h = clampInt(budget, MinAutoExecutions, MaxAutoExecutions)
}

// StrategyWeights refreshes the weights from recorded decision outcomes and
// returns them.
func (p *Policy) StrategyWeights(ctx context.Context) (map[string]float64, error) {
	return p.RefreshStrategyWeights(ctx)
}

// RefreshStrategyWeights moves the weight of every type with enough decisions
// toward its normalized score plus success rate, smoothed and clamped.
func (p *Policy) RefreshStrategyWeights(ctx context.Context) (map[string]float64, error) {
	perf, err := p.repo.StrategyPerformance(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy performance: %w", err)
	}
	eligible := make([]domain.StrategyPerformance, 0, len(perf))
	for _, m := range perf {
		if m.TotalDecisions >= weightEligibility {
			eligible = append(eligible, m)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(eligible) == 0 {
		return p.statusLocked().StrategyWeights, nil
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Score != eligible[j].Score {
			return eligible[i].Score > eligible[j].Score
		}
		return eligible[i].ActionType < eligible[j].ActionType
	})
	maxScore := eligible[0].Score

	for _, m := range eligible {
		norm := 0.0
		if maxScore > 0 {
			norm = m.Score / maxScore
		}
		old, ok := p.state.StrategyWeights[m.ActionType]
		if !ok {
			old = 1.0
		}
		raw := old*(1-weightSmoothing) + (norm+m.SuccessRate)*weightSmoothing
		w := clampFloat(raw, MinStrategyWeight, MaxStrategyWeight)
		if w != raw {
			p.log.Info("adaptive strategy weight clamped",
				zap.String("strategy_type", m.ActionType),
				zap.Float64("old_weight", old),
				zap.Float64("raw_new_weight", raw),
				zap.Float64("clamped_weight", w))
		}
		p.log.Info("adaptive strategy weight updated",
			zap.String("strategy_type", m.ActionType),
			zap.Float64("old_weight", old),
			zap.Float64("new_weight", w),
			zap.Float64("score", m.Score))
		p.state.StrategyWeights[m.ActionType] = w
	}
	if err := p.save(ctx); err != nil {
		return nil, err
	}
	return p.statusLocked().StrategyWeights, nil
}
