package autonomy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"treta/internal/db"
	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/execution"
	"treta/internal/migrate"
	"treta/internal/repo"
)

type recordingBus struct {
	events []events.Event
}

func (b *recordingBus) Push(e events.Event) bool {
	b.events = append(b.events, e)
	return true
}

func (b *recordingBus) count(typ string) int {
	n := 0
	for _, e := range b.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn, Now: func() time.Time { return testNow }}
}

func newTestPolicy(t *testing.T, r repo.Repo, opts Options, log *zap.Logger) (*Policy, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	layer := execution.Layer{
		Repo:     r,
		Registry: execution.NewRegistry(execution.Playbook{}),
		Bus:      bus,
		Log:      zap.NewNop(),
		Now:      func() time.Time { return testNow },
	}
	if log == nil {
		log = zap.NewNop()
	}
	p, err := New(context.Background(), r, layer, bus, opts, log)
	require.NoError(t, err)
	p.SetClock(func() time.Time { return testNow })
	return p, bus
}

func seedAction(t *testing.T, r repo.Repo, n int, risk string, impact int) {
	t.Helper()
	require.NoError(t, r.UpsertStrategyAction(context.Background(), domain.StrategyAction{
		ID:                  fmt.Sprintf("action-%06d", n),
		Type:                domain.ActionScale,
		TargetID:            fmt.Sprintf("launch-%d", n),
		Reasoning:           "Launch has 5 sales, which meets the scale threshold.",
		Status:              domain.ActionPendingConfirmation,
		CreatedAt:           testNow.Add(time.Duration(n) * time.Minute).Format(time.RFC3339),
		RiskLevel:           risk,
		ExpectedImpactScore: impact,
		AutoExecutable:      risk == domain.RiskLow,
	}))
}

func countDecisions(t *testing.T, r repo.Repo, decision string) int {
	t.Helper()
	logs, err := r.ListDecisionLogs(context.Background(), 100, domain.DecisionTypeAutonomy)
	require.NoError(t, err)
	n := 0
	for _, l := range logs {
		if l.Decision == decision {
			n++
		}
	}
	return n
}

func TestApplyExecutesUpToDailyBudget(t *testing.T) {
	r := newTestRepo(t)
	for i := 1; i <= 4; i++ {
		seedAction(t, r, i, domain.RiskLow, 8)
	}
	p, bus := newTestPolicy(t, r, Options{Mode: ModePartial, MaxAutoExecutionsPer24h: 3}, nil)
	ctx := context.Background()

	executed, err := p.Apply(ctx)
	require.NoError(t, err)
	require.Len(t, executed, 3)
	assert.Equal(t, []string{"action-000001", "action-000002", "action-000003"},
		[]string{executed[0].ID, executed[1].ID, executed[2].ID})
	for _, a := range executed {
		assert.Equal(t, domain.ActionAutoExecuted, a.Status)
	}
	assert.Equal(t, 3, bus.count(events.AutonomyActionAutoExecuted))
	assert.Equal(t, 3, countDecisions(t, r, domain.DecisionAllow))

	pending, err := r.ListStrategyActions(ctx, domain.ActionPendingConfirmation)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "action-000004", pending[0].ID)

	again, err := p.Apply(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, 1, countDecisions(t, r, domain.DecisionDeny))
}

func TestApplySkipsHighRiskAndLowImpact(t *testing.T) {
	r := newTestRepo(t)
	seedAction(t, r, 1, domain.RiskMedium, 9)
	seedAction(t, r, 2, domain.RiskLow, 5)
	seedAction(t, r, 3, domain.RiskLow, 6)
	p, _ := newTestPolicy(t, r, Options{Mode: ModePartial}, nil)

	executed, err := p.Apply(context.Background())
	require.NoError(t, err)
	require.Len(t, executed, 1)
	assert.Equal(t, "action-000003", executed[0].ID)
}

func TestApplyInManualModeOnlyLogs(t *testing.T) {
	r := newTestRepo(t)
	seedAction(t, r, 1, domain.RiskLow, 8)
	p, bus := newTestPolicy(t, r, Options{Mode: "whatever"}, nil)
	assert.Equal(t, ModeManual, p.Mode())

	executed, err := p.Apply(context.Background())
	require.NoError(t, err)
	assert.Empty(t, executed)
	assert.Empty(t, bus.events)
	assert.Equal(t, 1, countDecisions(t, r, domain.DecisionManual))
}

func TestRecordOutcomeKeepsBounds(t *testing.T) {
	r := newTestRepo(t)
	p, _ := newTestPolicy(t, r, Options{}, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		st, err := p.RecordOutcome(ctx, 500)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, st.ImpactThreshold, MinImpactThreshold)
		assert.LessOrEqual(t, st.MaxAutoExecutionsPer24h, MaxAutoExecutions)
	}
	st := p.AdaptiveStatus()
	assert.Equal(t, MinImpactThreshold, st.ImpactThreshold)
	assert.Equal(t, MaxAutoExecutions, st.MaxAutoExecutionsPer24h)
	assert.Equal(t, 1.0, st.SuccessRate)

	for i := 0; i < 300; i++ {
		_, err := p.RecordOutcome(ctx, -50)
		require.NoError(t, err)
	}
	st = p.AdaptiveStatus()
	assert.Equal(t, MaxImpactThreshold, st.ImpactThreshold)
	assert.Equal(t, MinAutoExecutions, st.MaxAutoExecutionsPer24h)
	assert.Len(t, p.TrackedMetrics().RevenueDeltaPerAction, deltaHistory)

	reloaded, _ := newTestPolicy(t, r, Options{}, nil)
	assert.Equal(t, st, reloaded.AdaptiveStatus())
}

func TestLegacyStateImportedOnce(t *testing.T) {
	r := newTestRepo(t)
	path := filepath.Join(t.TempDir(), "adaptive_policy_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"impact_threshold":12,"max_auto_executions_per_24h":2,
"total_auto_executed_actions":4,"successful_actions":9,"strategy_weights":{"scale":9}}`), 0o644))

	p, _ := newTestPolicy(t, r, Options{LegacyStatePath: path}, nil)
	st := p.AdaptiveStatus()
	assert.Equal(t, MaxImpactThreshold, st.ImpactThreshold)
	assert.Equal(t, 2, st.MaxAutoExecutionsPer24h)
	assert.Equal(t, MaxStrategyWeight, st.StrategyWeights[domain.ActionScale])
	assert.Equal(t, 1.0, st.StrategyWeights[domain.ActionReview])
	assert.Equal(t, 4, p.TrackedMetrics().SuccessfulActions)

	require.NoError(t, os.WriteFile(path, []byte(`{"impact_threshold":4}`), 0o644))
	again, _ := newTestPolicy(t, r, Options{LegacyStatePath: path}, nil)
	assert.Equal(t, MaxImpactThreshold, again.AdaptiveStatus().ImpactThreshold)
}

func TestRefreshStrategyWeights(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		require.NoError(t, r.RecordDecisionOutcome(ctx, domain.StrategyAction{ID: fmt.Sprintf("s-%d", i), Type: domain.ActionScale}, "success", 50, 2))
		require.NoError(t, r.RecordDecisionOutcome(ctx, domain.StrategyAction{ID: fmt.Sprintf("r-%d", i), Type: domain.ActionReview}, "failed", 0, 5))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, r.RecordDecisionOutcome(ctx, domain.StrategyAction{ID: fmt.Sprintf("p-%d", i), Type: domain.ActionPriceTest}, "success", 90, 2))
	}
	core, logs := observer.New(zap.InfoLevel)
	p, _ := newTestPolicy(t, r, Options{}, zap.New(core))

	w, err := p.StrategyWeights(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.3, w[domain.ActionScale], 1e-9)
	assert.InDelta(t, 0.7, w[domain.ActionReview], 1e-9)
	assert.Equal(t, 1.0, w[domain.ActionPriceTest])

	for i := 0; i < 4; i++ {
		w, err = p.RefreshStrategyWeights(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, MinStrategyWeight, w[domain.ActionReview])
	assert.NotZero(t, logs.FilterMessage("adaptive strategy weight clamped").Len())
}
