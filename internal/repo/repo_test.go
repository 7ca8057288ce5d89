package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treta/internal/db"
	"treta/internal/domain"
	"treta/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return Repo{DB: conn, Now: func() time.Time { return now }}
}

func TestStateAndOverrides(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.GetState(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, r.SetState(ctx, "k", "v1"))
	require.NoError(t, r.SetState(ctx, "k", "v2"))
	v, err := r.GetState(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	var out map[string]int
	ok, err := r.GetOverride(ctx, "limits", &out)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.SetOverride(ctx, "limits", map[string]int{"max": 3}))
	ok, err = r.GetOverride(ctx, "limits", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, out["max"])
}

func TestDecisionLogRedactsSensitiveKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id, err := r.CreateDecisionLog(ctx, DecisionLogInput{
		DecisionType: domain.DecisionTypeAutonomy,
		Decision:     domain.DecisionAllow,
		PolicyName:   "AutonomyPolicyEngine",
		Inputs: map[string]any{
			"token":  "abc",
			"nested": map[string]any{"API_KEY": "k", "keep": 1},
			"list":   []any{map[string]any{"authorization": "Bearer x"}},
		},
		Outputs:       map[string]any{"secret": []string{"a"}, "ok": true},
		CorrelationID: "req-1",
	})
	require.NoError(t, err)

	got, err := r.GetDecisionLog(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, redacted, got.Inputs["token"])
	nested := got.Inputs["nested"].(map[string]any)
	assert.Equal(t, redacted, nested["API_KEY"])
	assert.Equal(t, 1.0, nested["keep"])
	item := got.Inputs["list"].([]any)[0].(map[string]any)
	assert.Equal(t, redacted, item["authorization"])
	assert.Equal(t, redacted, got.Outputs["secret"])
	assert.Equal(t, true, got.Outputs["ok"])
	assert.Equal(t, domain.LogRecorded, got.Status)
	assert.Equal(t, "req-1", got.CorrelationID)
}

func TestDecisionLogStatusUpdateAndListing(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for _, typ := range []string{domain.DecisionTypeAutonomy, domain.DecisionTypeStrategyAction, domain.DecisionTypeAutonomy} {
		_, err := r.CreateDecisionLog(ctx, DecisionLogInput{DecisionType: typ, Decision: domain.DecisionRecord, PolicyName: "p", EntityType: "strategy_action", EntityID: "action-000001"})
		require.NoError(t, err)
	}
	logs, err := r.ListDecisionLogs(ctx, 10, domain.DecisionTypeAutonomy)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Greater(t, logs[0].ID, logs[1].ID)

	require.NoError(t, r.UpdateDecisionLogStatus(ctx, logs[0].ID, domain.LogSkipped, "boom"))
	got, err := r.GetDecisionLog(ctx, logs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LogSkipped, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)

	assert.ErrorIs(t, r.UpdateDecisionLogStatus(ctx, 999, domain.LogSkipped, ""), ErrNotFound)

	forEntity, err := r.DecisionLogsForEntity(ctx, "strategy_action", "action-000001", 0)
	require.NoError(t, err)
	assert.Len(t, forEntity, 1, "limit clamps to at least one row")

	_, err = r.CreateDecisionLog(ctx, DecisionLogInput{DecisionType: domain.DecisionTypeAutonomy})
	assert.Error(t, err)
}

func TestStrategyActionsLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	id, err := r.NextActionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "action-000001", id)

	sales := 5
	a := domain.StrategyAction{ID: id, Type: domain.ActionScale, TargetID: "launch-1", Reasoning: "r", Status: domain.ActionPendingConfirmation,
		CreatedAt: "2026-05-01T10:00:00Z", Sales: &sales, RiskLevel: domain.RiskLow, ExpectedImpactScore: 8, AutoExecutable: true}
	require.NoError(t, r.UpsertStrategyAction(ctx, a))

	next, err := r.NextActionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "action-000002", next)

	found, err := r.FindPendingAction(ctx, domain.ActionScale, "launch-1", "r")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
	require.NotNil(t, found.Sales)
	assert.Equal(t, 5, *found.Sales)
	assert.True(t, found.AutoExecutable)

	executedAt := "2026-05-01T09:00:00Z"
	a.Status = domain.ActionAutoExecuted
	a.ExecutedAt = &executedAt
	require.NoError(t, r.UpsertStrategyAction(ctx, a))
	_, err = r.FindPendingAction(ctx, domain.ActionScale, "launch-1", "r")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := r.CountAutoExecutedSince(ctx, "2026-04-30T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.CountAutoExecutedSince(ctx, "2026-05-01T09:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAutoExecutionBudgetComparesInstants(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	since := "2026-05-01T09:00:00Z"

	// Rows written before timestamps were normalized keep their original form.
	for id, executedAt := range map[string]string{
		"action-000001": "2026-05-01T10:30:00+02:00",   // 08:30Z, outside
		"action-000002": "2026-05-01T04:30:00-05:00",   // 09:30Z, inside
		"action-000003": "2026-05-01T09:00:00.250000Z", // inside
	} {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO strategy_actions(`+strategyActionColumns+`)
VALUES (?,?,?,?,?,?,?,NULL,?,?,1,NULL,NULL,NULL,NULL)`,
			id, domain.ActionScale, "launch-"+id, "r", domain.ActionAutoExecuted, "2026-05-01T00:00:00Z", executedAt, domain.RiskLow, 8)
		require.NoError(t, err)
	}
	n, err := r.CountAutoExecutedSince(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The import path stores the canonical form.
	path := filepath.Join(t.TempDir(), "strategy_actions.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"action-000010","type":"scale","target_id":"launch-9","reasoning":"r",
"status":"auto_executed","created_at":"2026-05-01T01:00:00.5+01:00","executed_at":"2026-05-01T11:15:00+02:00"}]`), 0o644))
	_, err = r.ImportLegacyActions(ctx, path, nil)
	require.NoError(t, err)
	a, err := r.GetStrategyAction(ctx, "action-000010")
	require.NoError(t, err)
	assert.Equal(t, "2026-05-01T00:00:00Z", a.CreatedAt)
	require.NotNil(t, a.ExecutedAt)
	assert.Equal(t, "2026-05-01T09:15:00Z", *a.ExecutedAt)
	n, err = r.CountAutoExecutedSince(ctx, "2026-05-01T11:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCanonicalTime(t *testing.T) {
	assert.Equal(t, "2026-05-01T08:30:00Z", CanonicalTime("2026-05-01T10:30:00+02:00"))
	assert.Equal(t, "2026-05-01T09:00:00Z", CanonicalTime("2026-05-01T09:00:00.123456Z"))
	assert.Equal(t, "2026-05-01T09:00:00Z", CanonicalTime("2026-05-01T09:00:00.123456"))
	assert.Equal(t, "2026-05-01T09:00:00Z", CanonicalTime("2026-05-01 09:00:00"))
	assert.Equal(t, "not a time", CanonicalTime("not a time"))
}

func TestStrategyPerformance(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for i, rev := range []float64{10, 0, 20} {
		outcome := "neutral"
		if rev > 0 {
			outcome = "success"
		}
		a := domain.StrategyAction{ID: "action-" + string(rune('a'+i)), Type: domain.ActionScale}
		require.NoError(t, r.RecordDecisionOutcome(ctx, a, outcome, rev, 2))
	}
	perf, err := r.StrategyPerformance(ctx)
	require.NoError(t, err)
	p := perf[domain.ActionScale]
	assert.Equal(t, 3, p.TotalDecisions)
	assert.InDelta(t, 10, p.AvgRevenue, 1e-9)
	assert.InDelta(t, 2.0/3.0, p.SuccessRate, 1e-9)
	assert.InDelta(t, 10*(2.0/3.0)*0.8, p.Score, 1e-9)
}

func TestExecutionsAtMostOneInFlight(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	in := ExecutionInput{ActionID: "action-000001", ActionType: domain.ActionScale, Executor: "playbook_executor", RequestID: "req", Input: map[string]any{"token": "x"}}

	id, err := r.CreateQueuedExecution(ctx, in)
	require.NoError(t, err)
	_, err = r.CreateQueuedExecution(ctx, in)
	assert.ErrorIs(t, err, ErrExecutionInFlight)

	require.NoError(t, r.MarkExecutionRunning(ctx, id))
	_, err = r.CreateQueuedExecution(ctx, in)
	assert.ErrorIs(t, err, ErrExecutionInFlight)

	assert.Error(t, r.CompleteExecution(ctx, id, domain.ExecutionRunning, nil, ""))
	require.NoError(t, r.CompleteExecution(ctx, id, domain.ExecutionSuccess, map[string]any{"status": "ok"}, ""))
	assert.ErrorIs(t, r.CompleteExecution(ctx, id, domain.ExecutionFailed, nil, ""), ErrNotFound, "terminal rows are final")

	second, err := r.CreateQueuedExecution(ctx, in)
	require.NoError(t, err)
	inflight, err := r.CountInFlight(ctx, in.ActionID)
	require.NoError(t, err)
	assert.Equal(t, 1, inflight)

	latest, err := r.LatestExecution(ctx, in.ActionID)
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)
	assert.Equal(t, domain.ExecutionQueued, latest.Status)

	all, err := r.ListExecutions(ctx, in.ActionID, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ok", all[1].OutputPayload["status"])
}

func TestCompactJSONTrimsLargePayloads(t *testing.T) {
	s := compactJSON(map[string]any{"blob": strings.Repeat("x", 6000)})
	assert.Len(t, s, maxPayloadChars+len("...<trimmed>"))
	assert.True(t, strings.HasSuffix(s, "...<trimmed>"))
	assert.Equal(t, map[string]any{"raw": s}, decodePayload(s))
}

func TestReapStaleExecutions(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id, err := r.CreateQueuedExecution(ctx, ExecutionInput{ActionID: "a1", ActionType: domain.ActionReview, Executor: "x"})
	require.NoError(t, err)
	n, err := r.ReapStaleExecutions(ctx, "a1", "2026-05-01T10:00:01Z")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	e, err := r.GetExecution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailedTimeout, e.Status)
	failures, err := r.CountRecentFailures(ctx, "a1", "2026-05-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 1, failures)
}

func TestAdaptiveStateVersioning(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	_, _, err := r.LoadAdaptiveState(ctx, GlobalScope)
	assert.ErrorIs(t, err, ErrNotFound)

	st := domain.AdaptivePolicyState{ImpactThreshold: 6, MaxAutoExecutionsPer24h: 3, StrategyWeights: map[string]float64{"scale": 1}}
	require.NoError(t, r.SaveAdaptiveState(ctx, GlobalScope, st))
	st.ImpactThreshold = 5
	require.NoError(t, r.SaveAdaptiveState(ctx, GlobalScope, st))

	got, version, err := r.LoadAdaptiveState(ctx, GlobalScope)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, 5, got.ImpactThreshold)
}

func TestImportLegacyActionsRunsOnce(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "strategy_actions.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"action-000007","type":"review","target_id":"launch-1","reasoning":"stalled","created_at":"2026-04-01T00:00:00Z"}]`), 0o644))

	n, err := r.ImportLegacyActions(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	a, err := r.GetStrategyAction(ctx, "action-000007")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionPendingConfirmation, a.Status)

	n, err = r.ImportLegacyActions(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	next, err := r.NextActionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "action-000008", next)
}

func TestProcessedDecisions(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seen, err := r.IsDecisionProcessed(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, r.MarkDecisionProcessed(ctx, "d1", "strategy_decision", "hash", "processed"))
	require.NoError(t, r.MarkDecisionProcessed(ctx, "d1", "strategy_decision", "hash", "processed"))
	seen, err = r.IsDecisionProcessed(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRepoSurfacesDriverErrors(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	r := Repo{DB: conn}
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO action_executions").WillReturnError(errors.New("UNIQUE constraint failed: action_executions.action_id"))
	_, err = r.CreateQueuedExecution(ctx, ExecutionInput{ActionID: "a", ActionType: "scale", Executor: "x"})
	assert.ErrorIs(t, err, ErrExecutionInFlight)

	mock.ExpectExec("INSERT INTO action_executions").WillReturnError(errors.New("disk I/O error"))
	_, err = r.CreateQueuedExecution(ctx, ExecutionInput{ActionID: "a", ActionType: "scale", Executor: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExecutionInFlight)

	mock.ExpectQuery("SELECT value FROM state").WillReturnError(errors.New("database is locked"))
	_, err = r.GetState(ctx, "k")
	assert.EqualError(t, err, "database is locked")

	mock.ExpectExec("UPDATE decision_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, r.UpdateDecisionLogStatus(ctx, 1, domain.LogExecuted, ""), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
