package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"treta/internal/domain"
)

const strategyActionColumns = `id,type,target_id,reasoning,status,created_at,executed_at,sales,risk_level,
expected_impact_score,auto_executable,decision_id,event_id,trace_id,revenue_delta`

func scanStrategyAction(row rowScanner) (domain.StrategyAction, error) {
	var (
		a                                      domain.StrategyAction
		executedAt, decisionID, eventID, trace sql.NullString
		sales                                  sql.NullInt64
		revenueDelta                           sql.NullFloat64
		autoExec                               int
	)
	err := row.Scan(&a.ID, &a.Type, &a.TargetID, &a.Reasoning, &a.Status, &a.CreatedAt, &executedAt, &sales, &a.RiskLevel,
		&a.ExpectedImpactScore, &autoExec, &decisionID, &eventID, &trace, &revenueDelta)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.ExecutedAt = stringPtr(executedAt)
	a.DecisionID = stringPtr(decisionID)
	a.EventID = stringPtr(eventID)
	a.TraceID = stringPtr(trace)
	a.AutoExecutable = autoExec == 1
	if sales.Valid {
		n := int(sales.Int64)
		a.Sales = &n
	}
	if revenueDelta.Valid {
		v := revenueDelta.Float64
		a.RevenueDelta = &v
	}
	return a, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertStrategyAction inserts or fully replaces an action row.
func (r Repo) UpsertStrategyAction(ctx context.Context, a domain.StrategyAction) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO strategy_actions(`+strategyActionColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET type=excluded.type, target_id=excluded.target_id, reasoning=excluded.reasoning,
status=excluded.status, executed_at=excluded.executed_at, sales=excluded.sales, risk_level=excluded.risk_level,
expected_impact_score=excluded.expected_impact_score, auto_executable=excluded.auto_executable,
decision_id=excluded.decision_id, event_id=excluded.event_id, trace_id=excluded.trace_id, revenue_delta=excluded.revenue_delta`,
		a.ID, a.Type, a.TargetID, a.Reasoning, a.Status, CanonicalTime(a.CreatedAt), nullableStringPtr(canonicalTimePtr(a.ExecutedAt)), nullableIntPtr(a.Sales),
		a.RiskLevel, a.ExpectedImpactScore, boolInt(a.AutoExecutable), nullableStringPtr(a.DecisionID),
		nullableStringPtr(a.EventID), nullableStringPtr(a.TraceID), nullableFloatPtr(a.RevenueDelta))
	return err
}

func (r Repo) GetStrategyAction(ctx context.Context, id string) (domain.StrategyAction, error) {
	return scanStrategyAction(r.DB.QueryRowContext(ctx, `SELECT `+strategyActionColumns+` FROM strategy_actions WHERE id=?`, id))
}

// ListStrategyActions returns actions ordered by (created_at, id), optionally by status.
func (r Repo) ListStrategyActions(ctx context.Context, status string) ([]domain.StrategyAction, error) {
	query := `SELECT ` + strategyActionColumns + ` FROM strategy_actions`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.StrategyAction{}
	for rows.Next() {
		a, err := scanStrategyAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// FindPendingAction looks up a pending action by its dedup key.
func (r Repo) FindPendingAction(ctx context.Context, actionType, targetID, reasoning string) (domain.StrategyAction, error) {
	return scanStrategyAction(r.DB.QueryRowContext(ctx, `SELECT `+strategyActionColumns+` FROM strategy_actions
WHERE type=? AND target_id=? AND reasoning=? AND status=? ORDER BY created_at, id LIMIT 1`,
		actionType, targetID, reasoning, domain.ActionPendingConfirmation))
}

func (r Repo) CountStrategyActions(ctx context.Context, status string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM strategy_actions WHERE status=?`, status).Scan(&n)
	return n, err
}

// CountAutoExecutedSince counts auto-executed actions with executed_at >= since.
// Both sides are compared as UTC instants, whatever offset or precision the
// stored value carries.
func (r Repo) CountAutoExecutedSince(ctx context.Context, since string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM strategy_actions WHERE status=? AND executed_at IS NOT NULL
AND strftime('%Y-%m-%dT%H:%M:%SZ', executed_at) >= ?`,
		domain.ActionAutoExecuted, CanonicalTime(since)).Scan(&n)
	return n, err
}

// NextActionID returns the next sequential action-NNNNNN id.
func (r Repo) NextActionID(ctx context.Context) (string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM strategy_actions WHERE id LIKE 'action-%'`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	maxN := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		var n int
		if _, err := fmt.Sscanf(strings.TrimPrefix(id, "action-"), "%d", &n); err == nil && n > maxN {
			maxN = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("action-%06d", maxN+1), nil
}

// RecordDecisionOutcome upserts the outcome of a finished action.
func (r Repo) RecordDecisionOutcome(ctx context.Context, a domain.StrategyAction, outcome string, revenueDelta, predictedRisk float64) error {
	now := r.now()
	_, err := r.DB.ExecContext(ctx, `INSERT INTO decision_outcomes(action_id,action_type,decision_id,outcome,revenue_delta,predicted_risk,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(action_id) DO UPDATE SET outcome=excluded.outcome, revenue_delta=excluded.revenue_delta,
predicted_risk=excluded.predicted_risk, updated_at=excluded.updated_at`,
		a.ID, a.Type, nullableStringPtr(a.DecisionID), outcome, revenueDelta, predictedRisk, now, now)
	return err
}

// StrategyPerformance aggregates decision outcomes per action type.
// score = avg_revenue * success_rate * (1 - avg_predicted_risk/10).
func (r Repo) StrategyPerformance(ctx context.Context) (map[string]domain.StrategyPerformance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT action_type, COUNT(*), AVG(revenue_delta),
AVG(CASE WHEN outcome='success' THEN 1.0 ELSE 0.0 END), AVG(predicted_risk)
FROM decision_outcomes GROUP BY action_type ORDER BY action_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.StrategyPerformance{}
	for rows.Next() {
		var p domain.StrategyPerformance
		if err := rows.Scan(&p.ActionType, &p.TotalDecisions, &p.AvgRevenue, &p.SuccessRate, &p.AvgPredictedRisk); err != nil {
			return nil, err
		}
		p.Score = p.AvgRevenue * p.SuccessRate * (1 - p.AvgPredictedRisk/10)
		res[p.ActionType] = p
	}
	return res, rows.Err()
}
