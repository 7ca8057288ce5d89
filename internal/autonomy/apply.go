package autonomy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/execution"
	"treta/internal/repo"
)

const (
	PolicyName = "AutonomyPolicyEngine"

	eventSource = "autonomy_policy_engine"
)

// ActionExecutor runs one pending action to the requested status.
type ActionExecutor interface {
	Execute(ctx context.Context, actionID, status string) (execution.Outcome, error)
}

// Publisher receives AutonomyActionAutoExecuted events.
type Publisher interface {
	Push(e events.Event) bool
}

// Report is the operator view of the autonomy policy.
type Report struct {
	Mode                  string `json:"mode" enum:"manual,partial,disabled"`
	AutoExecutedLast24h   int    `json:"auto_executed_last_24h"`
	PendingLowRiskActions int    `json:"pending_low_risk_actions"`
	RemainingBudget       int    `json:"remaining_budget"`
	Status
}

func (p *Policy) since24h() string {
	return p.now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
}

func (p *Policy) eligible(ctx context.Context, threshold int) ([]domain.StrategyAction, error) {
	pending, err := p.repo.ListStrategyActions(ctx, domain.ActionPendingConfirmation)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	out := make([]domain.StrategyAction, 0, len(pending))
	for _, a := range pending {
		if a.RiskLevel == domain.RiskLow && a.ExpectedImpactScore >= threshold {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Report summarizes mode, budget use and eligible actions.
func (p *Policy) Report(ctx context.Context) (Report, error) {
	st := p.AdaptiveStatus()
	used, err := p.repo.CountAutoExecutedSince(ctx, p.since24h())
	if err != nil {
		return Report{}, fmt.Errorf("count auto executions: %w", err)
	}
	eligible, err := p.eligible(ctx, st.ImpactThreshold)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Mode:                  p.mode,
		AutoExecutedLast24h:   used,
		PendingLowRiskActions: len(eligible),
		RemainingBudget:       max(st.MaxAutoExecutionsPer24h-used, 0),
		Status:                st,
	}, nil
}

// Apply auto-executes eligible pending actions up to the remaining daily
// budget. Outside partial mode nothing runs.
func (p *Policy) Apply(ctx context.Context) ([]domain.StrategyAction, error) {
	executed := []domain.StrategyAction{}
	fields := events.TraceFields(ctx)
	st := p.AdaptiveStatus()
	snapshot := map[string]any{
		"mode":                        p.mode,
		"impact_threshold":            st.ImpactThreshold,
		"max_auto_executions_per_24h": st.MaxAutoExecutionsPer24h,
	}

	if p.mode != ModePartial {
		p.log.Debug("autonomy pass skipped: manual mode", fields...)
		return executed, p.logDecision(ctx, repo.DecisionLogInput{
			EntityType:     "portfolio",
			EntityID:       "global",
			Decision:       domain.DecisionManual,
			PolicySnapshot: snapshot,
			Inputs:         map[string]any{"mode": p.mode},
			Reason:         fmt.Sprintf("Autonomy mode is %s; auto-execution is off.", p.mode),
			Status:         domain.LogSkipped,
		})
	}

	used, err := p.repo.CountAutoExecutedSince(ctx, p.since24h())
	if err != nil {
		return executed, fmt.Errorf("count auto executions: %w", err)
	}
	budget := st.MaxAutoExecutionsPer24h - used
	if budget <= 0 {
		p.log.Info("autonomy pass skipped: daily budget spent", append(fields, zap.Int("used", used))...)
		return executed, p.logDecision(ctx, repo.DecisionLogInput{
			EntityType:     "portfolio",
			EntityID:       "global",
			Decision:       domain.DecisionDeny,
			PolicySnapshot: snapshot,
			Inputs:         map[string]any{"auto_executed_last_24h": used},
			Reason:         fmt.Sprintf("Daily auto-execution budget spent (%d/%d).", used, st.MaxAutoExecutionsPer24h),
			Status:         domain.LogSkipped,
		})
	}

	eligible, err := p.eligible(ctx, st.ImpactThreshold)
	if err != nil {
		return executed, err
	}
	if len(eligible) > budget {
		eligible = eligible[:budget]
	}
	for _, a := range eligible {
		out, err := p.exec.Execute(ctx, a.ID, domain.ActionAutoExecuted)
		if err != nil {
			p.log.Warn("auto-execution failed", append(fields, zap.String("action_id", a.ID), zap.Error(err))...)
			continue
		}
		if out.Status != domain.ExecutionSuccess {
			p.log.Warn("auto-execution did not succeed", append(fields,
				zap.String("action_id", a.ID), zap.String("status", out.Status), zap.String("reason", out.Reason))...)
			continue
		}
		delta := 0.0
		if a.RevenueDelta != nil {
			delta = *a.RevenueDelta
		}
		if _, err := p.RecordOutcome(ctx, delta); err != nil {
			return executed, err
		}
		if p.bus != nil {
			trace := events.TraceFrom(ctx)
			p.bus.Push(events.Event{
				Type:          events.AutonomyActionAutoExecuted,
				Payload:       map[string]any{"action": out.Action, "mode": p.mode},
				Source:        eventSource,
				RequestID:     trace.RequestID,
				TraceID:       trace.TraceID,
				ParentEventID: trace.EventID,
				DecisionID:    trace.DecisionID,
			})
		}
		score := float64(a.ExpectedImpactScore)
		if err := p.logDecision(ctx, repo.DecisionLogInput{
			EntityType:     "action",
			EntityID:       a.ID,
			Decision:       domain.DecisionAllow,
			AutonomyScore:  &score,
			PolicySnapshot: snapshot,
			Inputs: map[string]any{
				"action_id":             a.ID,
				"risk_level":            a.RiskLevel,
				"expected_impact_score": a.ExpectedImpactScore,
			},
			Outputs: map[string]any{"action": out.Action, "execution_id": out.ExecutionID},
			Reason:  "Low-risk action auto-executed within the daily budget.",
			Status:  domain.LogExecuted,
		}); err != nil {
			return executed, err
		}
		p.log.Info("action auto-executed", append(fields, zap.String("action_id", a.ID), zap.String("action_type", a.Type))...)
		executed = append(executed, out.Action)
	}
	return executed, nil
}

func (p *Policy) logDecision(ctx context.Context, in repo.DecisionLogInput) error {
	in.DecisionType = domain.DecisionTypeAutonomy
	in.ActionType = "auto_execute"
	in.PolicyName = PolicyName
	in.CorrelationID = events.TraceFrom(ctx).CorrelationID()
	if _, err := p.repo.CreateDecisionLog(ctx, in); err != nil {
		return fmt.Errorf("record autonomy decision: %w", err)
	}
	return nil
}
