package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/product"
	"treta/internal/repo"
	"treta/internal/strategy"
)

// actionApproved turns an approved sales-side opportunity into an action
// plan that still needs operator confirmation.
func (c *Control) actionApproved(_ context.Context, e events.Event) ([]Action, error) {
	plan := product.PlanAction(e.String("type"))
	return []Action{{Type: events.ActionPlanGenerated, Payload: map[string]any{
		"action":   plan.Action,
		"steps":    plan.Steps,
		"priority": plan.Priority,
	}}}, nil
}

func (c *Control) actionPlanGenerated(_ context.Context, e events.Event) ([]Action, error) {
	id := c.Confirmations.Add(e.Payload)
	return []Action{{Type: events.AwaitingConfirmation, Payload: map[string]any{"plan_id": id, "plan": e.Payload}}}, nil
}

func (c *Control) listConfirmations(_ context.Context, _ events.Event) ([]Action, error) {
	return []Action{{Type: events.PendingConfirmationsListed, Payload: map[string]any{"items": c.Confirmations.Pending()}}}, nil
}

func (c *Control) confirmAction(_ context.Context, e events.Event) ([]Action, error) {
	item, ok := c.Confirmations.Approve(e.String("plan_id"))
	if !ok {
		return nil, nil
	}
	return []Action{{Type: events.ActionConfirmed, Payload: map[string]any{"plan_id": item.ID, "plan": item.Plan}}}, nil
}

func (c *Control) rejectAction(_ context.Context, e events.Event) ([]Action, error) {
	item, ok := c.Confirmations.Reject(e.String("plan_id"))
	if !ok {
		return nil, nil
	}
	return []Action{{Type: events.ActionRejected, Payload: map[string]any{"plan_id": item.ID, "plan": item.Plan}}}, nil
}

// cooldownRemaining is the time left before another decision may run. The
// newest recorded decision is the reference; a zero Cooldown disables it.
func (c *Control) cooldownRemaining(ctx context.Context) (time.Duration, error) {
	if c.Cooldown <= 0 {
		return 0, nil
	}
	last, err := c.Repo.LatestDecisionLog(ctx, domain.DecisionTypeStrategyAction, strategy.PolicyName)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest strategy decision: %w", err)
	}
	at, err := time.Parse(time.RFC3339, last.CreatedAt)
	if err != nil {
		return 0, nil
	}
	if elapsed := c.now().Sub(at); elapsed < c.Cooldown {
		return c.Cooldown - elapsed, nil
	}
	return 0, nil
}

// runStrategyDecision runs one decision cycle unless the previous one is too
// recent. Cycles are serialized.
func (c *Control) runStrategyDecision(ctx context.Context, e events.Event) ([]Action, error) {
	c.decideMu.Lock()
	defer c.decideMu.Unlock()

	remaining, err := c.cooldownRemaining(ctx)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		minutes := math.Round(remaining.Minutes()*100) / 100
		c.log().Info("strategy decision skipped: cooldown active", append(events.TraceFields(ctx),
			zap.Duration("cooldown_remaining", remaining))...)
		_, err := c.Repo.CreateDecisionLog(ctx, repo.DecisionLogInput{
			DecisionType: domain.DecisionTypeStrategyAction,
			EntityType:   strategy.PortfolioTarget,
			EntityID:     "global",
			ActionType:   "recommend",
			Decision:     domain.DecisionDeny,
			PolicyName:   CooldownPolicy,
			Outputs: map[string]any{
				"cooldown_remaining_minutes": minutes,
				"cooldown_seconds":           c.Cooldown.Seconds(),
			},
			Reason:        "cooldown_active",
			CorrelationID: events.TraceFrom(ctx).CorrelationID(),
			Status:        domain.LogSkipped,
		})
		if err != nil {
			return nil, fmt.Errorf("record cooldown skip: %w", err)
		}
		return []Action{{Type: events.StrategyDecisionCompleted, Payload: map[string]any{
			"status":                     "skipped",
			"reason":                     "cooldown_active",
			"cooldown_active":            true,
			"cooldown_remaining_minutes": minutes,
		}}}, nil
	}

	res, err := c.Strategy.Run(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := asPayload(res)
	if err != nil {
		return nil, err
	}
	payload["cooldown_active"] = false
	return []Action{{Type: events.StrategyDecisionCompleted, Payload: payload}}, nil
}

// executeStrategyAction hands the action to the execution layer, which
// publishes the outcome itself.
func (c *Control) executeStrategyAction(ctx context.Context, e events.Event) ([]Action, error) {
	status := e.String("status")
	if status == "" {
		status = domain.ActionExecuted
	}
	out, err := c.Executor.Execute(ctx, e.String("action_id"), status)
	if err != nil {
		return nil, err
	}
	c.log().Info("strategy action handled", append(events.TraceFields(ctx),
		zap.String("action_id", out.Action.ID),
		zap.String("status", out.Status))...)
	return nil, nil
}

func asPayload(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
