package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/logging"
	"treta/internal/repo"
)

const (
	PolicyName = "StrategyDecisionEngine"

	StatusExecuted  = "executed"
	StatusDuplicate = "duplicate"

	decisionKind = "strategy_decision"
)

// WeightSource supplies the adaptive per-type strategy weights.
type WeightSource interface {
	StrategyWeights(ctx context.Context) (map[string]float64, error)
}

// AutoExecutor runs the auto-execution pass over pending actions.
type AutoExecutor interface {
	Apply(ctx context.Context) ([]domain.StrategyAction, error)
}

// Orchestrator runs one decision cycle: decide, log, register pending actions,
// hand over to the autonomy pass and mark the decision processed.
type Orchestrator struct {
	Repo     repo.Repo
	Launches func() []domain.ProductLaunch
	Weights  WeightSource
	Autonomy AutoExecutor
	Log      *zap.Logger
	Now      func() time.Time
}

type ResultContext struct {
	TotalSales   int     `json:"total_sales"`
	TotalRevenue float64 `json:"total_revenue"`
}

// Result is what a decision cycle reports back.
type Result struct {
	DecisionID    string                  `json:"decision_id"`
	CreatedAt     string                  `json:"created_at" format:"date-time"`
	Status        string                  `json:"status" enum:"executed,duplicate"`
	PriorityLevel string                  `json:"priority_level"`
	PrimaryFocus  string                  `json:"primary_focus"`
	Actions       []Recommendation        `json:"actions"`
	Registered    []domain.StrategyAction `json:"registered_actions"`
	AutoExecuted  []domain.StrategyAction `json:"auto_executed_actions"`
	RiskFlags     []string                `json:"risk_flags"`
	Confidence    int                     `json:"confidence"`
	Context       ResultContext           `json:"context"`
}

// DecisionID derives the decision id from the triggering event so a replayed
// event maps onto the same decision.
func DecisionID(eventID string) string {
	if eventID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(decisionKind+":"+eventID)).String()
}

func (o Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now().UTC()
	}
	return o.Now().UTC()
}

// Plan runs the decision rules without recording anything.
func (o Orchestrator) Plan(ctx context.Context) Plan {
	return Decide(o.Launches(), o.weights(ctx), o.now())
}

// Run executes one decision cycle for the trace in ctx.
func (o Orchestrator) Run(ctx context.Context) (Result, error) {
	log := logging.OrNop(o.Log)
	trace := events.TraceFrom(ctx)
	plan := o.Plan(ctx)

	res := Result{
		DecisionID:    DecisionID(trace.EventID),
		CreatedAt:     o.now().Format(time.RFC3339),
		Status:        StatusExecuted,
		PriorityLevel: plan.PriorityLevel,
		PrimaryFocus:  plan.PrimaryFocus,
		Actions:       plan.Actions,
		Registered:    []domain.StrategyAction{},
		AutoExecuted:  []domain.StrategyAction{},
		RiskFlags:     plan.RiskFlags,
		Confidence:    plan.Confidence,
		Context:       ResultContext{TotalSales: plan.TotalSales, TotalRevenue: plan.TotalRevenue},
	}
	fields := append(events.TraceFields(ctx), zap.String("decision_id", res.DecisionID))

	done, err := o.Repo.IsDecisionProcessed(ctx, res.DecisionID)
	if err != nil {
		return res, fmt.Errorf("check decision: %w", err)
	}
	if done {
		res.Status = StatusDuplicate
		log.Info("strategy decision already processed", fields...)
		return res, nil
	}

	trace.DecisionID = res.DecisionID
	ctx = events.WithTrace(ctx, trace)
	if err := o.record(ctx, res, plan); err != nil {
		return res, err
	}
	registered, err := o.Register(ctx, plan.Actions, res.DecisionID)
	if err != nil {
		return res, err
	}
	res.Registered = registered

	if len(plan.Actions) > 0 && o.Autonomy != nil {
		executed, err := o.Autonomy.Apply(ctx)
		if err != nil {
			log.Error("autonomy pass failed", append(fields, zap.Error(err))...)
		}
		res.AutoExecuted = append(res.AutoExecuted, executed...)
	}

	if err := o.Repo.MarkDecisionProcessed(ctx, res.DecisionID, decisionKind, payloadHash(plan.Actions), "processed"); err != nil {
		return res, fmt.Errorf("mark decision processed: %w", err)
	}
	log.Info("strategy decision recorded", append(fields,
		zap.String("primary_focus", res.PrimaryFocus),
		zap.Int("actions", len(res.Actions)),
		zap.Int("registered", len(res.Registered)),
		zap.Int("auto_executed", len(res.AutoExecuted)))...)
	return res, nil
}

func (o Orchestrator) record(ctx context.Context, res Result, plan Plan) error {
	trace := events.TraceFrom(ctx)
	risk := float64(plan.Confidence)
	_, err := o.Repo.CreateDecisionLog(ctx, repo.DecisionLogInput{
		DecisionType:   domain.DecisionTypeStrategyAction,
		EntityType:     PortfolioTarget,
		EntityID:       "global",
		ActionType:     "recommend",
		Decision:       domain.DecisionRecommend,
		RiskScore:      &risk,
		PolicyName:     PolicyName,
		PolicySnapshot: map[string]any{"rules": Rules, "priority_level": plan.PriorityLevel},
		Inputs:         map[string]any{"launch_count": plan.LaunchCount},
		Outputs: map[string]any{
			"decision_id": res.DecisionID,
			"actions":     plan.Actions,
			"risk_flags":  plan.RiskFlags,
			"confidence":  plan.Confidence,
		},
		Reason:        fmt.Sprintf("Primary focus resolved to %s.", plan.PrimaryFocus),
		CorrelationID: trace.CorrelationID(),
		Status:        domain.LogRecorded,
	})
	if err != nil {
		return fmt.Errorf("record strategy decision: %w", err)
	}
	return nil
}

// Register stores each recommendation as a pending action. A recommendation
// whose (type, target, reasoning) matches an action still pending is skipped.
func (o Orchestrator) Register(ctx context.Context, recs []Recommendation, decisionID string) ([]domain.StrategyAction, error) {
	trace := events.TraceFrom(ctx)
	created := []domain.StrategyAction{}
	for _, rec := range recs {
		if rec.Type == "" || rec.TargetID == "" || rec.Reasoning == "" {
			continue
		}
		_, err := o.Repo.FindPendingAction(ctx, rec.Type, rec.TargetID, rec.Reasoning)
		if err == nil {
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return created, fmt.Errorf("find pending action: %w", err)
		}
		id, err := o.Repo.NextActionID(ctx)
		if err != nil {
			return created, fmt.Errorf("allocate action id: %w", err)
		}
		risk := Assess(rec.Type, rec.Reasoning, rec.Sales)
		a := domain.StrategyAction{
			ID:                  id,
			Type:                rec.Type,
			TargetID:            rec.TargetID,
			Reasoning:           rec.Reasoning,
			Status:              domain.ActionPendingConfirmation,
			CreatedAt:           o.now().Format(time.RFC3339),
			Sales:               rec.Sales,
			RiskLevel:           risk.RiskLevel,
			ExpectedImpactScore: risk.ExpectedImpactScore,
			AutoExecutable:      risk.AutoExecutable,
			DecisionID:          optional(decisionID),
			EventID:             optional(trace.EventID),
			TraceID:             optional(trace.TraceID),
		}
		if err := o.Repo.UpsertStrategyAction(ctx, a); err != nil {
			return created, fmt.Errorf("register action %s: %w", id, err)
		}
		created = append(created, a)
	}
	return created, nil
}

func (o Orchestrator) weights(ctx context.Context) map[string]float64 {
	if o.Weights == nil {
		return nil
	}
	w, err := o.Weights.StrategyWeights(ctx)
	if err != nil {
		logging.OrNop(o.Log).Warn("strategy weights unavailable", append(events.TraceFields(ctx), zap.Error(err))...)
		return nil
	}
	return w
}

func payloadHash(actions []Recommendation) string {
	data, _ := json.Marshal(actions)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
