package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"treta/internal/autonomy"
	"treta/internal/domain"
	"treta/internal/engine"
	"treta/internal/events"
	"treta/internal/execution"
	"treta/internal/strategy"
)

type actionPath struct {
	ActionID string `path:"action_id"`
}

type PerformanceResponse struct {
	Strategies map[string]domain.StrategyPerformance `json:"strategies"`
}

func registerStrategy(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "strategy-recommendations",
		Method:      http.MethodGet,
		Path:        "/strategy/recommendations",
		Summary:     "Read-only portfolio recommendations",
	}, func(ctx context.Context, _ *struct{}) (*reply[strategy.Report], error) {
		return respond(ctx, strategy.Recommend(s.ctl.Stores.Launches.Items(), s.now()))
	})

	huma.Register(api, huma.Operation{
		OperationID: "strategy-decide",
		Method:      http.MethodGet,
		Path:        "/strategy/decide",
		Summary:     "Run one strategy decision cycle",
		Description: "Registers the recommended actions and lets the autonomy policy auto-execute eligible ones. Inside the cooldown window the cycle is skipped.",
		Errors:      []int{http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*reply[map[string]any], error) {
		res, err := s.dispatch(ctx, events.RunStrategyDecision, nil)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		payload, ok := actionPayload(res, events.StrategyDecisionCompleted)
		if !ok {
			payload = map[string]any{"status": "skipped"}
		}
		return respond(ctx, payload)
	})

	huma.Register(api, huma.Operation{
		OperationID: "strategy-pending-actions",
		Method:      http.MethodGet,
		Path:        "/strategy/pending_actions",
		Summary:     "Actions waiting for confirmation",
	}, func(ctx context.Context, _ *struct{}) (*reply[ItemsResponse[domain.StrategyAction]], error) {
		items, err := s.ctl.Repo.ListStrategyActions(ctx, domain.ActionPendingConfirmation)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return respond(ctx, listOf(items))
	})

	huma.Register(api, huma.Operation{
		OperationID: "strategy-execute-action",
		Method:      http.MethodPost,
		Path:        "/strategy/execute_action/{action_id}",
		Summary:     "Confirm and execute a pending action",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, in *actionPath) (*reply[execution.Outcome], error) {
		if s.ctl.Executor == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "executor_unavailable", "execution layer is not wired", nil)
		}
		if p, ok := principalFromContext(ctx); ok {
			s.log.Debug("manual action execution", append(traceFields(ctx), zap.String("action_id", in.ActionID), zap.String("actor", p.Subject))...)
		}
		var out execution.Outcome
		err := s.exclusive(ctx, func(ctx context.Context) error {
			var err error
			out, err = s.ctl.Executor.Execute(ctx, in.ActionID, domain.ActionExecuted)
			return err
		})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return respond(ctx, out)
	})

	huma.Register(api, huma.Operation{
		OperationID: "strategy-reject-action",
		Method:      http.MethodPost,
		Path:        "/strategy/reject_action/{action_id}",
		Summary:     "Reject a pending action",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, in *actionPath) (*reply[domain.StrategyAction], error) {
		if s.ctl.Executor == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "executor_unavailable", "execution layer is not wired", nil)
		}
		var action domain.StrategyAction
		err := s.exclusive(ctx, func(ctx context.Context) error {
			var err error
			action, err = s.ctl.Executor.Reject(ctx, in.ActionID)
			return err
		})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return respond(ctx, action)
	})

	huma.Register(api, huma.Operation{
		OperationID: "strategy-executions",
		Method:      http.MethodGet,
		Path:        "/strategy/executions",
		Summary:     "Action execution history",
	}, func(ctx context.Context, in *struct {
		limitQuery
		ActionID string `query:"action_id"`
	}) (*reply[ItemsResponse[domain.ActionExecution]], error) {
		var (
			items []domain.ActionExecution
			err   error
		)
		if id := strings.TrimSpace(in.ActionID); id != "" {
			items, err = s.ctl.Repo.ListExecutions(ctx, id, in.Limit)
		} else {
			items, err = s.ctl.Repo.ListRecentExecutions(ctx, in.Limit)
		}
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return respond(ctx, listOf(items))
	})

	huma.Register(api, huma.Operation{
		OperationID: "strategy-performance",
		Method:      http.MethodGet,
		Path:        "/strategy/performance",
		Summary:     "Learned outcome statistics per action type",
	}, func(ctx context.Context, _ *struct{}) (*reply[PerformanceResponse], error) {
		perf, err := s.ctl.Repo.StrategyPerformance(ctx)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		if perf == nil {
			perf = map[string]domain.StrategyPerformance{}
		}
		return respond(ctx, PerformanceResponse{Strategies: perf})
	})

	huma.Register(api, huma.Operation{
		OperationID: "strategy-plan",
		Method:      http.MethodPost,
		Path:        "/strategy/plan",
		Summary:     "Ask the model for a strategic plan",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, in *struct {
		Body StrategicPlanRequest
	}) (*reply[strategy.StrategicPlan], error) {
		objective := strings.TrimSpace(in.Body.Objective)
		if objective == "" {
			return nil, newAPIError(http.StatusBadRequest, "missing_objective", "objective is required", nil)
		}
		snapshot, err := json.Marshal(strategy.Recommend(s.ctl.Stores.Launches.Items(), s.now()).Summary)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		plan, err := s.planner.Create(ctx, objective, string(snapshot))
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return respond(ctx, plan)
	})
}

func registerAutonomy(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "autonomy-status",
		Method:      http.MethodGet,
		Path:        "/autonomy/status",
		Summary:     "Autonomy mode and remaining budget",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*reply[autonomy.Report], error) {
		if s.autonomy == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "autonomy_unavailable", "autonomy policy is not wired", nil)
		}
		rep, err := s.autonomy.Report(ctx)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return respond(ctx, rep)
	})

	huma.Register(api, huma.Operation{
		OperationID: "autonomy-adaptive-status",
		Method:      http.MethodGet,
		Path:        "/autonomy/adaptive_status",
		Summary:     "Adaptive policy statistics",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*reply[autonomy.Status], error) {
		if s.autonomy == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "autonomy_unavailable", "autonomy policy is not wired", nil)
		}
		return respond(ctx, s.autonomy.AdaptiveStatus())
	})

	huma.Register(api, huma.Operation{
		OperationID: "gumroad-sync",
		Method:      http.MethodPost,
		Path:        "/gumroad/sync",
		Summary:     "Pull sales for linked launches",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*reply[engine.SyncSummary], error) {
		if s.sales == nil {
			return nil, newAPIError(http.StatusBadRequest, "gumroad_not_connected", "gumroad is not connected", nil)
		}
		var sum engine.SyncSummary
		err := s.exclusive(ctx, func(ctx context.Context) error {
			var err error
			sum, err = s.ctl.Engine.SyncSales(ctx, s.sales)
			return err
		})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		s.log.Info("gumroad sync finished", append(traceFields(ctx),
			zap.Int("synced_launches", sum.SyncedLaunches), zap.Int("new_sales", sum.NewSales))...)
		return respond(ctx, sum)
	})
}
