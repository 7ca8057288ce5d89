package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
)

func registerHealth(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*reply[HealthResponse], error) {
		mode := s.auth.Mode()
		status := "ok"
		if mode == AuthDegraded {
			status = "degraded"
		}
		return respond(ctx, HealthResponse{
			Status:    status,
			AuthMode:  mode,
			Timestamp: float64(s.now().UnixMilli()) / 1000,
			Version:   s.version,
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "health-live",
		Method:      http.MethodGet,
		Path:        "/health/live",
		Summary:     "Liveness probe",
	}, func(ctx context.Context, _ *struct{}) (*reply[map[string]string], error) {
		return respond(ctx, map[string]string{"status": "live"})
	})

	huma.Register(api, huma.Operation{
		OperationID: "health-ready",
		Method:      http.MethodGet,
		Path:        "/health/ready",
		Summary:     "Readiness probe",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*reply[ReadyResponse], error) {
		checks := map[string]bool{
			"stores_loadable": s.ctl.Stores != nil,
			"control_wired":   s.ctl != nil,
			"bus_present":     s.bus != nil,
			"db_reachable":    s.ctl.Repo.DB != nil && s.ctl.Repo.DB.PingContext(ctx) == nil,
		}
		for _, ok := range checks {
			if !ok {
				return nil, newAPIError(http.StatusServiceUnavailable, "not_ready", "not_ready", map[string]any{"checks": checks})
			}
		}
		return respond(ctx, ReadyResponse{Status: "ready", Checks: checks})
	})
}

func registerRuntime(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "state",
		Method:      http.MethodGet,
		Path:        "/state",
		Summary:     "Conversation state",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*reply[StateResponse], error) {
		m := s.dispatcher.Machine
		if m == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "state_machine_unavailable", "state_machine_unavailable", nil)
		}
		return respond(ctx, StateResponse{State: string(m.State())})
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recently published events",
	}, func(ctx context.Context, in *struct {
		Limit int `query:"limit" default:"10" minimum:"1" maximum:"200"`
	}) (*reply[EventsResponse], error) {
		return respond(ctx, EventsResponse{Events: s.bus.Recent(in.Limit)})
	})

	huma.Register(api, huma.Operation{
		OperationID: "memory",
		Method:      http.MethodGet,
		Path:        "/memory",
		Summary:     "Operator profile and chat history",
	}, func(ctx context.Context, _ *struct{}) (*reply[MemoryResponse], error) {
		return respond(ctx, s.ctl.Stores.Memory.Snapshot())
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-event",
		Method:      http.MethodPost,
		Path:        "/event",
		Summary:     "Publish an event onto the bus",
		Description: "Fire-and-forget. Only catalog event types are accepted.",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, in *struct {
		Body EventRequest
	}) (*reply[QueuedResponse], error) {
		typ := strings.TrimSpace(in.Body.Type)
		if !events.Known(typ) || events.IsNotification(typ) {
			return nil, newAPIError(http.StatusBadRequest, "unsupported_event_type", "unsupported event type: "+typ, map[string]any{"type": typ})
		}
		payload := in.Body.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		if missing := events.MissingKeys(typ, payload); len(missing) > 0 {
			return nil, newAPIError(http.StatusBadRequest, "missing_fields", "missing required keys: "+strings.Join(missing, ","), map[string]any{"missing": missing})
		}
		e := newEvent(ctx, typ, payload)
		if src := strings.TrimSpace(in.Body.Source); src != "" {
			e.Source = src
		}
		if !s.bus.Push(e) {
			return nil, newAPIError(http.StatusServiceUnavailable, "cascade_budget_exhausted", "event dropped by the bus", nil)
		}
		s.log.Info("event queued", append(e.Trace().Fields(), zap.String("event_type", typ), zap.String("source", e.Source))...)
		return respond(ctx, QueuedResponse{Status: "queued", EventID: e.EventID, EventType: typ})
	})

	huma.Register(api, huma.Operation{
		OperationID: "scan-infoproduct",
		Method:      http.MethodPost,
		Path:        "/scan/infoproduct",
		Summary:     "Queue a forum scan",
	}, func(ctx context.Context, _ *struct{}) (*reply[QueuedResponse], error) {
		e := newEvent(ctx, events.RunInfoproductScan, nil)
		if !s.bus.Push(e) {
			return nil, newAPIError(http.StatusServiceUnavailable, "cascade_budget_exhausted", "event dropped by the bus", nil)
		}
		return respond(ctx, QueuedResponse{Status: "queued", EventID: e.EventID, EventType: e.Type})
	})

	huma.Register(api, huma.Operation{
		OperationID: "conversation-message",
		Method:      http.MethodPost,
		Path:        "/conversation/message",
		Summary:     "Send a message to the assistant",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, in *struct {
		Body MessageRequest
	}) (*reply[ReplyResponse], error) {
		text := strings.TrimSpace(in.Body.Text)
		if text == "" {
			return nil, newAPIError(http.StatusBadRequest, "missing_text", "text is required", nil)
		}
		res, err := s.dispatch(ctx, events.UserMessageSubmitted, map[string]any{"text": text})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		payload, _ := actionPayload(res, events.AssistantMessageGenerated)
		answer, _ := payload["text"].(string)
		return respond(ctx, ReplyResponse{ReplyText: answer})
	})

	huma.Register(api, huma.Operation{
		OperationID: "daily-loop-status",
		Method:      http.MethodGet,
		Path:        "/daily_loop/status",
		Summary:     "What the daily loop wants next",
	}, func(ctx context.Context, _ *struct{}) (*reply[DailyLoopResponse], error) {
		state := s.ctl.DailyLoop(ctx)
		return respond(ctx, DailyLoopResponse{LoopState: state, Timestamp: float64(s.now().UnixMilli()) / 1000})
	})

	huma.Register(api, huma.Operation{
		OperationID: "decision-logs",
		Method:      http.MethodGet,
		Path:        "/decision_logs",
		Summary:     "Recent decision logs",
	}, func(ctx context.Context, in *struct {
		limitQuery
		Type string `query:"type" doc:"Filter by decision type"`
	}) (*reply[ItemsResponse[domain.DecisionLog]], error) {
		items, err := s.ctl.Repo.ListDecisionLogs(ctx, in.Limit, in.Type)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return respond(ctx, listOf(items))
	})

	huma.Register(api, huma.Operation{
		OperationID: "entity-decision-logs",
		Method:      http.MethodGet,
		Path:        "/decision_logs/entity",
		Summary:     "Decision logs of one entity",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, in *struct {
		limitQuery
		EntityType string `query:"entity_type"`
		EntityID   string `query:"entity_id"`
	}) (*reply[ItemsResponse[domain.DecisionLog]], error) {
		if in.EntityType == "" || in.EntityID == "" {
			return nil, newAPIError(http.StatusBadRequest, "missing_entity", "entity_type and entity_id are required", nil)
		}
		items, err := s.ctl.Repo.DecisionLogsForEntity(ctx, in.EntityType, in.EntityID, in.Limit)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return respond(ctx, listOf(items))
	})
}
