package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"treta/internal/control"
	"treta/internal/domain"
	"treta/internal/events"
)

type proposalPath struct {
	ProposalID string `path:"proposal_id"`
}

type planPath struct {
	PlanID string `path:"plan_id"`
}

type launchPath struct {
	LaunchID string `path:"launch_id"`
}

// ExecuteResponse is returned once a proposal's plan has been executed.
type ExecuteResponse struct {
	ProposalID       string                  `json:"proposal_id"`
	TrackingID       string                  `json:"tracking_id"`
	ExecutionPackage domain.ExecutionPackage `json:"execution_package"`
}

func registerOpportunities(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-opportunities",
		Method:      http.MethodGet,
		Path:        "/opportunities",
		Summary:     "List opportunities",
	}, func(ctx context.Context, in *statusQuery) (*reply[ItemsResponse[domain.Opportunity]], error) {
		return respond(ctx, listOf(s.ctl.Stores.ListOpportunities(in.Status, 0)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-opportunity",
		Method:      http.MethodPost,
		Path:        "/opportunities/evaluate",
		Summary:     "Evaluate a stored opportunity",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, in *struct {
		Body IDRequest
	}) (*reply[EvaluationResponse], error) {
		id := strings.TrimSpace(in.Body.ID)
		if id == "" {
			return nil, newAPIError(http.StatusBadRequest, "missing_id", "id is required", nil)
		}
		res, err := s.dispatch(ctx, events.EvaluateOpportunityByID, map[string]any{"id": id})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		payload, _ := actionPayload(res, events.OpportunityEvaluated)
		out := EvaluationResponse{ID: id}
		out.Decision, _ = payload["decision"].(domain.OpportunityDecision)
		out.Item, _ = payload["item"].(domain.Opportunity)
		return respond(ctx, out)
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-opportunity",
		Method:      http.MethodPost,
		Path:        "/opportunities/dismiss",
		Summary:     "Dismiss an opportunity",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, in *struct {
		Body IDRequest
	}) (*reply[DismissResponse], error) {
		id := strings.TrimSpace(in.Body.ID)
		if id == "" {
			return nil, newAPIError(http.StatusBadRequest, "missing_id", "id is required", nil)
		}
		if _, err := s.dispatch(ctx, events.OpportunityDismissed, map[string]any{"id": id}); err != nil {
			return nil, s.fail(ctx, err)
		}
		return respond(ctx, DismissResponse{ID: id, Status: domain.OpportunityDismissed})
	})
}

// proposalCommands maps the transition sub-paths to their events.
var proposalCommands = []struct {
	path  string
	event string
}{
	{"approve", events.ApproveProposal},
	{"reject", events.RejectProposal},
	{"start_build", events.StartBuildingProposal},
	{"ready", events.MarkReadyToLaunch},
	{"launch", events.MarkProposalLaunched},
	{"archive", events.ArchiveProposal},
}

func registerProposals(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/product_proposals",
		Summary:     "List product proposals",
	}, func(ctx context.Context, in *struct {
		statusQuery
		Limit int `query:"limit" default:"10" minimum:"0" maximum:"500"`
	}) (*reply[ItemsResponse[domain.ProductProposal]], error) {
		return respond(ctx, listOf(s.ctl.Stores.ListProposals(in.Status, in.Limit)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/product_proposals/{proposal_id}",
		Summary:     "Get a product proposal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *proposalPath) (*reply[domain.ProductProposal], error) {
		p, ok := s.ctl.Stores.GetProposal(in.ProposalID)
		if !ok {
			return nil, s.fail(ctx, domain.NotFoundError{Kind: "proposal", ID: in.ProposalID})
		}
		return respond(ctx, p)
	})

	for _, cmd := range proposalCommands {
		eventType := cmd.event
		huma.Register(api, huma.Operation{
			OperationID: "proposal-" + strings.ReplaceAll(cmd.path, "_", "-"),
			Method:      http.MethodPost,
			Path:        "/product_proposals/{proposal_id}/" + cmd.path,
			Summary:     "Proposal transition: " + cmd.path,
			Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
		}, func(ctx context.Context, in *proposalPath) (*reply[domain.ProductProposal], error) {
			id := strings.TrimSpace(in.ProposalID)
			if id == "" {
				return nil, newAPIError(http.StatusBadRequest, "missing_id", "proposal id is required", nil)
			}
			res, err := s.dispatch(ctx, eventType, map[string]any{"proposal_id": id})
			if err != nil {
				return nil, s.fail(ctx, err)
			}
			payload, ok := actionPayload(res, events.ProductProposalStatusChanged)
			if !ok {
				return nil, s.fail(ctx, domain.NotFoundError{Kind: "proposal", ID: id})
			}
			p, _ := payload["proposal"].(domain.ProductProposal)
			return respond(ctx, p)
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "execute-proposal",
		Method:      http.MethodPost,
		Path:        "/product_proposals/execute",
		Summary:     "Execute a proposal's plan",
		Description: "Builds the execution package and moves the proposal to ready_for_review. A mutation that breaks a lifecycle invariant is rolled back and reported as invariant_violation.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, in *struct {
		Body IDRequest
	}) (*reply[ExecuteResponse], error) {
		id := strings.TrimSpace(in.Body.ID)
		if id == "" {
			return nil, newAPIError(http.StatusBadRequest, "missing_id", "id is required", nil)
		}
		res, err := s.dispatch(ctx, events.ExecuteProductPlanRequested, map[string]any{"proposal_id": id})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		payload, ok := actionPayload(res, events.ProductPlanExecuted)
		if !ok {
			return nil, s.fail(ctx, domain.NotFoundError{Kind: "proposal", ID: id})
		}
		out := ExecuteResponse{ProposalID: id}
		out.TrackingID, _ = payload["tracking_id"].(string)
		out.ExecutionPackage, _ = payload["execution_package"].(domain.ExecutionPackage)
		return respond(ctx, out)
	})
}

func registerPlans(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/product_plans",
		Summary:     "List product plans",
	}, func(ctx context.Context, in *struct {
		Limit int `query:"limit" default:"10" minimum:"0" maximum:"500"`
	}) (*reply[ItemsResponse[domain.ProductPlan]], error) {
		return respond(ctx, listOf(s.ctl.Stores.ListPlans(in.Limit)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/product_plans/{plan_id}",
		Summary:     "Get a product plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *planPath) (*reply[domain.ProductPlan], error) {
		p, ok := s.ctl.Stores.GetPlan(in.PlanID)
		if !ok {
			return nil, s.fail(ctx, domain.NotFoundError{Kind: "plan", ID: in.PlanID})
		}
		return respond(ctx, p)
	})

	huma.Register(api, huma.Operation{
		OperationID: "build-plan",
		Method:      http.MethodPost,
		Path:        "/product_plans/build",
		Summary:     "Build the plan of a proposal",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, in *struct {
		Body BuildPlanRequest
	}) (*reply[domain.ProductPlan], error) {
		id := strings.TrimSpace(in.Body.ProposalID)
		if id == "" {
			return nil, newAPIError(http.StatusBadRequest, "missing_proposal_id", "proposal_id is required", nil)
		}
		res, err := s.dispatch(ctx, events.BuildProductPlanRequested, map[string]any{"proposal_id": id})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		payload, _ := actionPayload(res, events.ProductPlanBuilt)
		plan, _ := payload["plan"].(domain.ProductPlan)
		return respond(ctx, plan)
	})
}

func registerLaunches(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-launches",
		Method:      http.MethodGet,
		Path:        "/product_launches",
		Summary:     "List product launches",
	}, func(ctx context.Context, in *statusQuery) (*reply[ItemsResponse[domain.ProductLaunch]], error) {
		return respond(ctx, listOf(s.ctl.Stores.ListLaunches(in.Status, 0)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-launch",
		Method:      http.MethodGet,
		Path:        "/product_launches/{launch_id}",
		Summary:     "Get a product launch",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *launchPath) (*reply[domain.ProductLaunch], error) {
		l, ok := s.ctl.Stores.GetLaunch(in.LaunchID)
		if !ok {
			return nil, s.fail(ctx, domain.NotFoundError{Kind: "launch", ID: in.LaunchID})
		}
		return respond(ctx, l)
	})

	huma.Register(api, huma.Operation{
		OperationID: "launch-add-sale",
		Method:      http.MethodPost,
		Path:        "/product_launches/{launch_id}/add_sale",
		Summary:     "Record a sale on a launch",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, in *struct {
		launchPath
		Body SaleRequest
	}) (*reply[domain.ProductLaunch], error) {
		res, err := s.dispatch(ctx, events.AddProductLaunchSale, map[string]any{"launch_id": in.LaunchID, "amount": in.Body.Amount})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return launchUpdated(ctx, res)
	})

	huma.Register(api, huma.Operation{
		OperationID: "launch-status",
		Method:      http.MethodPost,
		Path:        "/product_launches/{launch_id}/status",
		Summary:     "Transition a launch",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, in *struct {
		launchPath
		Body LaunchStatusRequest
	}) (*reply[domain.ProductLaunch], error) {
		res, err := s.dispatch(ctx, events.TransitionProductLaunchStatus, map[string]any{"launch_id": in.LaunchID, "status": in.Body.Status})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return launchUpdated(ctx, res)
	})

	huma.Register(api, huma.Operation{
		OperationID: "launch-link-sales",
		Method:      http.MethodPost,
		Path:        "/product_launches/{launch_id}/link_sales",
		Summary:     "Link a launch to a sales platform product",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, in *struct {
		launchPath
		Body LinkSalesRequest
	}) (*reply[domain.ProductLaunch], error) {
		productID := strings.TrimSpace(in.Body.ProductID)
		if productID == "" {
			return nil, newAPIError(http.StatusBadRequest, "missing_product_id", "product_id is required", nil)
		}
		var linked domain.ProductLaunch
		err := s.exclusive(ctx, func(ctx context.Context) error {
			var err error
			linked, err = s.ctl.Engine.LinkSalesProduct(ctx, in.LaunchID, productID)
			return err
		})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return respond(ctx, linked)
	})
}

func launchUpdated(ctx context.Context, res control.Result) (*reply[domain.ProductLaunch], error) {
	payload, _ := actionPayload(res, events.ProductLaunchUpdated)
	l, _ := payload["launch"].(domain.ProductLaunch)
	return respond(ctx, l)
}
