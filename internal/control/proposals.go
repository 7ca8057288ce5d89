package control

import (
	"context"
	"time"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/opportunity"
	"treta/internal/product"
)

var proposalTargets = map[string]string{
	events.ApproveProposal:       domain.ProposalApproved,
	events.RejectProposal:        domain.ProposalRejected,
	events.StartBuildingProposal: domain.ProposalBuilding,
	events.MarkReadyToLaunch:     domain.ProposalReadyToLaunch,
	events.MarkProposalLaunched:  domain.ProposalLaunched,
	events.ArchiveProposal:       domain.ProposalArchived,
}

// ProposalTarget returns the status a proposal command moves to.
func ProposalTarget(eventType string) (string, bool) {
	to, ok := proposalTargets[eventType]
	return to, ok
}

func productProposal(o domain.Opportunity, align opportunity.Alignment, now time.Time) domain.ProductProposal {
	p := product.GenerateProposal(o, now)
	score, reason := align.Score, align.Reason
	p.AlignmentScore = &score
	p.AlignmentReason = &reason
	return p
}

func statusChanged(p domain.ProductProposal) Action {
	return Action{Type: events.ProductProposalStatusChanged, Payload: map[string]any{
		"proposal_id": p.ID,
		"status":      p.Status,
		"proposal":    p,
	}}
}

func (c *Control) listProposals(_ context.Context, e events.Event) ([]Action, error) {
	items := c.Stores.ListProposals(e.String("status"), 0)
	return []Action{{Type: events.ProductProposalsListed, Payload: map[string]any{"items": items}}}, nil
}

func (c *Control) getProposal(_ context.Context, e events.Event) ([]Action, error) {
	id := e.String("proposal_id")
	p, ok := c.Stores.GetProposal(id)
	if !ok {
		return nil, domain.NotFoundError{Kind: "proposal", ID: id}
	}
	return []Action{{Type: events.ProductProposalFetched, Payload: map[string]any{"item": p}}}, nil
}

func (c *Control) transitionProposal(ctx context.Context, e events.Event) ([]Action, error) {
	to := proposalTargets[e.Type]
	updated, err := c.Engine.TransitionProposal(ctx, e.String("proposal_id"), to)
	if err != nil {
		return nil, err
	}
	actions := []Action{statusChanged(updated)}
	if to == domain.ProposalLaunched {
		if launch, ok := c.Stores.LaunchForProposal(updated.ID); ok {
			actions = append(actions, Action{Type: events.ProductLaunched, Payload: map[string]any{
				"launch_id":   launch.ID,
				"proposal_id": updated.ID,
			}})
		}
	}
	return actions, nil
}

func (c *Control) buildPlan(ctx context.Context, e events.Event) ([]Action, error) {
	plan, err := c.Engine.BuildPlan(ctx, e.String("proposal_id"))
	if err != nil {
		return nil, err
	}
	return []Action{{Type: events.ProductPlanBuilt, Payload: map[string]any{
		"plan_id":     plan.PlanID,
		"proposal_id": plan.ProposalID,
		"plan":        plan,
	}}}, nil
}

func (c *Control) listPlans(_ context.Context, _ events.Event) ([]Action, error) {
	return []Action{{Type: events.ProductPlansListed, Payload: map[string]any{"items": c.Stores.ListPlans(0)}}}, nil
}

func (c *Control) getPlan(_ context.Context, e events.Event) ([]Action, error) {
	id := e.String("plan_id")
	plan, ok := c.Stores.GetPlan(id)
	if !ok {
		return nil, domain.NotFoundError{Kind: "plan", ID: id}
	}
	return []Action{{Type: events.ProductPlanReturned, Payload: map[string]any{"plan": plan}}}, nil
}

func (c *Control) executePlan(ctx context.Context, e events.Event) ([]Action, error) {
	x, err := c.Engine.ExecutePlan(ctx, e.String("proposal_id"))
	if err != nil {
		return nil, err
	}
	return []Action{
		{Type: events.ProductPlanExecuted, Payload: map[string]any{
			"proposal_id":       x.Proposal.ID,
			"execution_package": x.Package,
			"tracking_id":       x.TrackingID,
		}},
		statusChanged(x.Proposal),
	}, nil
}

func (c *Control) listLaunches(_ context.Context, e events.Event) ([]Action, error) {
	items := c.Stores.ListLaunches(e.String("status"), 0)
	return []Action{{Type: events.ProductLaunchesListed, Payload: map[string]any{"items": items}}}, nil
}

func (c *Control) getLaunch(_ context.Context, e events.Event) ([]Action, error) {
	id := e.String("launch_id")
	l, ok := c.Stores.GetLaunch(id)
	if !ok {
		return nil, domain.NotFoundError{Kind: "launch", ID: id}
	}
	return []Action{{Type: events.ProductLaunchReturned, Payload: map[string]any{"launch": l}}}, nil
}

func (c *Control) addLaunchSale(ctx context.Context, e events.Event) ([]Action, error) {
	amount, ok := e.Float("amount")
	if !ok {
		return nil, domain.ClientError{Code: "invalid_amount", Message: "amount must be a number"}
	}
	l, err := c.Engine.AddSale(ctx, e.String("launch_id"), amount)
	if err != nil {
		return nil, err
	}
	c.log().Info("launch sale recorded", append(events.TraceFields(ctx),
		zap.String("launch_id", l.ID), zap.Float64("amount", amount))...)
	return []Action{{Type: events.ProductLaunchUpdated, Payload: map[string]any{"launch": l}}}, nil
}

func (c *Control) transitionLaunch(ctx context.Context, e events.Event) ([]Action, error) {
	l, err := c.Engine.TransitionLaunch(ctx, e.String("launch_id"), e.String("status"))
	if err != nil {
		return nil, err
	}
	return []Action{{Type: events.ProductLaunchUpdated, Payload: map[string]any{"launch": l}}}, nil
}
