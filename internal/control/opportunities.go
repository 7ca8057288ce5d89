package control

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/opportunity"
)

const recentProposalWindow = 5

// opportunityDetected stores the signal. Forum signals stop there; anything
// else must pass the alignment check before a proposal is generated.
func (c *Control) opportunityDetected(ctx context.Context, e events.Event) ([]Action, error) {
	summary := e.String("summary")
	if summary == "" {
		summary = e.String("snippet")
	}
	payload, _ := e.Payload["opportunity"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	if sub := e.String("subreddit"); sub != "" {
		if _, ok := payload["subreddit"]; !ok {
			payload["subreddit"] = sub
		}
	}
	source := e.String("source")
	if source == "" {
		source = "unknown"
	}
	created, err := c.Engine.AddOpportunity(ctx, domain.Opportunity{
		ID:      e.String("id"),
		Source:  source,
		Title:   e.String("title"),
		Summary: summary,
		Payload: payload,
	})
	var conflict domain.ConflictError
	if errors.As(err, &conflict) {
		c.log().Debug("opportunity already known", append(events.TraceFields(ctx), zap.String("opportunity_id", e.String("id")))...)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if created.Source == forumSource {
		return nil, nil
	}

	recent := c.Stores.ListProposals("", recentProposalWindow)
	align := opportunity.Align(created, recent)
	fields := append(events.TraceFields(ctx),
		zap.String("opportunity_id", created.ID),
		zap.Float64("alignment_score", align.Score))
	if !align.Aligned {
		if _, err := c.Engine.SetOpportunityStatus(ctx, created.ID, domain.OpportunityStrategicallyFiltered); err != nil {
			return nil, err
		}
		c.log().Info("opportunity strategically filtered", append(fields, zap.String("reason", align.Reason))...)
		return nil, nil
	}

	proposal := productProposal(created, align, c.now())
	stored, err := c.Engine.AddProposal(ctx, proposal)
	if err != nil {
		return nil, err
	}
	if sub, _ := created.Payload["subreddit"].(string); sub != "" {
		if err := c.Stores.Subreddits.RecordProposalGenerated(sub); err != nil {
			c.log().Warn("record proposal generated", append(fields, zap.Error(err))...)
		}
	}
	c.log().Info("proposal generated", append(fields, zap.String("proposal_id", stored.ID))...)
	return []Action{{Type: events.ProductProposalGenerated, Payload: map[string]any{
		"proposal_id": stored.ID,
		"proposal":    stored,
	}}}, nil
}

func (c *Control) listOpportunities(_ context.Context, e events.Event) ([]Action, error) {
	items := c.Stores.ListOpportunities(e.String("status"), 0)
	return []Action{{Type: events.OpportunitiesListed, Payload: map[string]any{"items": items}}}, nil
}

func (c *Control) evaluateOpportunityByID(ctx context.Context, e events.Event) ([]Action, error) {
	id := e.String("id")
	target, ok := c.Stores.GetOpportunity(id)
	if !ok {
		return nil, domain.NotFoundError{Kind: "opportunity", ID: id}
	}
	decision := c.evaluator().Evaluate(target.Payload)
	updated, err := c.Engine.SetOpportunityDecision(ctx, id, decision)
	if err != nil {
		return nil, err
	}
	c.log().Info("opportunity evaluated", append(events.TraceFields(ctx),
		zap.String("opportunity_id", id),
		zap.String("decision", decision.Decision),
		zap.Float64("score", decision.Score))...)
	return []Action{{Type: events.OpportunityEvaluated, Payload: map[string]any{
		"id":       id,
		"decision": decision,
		"item":     updated,
	}}}, nil
}

// evaluateOpportunity scores an ad-hoc payload without storing anything.
func (c *Control) evaluateOpportunity(ctx context.Context, e events.Event) ([]Action, error) {
	d := c.evaluator().Evaluate(e.Payload)
	c.log().Info("opportunity scored", append(events.TraceFields(ctx), zap.Float64("score", d.Score), zap.String("decision", d.Decision))...)
	return []Action{{Type: events.OpportunityEvaluated, Payload: map[string]any{
		"score":     d.Score,
		"decision":  d.Decision,
		"reasoning": d.Reasoning,
	}}}, nil
}

func (c *Control) dismissOpportunity(ctx context.Context, e events.Event) ([]Action, error) {
	if _, err := c.Engine.SetOpportunityStatus(ctx, e.String("id"), domain.OpportunityDismissed); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Control) evaluator() opportunity.Evaluator {
	if c.Evaluator == (opportunity.Evaluator{}) {
		return opportunity.DefaultEvaluator()
	}
	return c.Evaluator
}
