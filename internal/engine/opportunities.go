package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/product"
)

// AddOpportunity stores a new opportunity with status "new".
func (e Engine) AddOpportunity(ctx context.Context, o domain.Opportunity) (domain.Opportunity, error) {
	if o.ID == "" {
		o.ID = product.NewID()
	}
	if o.CreatedAt == "" {
		o.CreatedAt = e.timestamp()
	}
	if o.Status == "" {
		o.Status = domain.OpportunityNew
	}
	if o.Payload == nil {
		o.Payload = map[string]any{}
	}
	if strings.TrimSpace(o.Source) == "" {
		o.Source = "unknown"
	}
	if _, ok := e.Stores.GetOpportunity(o.ID); ok {
		return domain.Opportunity{}, domain.ConflictError{Code: "duplicate_opportunity", Message: "opportunity already exists: " + o.ID}
	}
	e.Stores.Opportunities.Append(o)
	if err := e.Stores.Opportunities.Save(); err != nil {
		return domain.Opportunity{}, err
	}
	e.Log.Debug("opportunity added", append(events.TraceFields(ctx), zap.String("opportunity_id", o.ID), zap.String("source", o.Source))...)
	return o, nil
}

// SetOpportunityDecision stores an evaluation result and marks the
// opportunity evaluated.
func (e Engine) SetOpportunityDecision(ctx context.Context, id string, d domain.OpportunityDecision) (domain.Opportunity, error) {
	return e.updateOpportunity(id, func(o *domain.Opportunity) {
		o.Decision = &d
		o.Status = domain.OpportunityEvaluated
	})
}

// SetOpportunityStatus overwrites an opportunity's status.
func (e Engine) SetOpportunityStatus(ctx context.Context, id, status string) (domain.Opportunity, error) {
	switch status {
	case domain.OpportunityNew, domain.OpportunityEvaluated, domain.OpportunityDismissed, domain.OpportunityStrategicallyFiltered:
	default:
		return domain.Opportunity{}, domain.ClientError{Code: "invalid_status", Message: "invalid opportunity status: " + status}
	}
	return e.updateOpportunity(id, func(o *domain.Opportunity) { o.Status = status })
}

func (e Engine) updateOpportunity(id string, fn func(*domain.Opportunity)) (domain.Opportunity, error) {
	var out domain.Opportunity
	found, err := e.Stores.Opportunities.Update(func(o domain.Opportunity) bool { return o.ID == id }, func(o *domain.Opportunity) error {
		fn(o)
		out = *o
		return nil
	})
	if err != nil {
		return domain.Opportunity{}, err
	}
	if !found {
		return domain.Opportunity{}, domain.NotFoundError{Kind: "opportunity", ID: id}
	}
	return out, e.Stores.Opportunities.Save()
}
