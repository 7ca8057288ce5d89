package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/lifecycle"
	"treta/internal/product"
)

// AddProposal stores a new draft proposal.
func (e Engine) AddProposal(ctx context.Context, p domain.ProductProposal) (domain.ProductProposal, error) {
	if p.ID == "" {
		p.ID = product.NewID()
	}
	if p.Status == "" {
		p.Status = domain.ProposalDraft
	}
	if p.Status != domain.ProposalDraft {
		return domain.ProductProposal{}, domain.ClientError{Code: "invalid_status", Message: "new proposals must be draft"}
	}
	if strings.TrimSpace(p.ProductName) == "" {
		return domain.ProductProposal{}, domain.ClientError{Code: "missing_field", Message: "product_name is required"}
	}
	ts := e.timestamp()
	if p.CreatedAt == "" {
		p.CreatedAt = ts
	}
	if p.UpdatedAt == "" {
		p.UpdatedAt = p.CreatedAt
	}
	p.Confidence = max(1, min(10, p.Confidence))
	p.ActiveExecution = false

	err := e.mutate(ctx, "add_proposal", func(s *lifecycle.Snapshot) error {
		if proposalIndex(s, p.ID) >= 0 {
			return domain.ConflictError{Code: "duplicate_proposal", Message: fmt.Sprintf("proposal already exists: %s", p.ID)}
		}
		s.Proposals = append(s.Proposals, p)
		return nil
	})
	if err != nil {
		return domain.ProductProposal{}, err
	}
	out, _ := e.Stores.GetProposal(p.ID)
	return out, nil
}

// TransitionProposal moves a proposal along the transition graph. Approving
// builds the plan, archiving or rejecting drops it, and launching creates the
// launch record and marks it active.
func (e Engine) TransitionProposal(ctx context.Context, id, to string) (domain.ProductProposal, error) {
	to = strings.TrimSpace(to)
	if !knownProposalStatus(to) {
		return domain.ProductProposal{}, domain.ClientError{Code: "invalid_status", Message: fmt.Sprintf("invalid status: %s", to)}
	}
	var from string
	err := e.mutate(ctx, "transition_proposal", func(s *lifecycle.Snapshot) error {
		i := proposalIndex(s, id)
		if i < 0 {
			return domain.NotFoundError{Kind: "proposal", ID: id}
		}
		from = s.Proposals[i].Status
		if err := lifecycle.EnsureProposalTransition(from, to); err != nil {
			return err
		}
		return e.applyProposalStatus(s, i, to)
	})
	if err != nil {
		return domain.ProductProposal{}, err
	}
	e.Log.Info("proposal transitioned", append(events.TraceFields(ctx),
		zap.String("proposal_id", id), zap.String("from", from), zap.String("to", to))...)
	out, _ := e.Stores.GetProposal(id)
	return out, nil
}

// applyProposalStatus sets the status and keeps plans and launches in step.
// The transition itself must already be validated.
func (e Engine) applyProposalStatus(s *lifecycle.Snapshot, i int, to string) error {
	s.Proposals[i].Status = to
	s.Proposals[i].UpdatedAt = e.timestamp()
	p := s.Proposals[i]

	switch {
	case lifecycle.RequiresPlan(to):
		if planIndex(s, p.ID) < 0 {
			s.Plans = append(s.Plans, product.BuildPlan(p, e.now()))
		}
	default:
		if j := planIndex(s, p.ID); j >= 0 {
			s.Plans = append(s.Plans[:j], s.Plans[j+1:]...)
		}
	}

	if to == domain.ProposalLaunched {
		e.ensureLaunch(s, p)
	}
	return nil
}

// ensureLaunch creates the launch for p once and marks it active.
func (e Engine) ensureLaunch(s *lifecycle.Snapshot, p domain.ProductProposal) {
	ts := e.timestamp()
	for i := range s.Launches {
		if s.Launches[i].ProposalID == p.ID {
			if s.Launches[i].Status == domain.LaunchDraft {
				s.Launches[i].Status = domain.LaunchActive
				s.Launches[i].LaunchedAt = &ts
			}
			return
		}
	}
	s.Launches = append(s.Launches, domain.ProductLaunch{
		ID:          "launch-" + product.NewID()[:12],
		ProposalID:  p.ID,
		ProductName: p.ProductName,
		CreatedAt:   ts,
		LaunchedAt:  &ts,
		Status:      domain.LaunchActive,
	})
}

// BuildPlan returns the plan for a proposal, building it when missing. A draft
// proposal is approved first.
func (e Engine) BuildPlan(ctx context.Context, proposalID string) (domain.ProductPlan, error) {
	err := e.mutate(ctx, "build_plan", func(s *lifecycle.Snapshot) error {
		i := proposalIndex(s, proposalID)
		if i < 0 {
			return domain.NotFoundError{Kind: "proposal", ID: proposalID}
		}
		if s.Proposals[i].Status == domain.ProposalDraft {
			if err := lifecycle.EnsureProposalTransition(domain.ProposalDraft, domain.ProposalApproved); err != nil {
				return err
			}
			if err := e.applyProposalStatus(s, i, domain.ProposalApproved); err != nil {
				return err
			}
		}
		p := s.Proposals[i]
		if !lifecycle.CanBuildPlan(p.Status) {
			return domain.ConflictError{
				Code:    "plan_build_not_allowed",
				Message: fmt.Sprintf("plan cannot be built for proposal %s in status %s", p.ID, p.Status),
			}
		}
		if planIndex(s, p.ID) < 0 {
			s.Plans = append(s.Plans, product.BuildPlan(p, e.now()))
		}
		return nil
	})
	if err != nil {
		return domain.ProductPlan{}, err
	}
	plan, _ := e.Stores.PlanForProposal(proposalID)
	return plan, nil
}

// Execution is the outcome of executing a proposal's plan.
type Execution struct {
	Proposal   domain.ProductProposal  `json:"proposal"`
	Package    domain.ExecutionPackage `json:"execution_package"`
	TrackingID string                  `json:"tracking_id"`
	Subreddit  string                  `json:"subreddit,omitempty"`
}

// ExecutePlan moves a proposal to ready_for_review, building a missing plan on
// the way, and generates its launch copy. The tracking link and subreddit
// counters are recorded only once the lifecycle change is committed.
func (e Engine) ExecutePlan(ctx context.Context, proposalID string) (Execution, error) {
	var out Execution
	err := e.mutate(ctx, "execute_plan", func(s *lifecycle.Snapshot) error {
		i := proposalIndex(s, proposalID)
		if i < 0 {
			return domain.NotFoundError{Kind: "proposal", ID: proposalID}
		}
		if err := lifecycle.EnsureProposalTransition(s.Proposals[i].Status, domain.ProposalReadyForReview); err != nil {
			return err
		}
		if err := e.applyProposalStatus(s, i, domain.ProposalReadyForReview); err != nil {
			return err
		}
		p := s.Proposals[i]
		plan := s.Plans[planIndex(s, p.ID)]
		out.TrackingID = fmt.Sprintf("treta-%s-%d", prefix(p.ID, 6), e.now().Unix())
		out.Package = withTracking(product.BuildExecutionPackage(p, plan, e.now()), out.TrackingID)
		return nil
	})
	if err != nil {
		return Execution{}, err
	}
	out.Proposal, _ = e.Stores.GetProposal(proposalID)
	out.Subreddit = e.sourceSubreddit(out.Proposal)
	e.recordExecution(ctx, out)
	return out, nil
}

func (e Engine) recordExecution(ctx context.Context, x Execution) {
	fields := append(events.TraceFields(ctx), zap.String("proposal_id", x.Proposal.ID), zap.String("tracking_id", x.TrackingID))
	e.Stores.Executions.Append(x.Package)
	if err := e.Stores.Executions.Save(); err != nil {
		e.Log.Error("save execution package", append(fields, zap.Error(err))...)
	}
	var subreddit *string
	if x.Subreddit != "" {
		subreddit = &x.Subreddit
	}
	var price *float64
	var v float64
	if _, err := fmt.Sscan(x.Proposal.PriceSuggestion, &v); err == nil {
		price = &v
	}
	if _, err := e.Stores.Revenue.UpsertTracking(x.TrackingID, x.Proposal.ID, subreddit, price, e.timestamp()); err != nil {
		e.Log.Error("record tracking link", append(fields, zap.Error(err))...)
	}
	if x.Subreddit != "" {
		if err := e.Stores.Subreddits.RecordPlanExecuted(x.Subreddit); err != nil {
			e.Log.Error("record subreddit execution", append(fields, zap.Error(err))...)
		}
	}
	e.Log.Info("plan executed", fields...)
}

func (e Engine) sourceSubreddit(p domain.ProductProposal) string {
	if p.SourceOpportunityID == nil {
		return ""
	}
	o, ok := e.Stores.GetOpportunity(*p.SourceOpportunityID)
	if !ok {
		return ""
	}
	sub, _ := o.Payload["subreddit"].(string)
	return strings.TrimSpace(sub)
}

func withTracking(pkg domain.ExecutionPackage, trackingID string) domain.ExecutionPackage {
	pkg.ForumPost.Body = strings.TrimRight(pkg.ForumPost.Body, " \n") + "\n\nTracking: " + trackingID
	pkg.ListingDescription = strings.TrimRight(pkg.ListingDescription, " \n") + "\n\nTracking: " + trackingID
	pkg.ShortPitch = strings.TrimRight(pkg.ShortPitch, " ") + " (Tracking: " + trackingID + ")"
	return pkg
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func knownProposalStatus(status string) bool {
	for _, s := range lifecycle.ProposalStatuses() {
		if s == status {
			return true
		}
	}
	return false
}
