package control

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
)

const (
	PhaseExecute = "EXECUTE"
	PhaseDecide  = "DECIDE"
	PhaseBuild   = "BUILD"
	PhaseScan    = "SCAN"
	PhaseIdle    = "IDLE"
)

// LoopState tells the operator what the daily loop wants next.
type LoopState struct {
	Phase           string  `json:"phase" enum:"EXECUTE,DECIDE,BUILD,SCAN,IDLE"`
	Summary         string  `json:"summary"`
	NextActionLabel string  `json:"next_action_label"`
	Route           *string `json:"route"`
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func route(r string) *string { return &r }

// DailyLoop picks the phase from pending actions, draft and approved
// proposals, then new opportunities, in that order.
func (c *Control) DailyLoop(ctx context.Context) LoopState {
	pending, err := c.Repo.CountStrategyActions(ctx, domain.ActionPendingConfirmation)
	if err != nil {
		c.log().Warn("count pending actions", append(events.TraceFields(ctx), zap.Error(err))...)
	}
	if pending > 0 {
		return LoopState{
			Phase:           PhaseExecute,
			Summary:         fmt.Sprintf("%d pending strategy %s ready for execution.", pending, plural(pending, "action", "actions")),
			NextActionLabel: "Execute Strategy",
			Route:           route("#/strategy"),
		}
	}
	if n := len(c.Stores.ListProposals(domain.ProposalDraft, 0)); n > 0 {
		return LoopState{
			Phase:           PhaseDecide,
			Summary:         fmt.Sprintf("%d draft %s awaiting decision.", n, plural(n, "proposal", "proposals")),
			NextActionLabel: "Review Drafts",
			Route:           route("#/work"),
		}
	}
	if n := len(c.Stores.ListProposals(domain.ProposalApproved, 0)); n > 0 {
		return LoopState{
			Phase:           PhaseBuild,
			Summary:         fmt.Sprintf("%d approved %s ready to be built.", n, plural(n, "proposal", "proposals")),
			NextActionLabel: "Start Build",
			Route:           route("#/work"),
		}
	}
	if n := len(c.Stores.ListOpportunities(domain.OpportunityNew, 0)); n > 0 {
		return LoopState{
			Phase:           PhaseScan,
			Summary:         fmt.Sprintf("%d %s pending evaluation.", n, plural(n, "opportunity", "opportunities")),
			NextActionLabel: "Scan Opportunities",
			Route:           route("#/work"),
		}
	}
	return LoopState{Phase: PhaseIdle, Summary: "System operating normally.", NextActionLabel: "No Immediate Action"}
}
