package lifecycle

import (
	"fmt"
	"strings"

	"treta/internal/domain"
)

// Invariant rule names reported in violations.
const (
	RuleSingleActiveProposal = "single_active_proposal"
	RuleSingleFocus          = "single_execution_focus"
	RulePlanPresence         = "plan_presence"
	RuleLaunchReference      = "launch_proposal_reference"
)

// Snapshot is the complete lifecycle state the invariants are checked over.
// Each slice is in insertion order, oldest first.
type Snapshot struct {
	Proposals []domain.ProductProposal
	Plans     []domain.ProductPlan
	Launches  []domain.ProductLaunch
}

// Validate returns an InvariantViolation for the first broken rule.
func Validate(s Snapshot) error {
	proposals := map[string]domain.ProductProposal{}
	var active []string
	for _, p := range s.Proposals {
		proposals[p.ID] = p
		if IsActive(p.Status) {
			active = append(active, p.ID)
		}
	}
	if len(active) > 1 {
		return domain.InvariantViolation{
			Rule:    RuleSingleActiveProposal,
			Message: fmt.Sprintf("at most one proposal may be approved, building or ready_to_launch; found %s", strings.Join(active, ", ")),
		}
	}

	plansByProposal := map[string]int{}
	for _, pl := range s.Plans {
		plansByProposal[pl.ProposalID]++
		p, ok := proposals[pl.ProposalID]
		if !ok {
			return domain.InvariantViolation{Rule: RulePlanPresence, Message: fmt.Sprintf("plan %s references missing proposal %s", pl.PlanID, pl.ProposalID)}
		}
		if !RequiresPlan(p.Status) {
			return domain.InvariantViolation{Rule: RulePlanPresence, Message: fmt.Sprintf("proposal %s in status %s must not have a plan", p.ID, p.Status)}
		}
		if plansByProposal[pl.ProposalID] > 1 {
			return domain.InvariantViolation{Rule: RulePlanPresence, Message: fmt.Sprintf("proposal %s has more than one plan", pl.ProposalID)}
		}
	}
	for _, p := range s.Proposals {
		if RequiresPlan(p.Status) && plansByProposal[p.ID] == 0 {
			return domain.InvariantViolation{Rule: RulePlanPresence, Message: fmt.Sprintf("proposal %s in status %s has no plan", p.ID, p.Status)}
		}
	}

	for _, l := range s.Launches {
		p, ok := proposals[l.ProposalID]
		if !ok {
			return domain.InvariantViolation{Rule: RuleLaunchReference, Message: fmt.Sprintf("launch %s references missing proposal %s", l.ID, l.ProposalID)}
		}
		if p.Status == domain.ProposalDraft || p.Status == domain.ProposalRejected {
			return domain.InvariantViolation{Rule: RuleLaunchReference, Message: fmt.Sprintf("launch %s references %s proposal %s", l.ID, p.Status, p.ID)}
		}
	}

	return validateFocus(s)
}

func validateFocus(s Snapshot) error {
	var flagged []string
	for _, p := range s.Proposals {
		if p.ActiveExecution {
			flagged = append(flagged, "proposal:"+p.ID)
		}
	}
	for _, l := range s.Launches {
		if l.ActiveExecution {
			flagged = append(flagged, "launch:"+l.ID)
		}
	}
	if len(flagged) > 1 {
		return domain.InvariantViolation{Rule: RuleSingleFocus, Message: fmt.Sprintf("more than one active execution target: %s", strings.Join(flagged, ", "))}
	}
	want := SelectFocus(s)
	got := Focus{}
	if len(flagged) == 1 {
		kind, id, _ := strings.Cut(flagged[0], ":")
		got = Focus{Kind: kind, ID: id}
	}
	if got != want {
		return domain.InvariantViolation{Rule: RuleSingleFocus, Message: fmt.Sprintf("active execution target %s does not match focus rule %s", got, want)}
	}
	return nil
}
