// Package lifecycle holds the proposal and launch transition graphs, the
// global invariants over proposals, plans and launches, and the execution
// focus rule.
package lifecycle

import (
	"fmt"

	"treta/internal/domain"
)

var proposalTransitions = map[string][]string{
	domain.ProposalDraft:          {domain.ProposalApproved, domain.ProposalRejected},
	domain.ProposalApproved:       {domain.ProposalBuilding, domain.ProposalArchived},
	domain.ProposalBuilding:       {domain.ProposalReadyToLaunch},
	domain.ProposalReadyToLaunch:  {domain.ProposalReadyForReview},
	domain.ProposalReadyForReview: {domain.ProposalLaunched},
	domain.ProposalLaunched:       {domain.ProposalArchived},
	domain.ProposalRejected:       {domain.ProposalArchived},
	domain.ProposalArchived:       {},
}

var launchTransitions = map[string][]string{
	domain.LaunchDraft:    {domain.LaunchActive, domain.LaunchArchived},
	domain.LaunchActive:   {domain.LaunchPaused, domain.LaunchArchived},
	domain.LaunchPaused:   {domain.LaunchActive, domain.LaunchArchived},
	domain.LaunchArchived: {},
}

var activeStatuses = set(domain.ProposalApproved, domain.ProposalBuilding, domain.ProposalReadyToLaunch)

var planBuildableStatuses = set(domain.ProposalApproved, domain.ProposalBuilding, domain.ProposalReadyToLaunch, domain.ProposalReadyForReview)

var planRequiredStatuses = set(domain.ProposalApproved, domain.ProposalBuilding, domain.ProposalReadyToLaunch, domain.ProposalReadyForReview, domain.ProposalLaunched)

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

func has(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

// ProposalStatuses lists every proposal status.
func ProposalStatuses() []string {
	return []string{
		domain.ProposalDraft, domain.ProposalApproved, domain.ProposalBuilding, domain.ProposalReadyToLaunch,
		domain.ProposalReadyForReview, domain.ProposalLaunched, domain.ProposalRejected, domain.ProposalArchived,
	}
}

// CanTransitionProposal reports whether from -> to is in the transition graph.
func CanTransitionProposal(from, to string) bool {
	for _, s := range proposalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ensureProposalTransition(from, to string) error {
	if CanTransitionProposal(from, to) {
		return nil
	}
	return domain.ConflictError{Code: "invalid_transition", Message: fmt.Sprintf("invalid transition: %s -> %s", from, to)}
}

// EnsureProposalTransition returns a ConflictError when from -> to is not allowed.
func EnsureProposalTransition(from, to string) error {
	return ensureProposalTransition(from, to)
}

// EnsureLaunchTransition returns a ConflictError when a launch may not move from -> to.
func EnsureLaunchTransition(from, to string) error {
	if _, ok := launchTransitions[to]; !ok {
		return domain.ClientError{Code: "invalid_launch_status", Message: fmt.Sprintf("unknown launch status: %s", to)}
	}
	for _, s := range launchTransitions[from] {
		if s == to {
			return nil
		}
	}
	return domain.ConflictError{Code: "invalid_transition", Message: fmt.Sprintf("invalid launch transition: %s -> %s", from, to)}
}

// IsActive reports whether a proposal status counts toward the single-active rule.
func IsActive(status string) bool { return has(activeStatuses, status) }

// CanBuildPlan reports whether a plan may be built for a proposal in status.
func CanBuildPlan(status string) bool { return has(planBuildableStatuses, status) }

// RequiresPlan reports whether a proposal in status must have a plan.
func RequiresPlan(status string) bool { return has(planRequiredStatuses, status) }
