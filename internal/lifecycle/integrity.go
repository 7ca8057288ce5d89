package lifecycle

import "treta/internal/domain"

const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"

	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

type Issue struct {
	Type     string         `json:"type"`
	Severity string         `json:"severity" enum:"warning,critical"`
	ID       string         `json:"id"`
	Details  map[string]any `json:"details"`
}

type Counts struct {
	Proposals int `json:"proposals"`
	Plans     int `json:"plans"`
	Launches  int `json:"launches"`
	Issues    int `json:"issues"`
}

// Report summarizes referential health across proposals, plans and launches.
type Report struct {
	Status string  `json:"status" enum:"healthy,warning,critical"`
	Issues []Issue `json:"issues"`
	Counts Counts  `json:"counts"`
}

func orUnknown(ids ...string) string {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return "unknown"
}

// ComputeIntegrity reports every referential problem without failing on any.
func ComputeIntegrity(s Snapshot) Report {
	issues := []Issue{}
	proposals := map[string]domain.ProductProposal{}
	for _, p := range s.Proposals {
		if p.ID != "" {
			proposals[p.ID] = p
		}
	}
	plansByProposal := map[string]int{}
	for _, pl := range s.Plans {
		if pl.ProposalID != "" {
			plansByProposal[pl.ProposalID]++
		}
		if _, ok := proposals[pl.ProposalID]; pl.ProposalID == "" || !ok {
			issues = append(issues, Issue{Type: "orphan_plan", Severity: SeverityWarning, ID: orUnknown(pl.PlanID, pl.ProposalID),
				Details: map[string]any{"plan_id": pl.PlanID, "proposal_id": pl.ProposalID}})
		}
	}
	liveLaunches := map[string]int{}
	anyLaunches := map[string]int{}
	for _, l := range s.Launches {
		if l.ProposalID != "" {
			anyLaunches[l.ProposalID]++
			if l.Status != domain.LaunchArchived {
				liveLaunches[l.ProposalID]++
			}
		}
		p, ok := proposals[l.ProposalID]
		if l.ProposalID == "" || !ok {
			issues = append(issues, Issue{Type: "launch_without_proposal", Severity: SeverityCritical, ID: orUnknown(l.ID, l.ProposalID),
				Details: map[string]any{"launch_id": l.ID, "proposal_id": l.ProposalID}})
			continue
		}
		if RequiresPlan(p.Status) && plansByProposal[l.ProposalID] == 0 {
			issues = append(issues, Issue{Type: "launch_without_plan", Severity: SeverityCritical, ID: orUnknown(l.ID, l.ProposalID),
				Details: map[string]any{"launch_id": l.ID, "proposal_id": l.ProposalID}})
		}
	}
	for _, p := range s.Proposals {
		hasPlan := plansByProposal[p.ID] > 0
		if RequiresPlan(p.Status) && !hasPlan {
			issues = append(issues, Issue{Type: "missing_plan", Severity: SeverityCritical, ID: orUnknown(p.ID),
				Details: map[string]any{"proposal_id": p.ID, "status": p.Status}})
		}
		if p.Status == domain.ProposalArchived && (hasPlan || liveLaunches[p.ID] > 0) {
			issues = append(issues, Issue{Type: "archived_with_active_artifacts", Severity: SeverityWarning, ID: orUnknown(p.ID),
				Details: map[string]any{"proposal_id": p.ID, "has_plan": hasPlan, "has_launch": liveLaunches[p.ID] > 0}})
		}
		if p.Status == domain.ProposalDraft && anyLaunches[p.ID] > 0 {
			issues = append(issues, Issue{Type: "draft_with_launch", Severity: SeverityWarning, ID: orUnknown(p.ID),
				Details: map[string]any{"proposal_id": p.ID}})
		}
	}

	status := StatusHealthy
	for _, is := range issues {
		if is.Severity == SeverityCritical {
			status = StatusCritical
			break
		}
		status = StatusWarning
	}
	return Report{
		Status: status,
		Issues: issues,
		Counts: Counts{Proposals: len(s.Proposals), Plans: len(s.Plans), Launches: len(s.Launches), Issues: len(issues)},
	}
}
