package lifecycle

import "treta/internal/domain"

const (
	FocusProposal = "proposal"
	FocusLaunch   = "launch"
)

// Focus names the single active execution target. The zero value means none.
type Focus struct {
	Kind string `json:"kind,omitempty"`
	ID   string `json:"id,omitempty"`
}

func (f Focus) String() string {
	if f.Kind == "" {
		return "none"
	}
	return f.Kind + ":" + f.ID
}

// SelectFocus picks, newest first: a building proposal, then an approved
// proposal, then a launch whose status is not "launched".
func SelectFocus(s Snapshot) Focus {
	for _, status := range []string{domain.ProposalBuilding, domain.ProposalApproved} {
		for i := len(s.Proposals) - 1; i >= 0; i-- {
			if s.Proposals[i].Status == status {
				return Focus{Kind: FocusProposal, ID: s.Proposals[i].ID}
			}
		}
	}
	for i := len(s.Launches) - 1; i >= 0; i-- {
		if s.Launches[i].Status != domain.ProposalLaunched {
			return Focus{Kind: FocusLaunch, ID: s.Launches[i].ID}
		}
	}
	return Focus{}
}

// ApplyFocus recomputes the focus and rewrites every active_execution flag.
func ApplyFocus(s *Snapshot) Focus {
	f := SelectFocus(*s)
	for i := range s.Proposals {
		s.Proposals[i].ActiveExecution = f.Kind == FocusProposal && s.Proposals[i].ID == f.ID
	}
	for i := range s.Launches {
		s.Launches[i].ActiveExecution = f.Kind == FocusLaunch && s.Launches[i].ID == f.ID
	}
	return f
}
