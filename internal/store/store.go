// Package store holds the JSON-backed entity stores kept under the data
// directory.
package store

import (
	"path/filepath"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/jsonstore"
)

const (
	OpportunitiesFile        = "opportunities.json"
	ProposalsFile            = "product_proposals.json"
	PlansFile                = "product_plans.json"
	LaunchesFile             = "product_launches.json"
	ExecutionsFile           = "executions.json"
	ForumPostsFile           = "reddit_posts.json"
	RevenueAttributionFile   = "revenue_attribution.json"
	SubredditPerformanceFile = "subreddit_performance.json"

	// forumPostCapacity bounds scanned posts; everything else is unbounded so
	// eviction can never orphan a plan or launch.
	forumPostCapacity = 500
	executionCapacity = 200
)

// ForumPost is a scanned forum post that passed the pain threshold.
type ForumPost struct {
	ID          string  `json:"id"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	URL         string  `json:"url,omitempty"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	PainScore   float64 `json:"pain_score"`
	ScannedAt   string  `json:"scanned_at"`
}

// Stores groups every JSON entity store.
type Stores struct {
	Dir           string
	Opportunities *jsonstore.List[domain.Opportunity]
	Proposals     *jsonstore.List[domain.ProductProposal]
	Plans         *jsonstore.List[domain.ProductPlan]
	Launches      *jsonstore.List[domain.ProductLaunch]
	Executions    *jsonstore.List[domain.ExecutionPackage]
	ForumPosts    *jsonstore.List[ForumPost]
	Revenue       *RevenueAttribution
	Subreddits    *SubredditPerformance
	Memory        *Memory
}

// Open loads every store from dataDir.
func Open(dataDir string, log *zap.Logger) (*Stores, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("store")
	s := &Stores{Dir: dataDir}
	var err error
	if s.Opportunities, err = jsonstore.OpenList[domain.Opportunity](filepath.Join(dataDir, OpportunitiesFile), 0, log); err != nil {
		return nil, err
	}
	if s.Proposals, err = jsonstore.OpenList[domain.ProductProposal](filepath.Join(dataDir, ProposalsFile), 0, log); err != nil {
		return nil, err
	}
	if s.Plans, err = jsonstore.OpenList[domain.ProductPlan](filepath.Join(dataDir, PlansFile), 0, log); err != nil {
		return nil, err
	}
	if s.Launches, err = jsonstore.OpenList[domain.ProductLaunch](filepath.Join(dataDir, LaunchesFile), 0, log); err != nil {
		return nil, err
	}
	if s.Executions, err = jsonstore.OpenList[domain.ExecutionPackage](filepath.Join(dataDir, ExecutionsFile), executionCapacity, log); err != nil {
		return nil, err
	}
	if s.ForumPosts, err = jsonstore.OpenList[ForumPost](filepath.Join(dataDir, ForumPostsFile), forumPostCapacity, log); err != nil {
		return nil, err
	}
	if s.Revenue, err = OpenRevenueAttribution(filepath.Join(dataDir, RevenueAttributionFile), DefaultRedditWindow, log); err != nil {
		return nil, err
	}
	if s.Subreddits, err = OpenSubredditPerformance(filepath.Join(dataDir, SubredditPerformanceFile), log); err != nil {
		return nil, err
	}
	if s.Memory, err = OpenMemory(filepath.Join(dataDir, MemoryFile), log); err != nil {
		return nil, err
	}
	return s, nil
}

// GetOpportunity returns the opportunity with id.
func (s *Stores) GetOpportunity(id string) (domain.Opportunity, bool) {
	return s.Opportunities.Find(func(o domain.Opportunity) bool { return o.ID == id })
}

// GetProposal returns the proposal with id.
func (s *Stores) GetProposal(id string) (domain.ProductProposal, bool) {
	return s.Proposals.Find(func(p domain.ProductProposal) bool { return p.ID == id })
}

// GetPlan returns the plan with id.
func (s *Stores) GetPlan(id string) (domain.ProductPlan, bool) {
	return s.Plans.Find(func(p domain.ProductPlan) bool { return p.PlanID == id })
}

// PlanForProposal returns the plan built for proposalID.
func (s *Stores) PlanForProposal(proposalID string) (domain.ProductPlan, bool) {
	return s.Plans.Find(func(p domain.ProductPlan) bool { return p.ProposalID == proposalID })
}

// GetLaunch returns the launch with id.
func (s *Stores) GetLaunch(id string) (domain.ProductLaunch, bool) {
	return s.Launches.Find(func(l domain.ProductLaunch) bool { return l.ID == id })
}

// LaunchForProposal returns the launch created for proposalID.
func (s *Stores) LaunchForProposal(proposalID string) (domain.ProductLaunch, bool) {
	return s.Launches.Find(func(l domain.ProductLaunch) bool { return l.ProposalID == proposalID })
}

// ListOpportunities returns up to limit opportunities, newest first, filtered
// by status when non-empty.
func (s *Stores) ListOpportunities(status string, limit int) []domain.Opportunity {
	return newestFirst(s.Opportunities.Items(), limit, func(o domain.Opportunity) bool {
		return status == "" || o.Status == status
	})
}

// ListProposals returns up to limit proposals, newest first.
func (s *Stores) ListProposals(status string, limit int) []domain.ProductProposal {
	return newestFirst(s.Proposals.Items(), limit, func(p domain.ProductProposal) bool {
		return status == "" || p.Status == status
	})
}

// ListPlans returns up to limit plans, newest first.
func (s *Stores) ListPlans(limit int) []domain.ProductPlan {
	return newestFirst(s.Plans.Items(), limit, func(domain.ProductPlan) bool { return true })
}

// ListLaunches returns up to limit launches, newest first.
func (s *Stores) ListLaunches(status string, limit int) []domain.ProductLaunch {
	return newestFirst(s.Launches.Items(), limit, func(l domain.ProductLaunch) bool {
		return status == "" || l.Status == status
	})
}

func newestFirst[T any](items []T, limit int, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if !keep(items[i]) {
			continue
		}
		out = append(out, items[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
