// Package control routes events to their handlers. The dispatcher seeds the
// trace, validates against the catalog, deduplicates by event id and pushes
// the follow-up actions back onto the bus.
package control

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/engine"
	"treta/internal/events"
	"treta/internal/execution"
	"treta/internal/integrations"
	"treta/internal/logging"
	"treta/internal/opportunity"
	"treta/internal/repo"
	"treta/internal/statemachine"
	"treta/internal/store"
	"treta/internal/strategy"
)

const (
	DefaultCooldown = time.Second

	// CooldownPolicy names the decision log rows of skipped decisions.
	CooldownPolicy = "StrategyDecisionCooldown"
)

// DefaultSubreddits are scanned when none are configured.
var DefaultSubreddits = []string{"UGCcreators", "freelance", "ContentCreators", "smallbusiness"}

// Action is a follow-up a handler asks the dispatcher to publish.
type Action struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// PostSource lists public forum posts.
type PostSource interface {
	FetchPosts(ctx context.Context, subreddit string, limit int) ([]integrations.Post, error)
}

// SalesPlatform is the sales platform as seen by the stats handler.
type SalesPlatform interface {
	Products(ctx context.Context) ([]integrations.Product, error)
	Sales(ctx context.Context, productID string) ([]domain.Sale, error)
	Revenue(ctx context.Context) (integrations.RevenueSummary, error)
}

// ActionExecutor runs or rejects one pending strategy action.
type ActionExecutor interface {
	Execute(ctx context.Context, actionID, status string) (execution.Outcome, error)
	Reject(ctx context.Context, actionID string) (domain.StrategyAction, error)
}

// Control owns the handler table and everything the handlers touch.
type Control struct {
	Engine        engine.Engine
	Stores        *store.Stores
	Repo          repo.Repo
	Strategy      strategy.Orchestrator
	Executor      ActionExecutor
	Confirmations *ConfirmationQueue
	Machine       *statemachine.Machine
	// LLM is optional; replies fall back to a deterministic summary.
	LLM           strategy.Chatter
	Forum         PostSource
	Sales         SalesPlatform
	Evaluator     opportunity.Evaluator
	Subreddits    []string
	PainThreshold int
	Cooldown      time.Duration
	Log           *zap.Logger
	Now           func() time.Time

	decideMu sync.Mutex
}

func (c *Control) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

func (c *Control) log() *zap.Logger {
	return logging.OrNop(c.Log)
}

type handlerFunc func(c *Control, ctx context.Context, e events.Event) ([]Action, error)

var handlers = map[string]handlerFunc{
	events.DailyBriefRequested:      (*Control).dailyBrief,
	events.OpportunityScanRequested: (*Control).opportunityScan,
	events.EmailTriageRequested:     (*Control).emailTriage,
	events.RunInfoproductScan:       (*Control).infoproductScan,
	events.GumroadStatsRequested:    (*Control).salesStats,

	events.OpportunityDetected:     (*Control).opportunityDetected,
	events.ListOpportunities:       (*Control).listOpportunities,
	events.EvaluateOpportunityByID: (*Control).evaluateOpportunityByID,
	events.EvaluateOpportunity:     (*Control).evaluateOpportunity,
	events.OpportunityDismissed:    (*Control).dismissOpportunity,

	events.ListProductProposals:   (*Control).listProposals,
	events.GetProductProposalByID: (*Control).getProposal,
	events.ApproveProposal:        (*Control).transitionProposal,
	events.RejectProposal:         (*Control).transitionProposal,
	events.StartBuildingProposal:  (*Control).transitionProposal,
	events.MarkReadyToLaunch:      (*Control).transitionProposal,
	events.MarkProposalLaunched:   (*Control).transitionProposal,
	events.ArchiveProposal:        (*Control).transitionProposal,

	events.BuildProductPlanRequested:   (*Control).buildPlan,
	events.ListProductPlansRequested:   (*Control).listPlans,
	events.GetProductPlanRequested:     (*Control).getPlan,
	events.ExecuteProductPlanRequested: (*Control).executePlan,

	events.ListProductLaunchesRequested:  (*Control).listLaunches,
	events.GetProductLaunchRequested:     (*Control).getLaunch,
	events.AddProductLaunchSale:          (*Control).addLaunchSale,
	events.TransitionProductLaunchStatus: (*Control).transitionLaunch,

	events.ActionApproved:           (*Control).actionApproved,
	events.ActionPlanGenerated:      (*Control).actionPlanGenerated,
	events.ListPendingConfirmations: (*Control).listConfirmations,
	events.ConfirmAction:            (*Control).confirmAction,
	events.RejectAction:             (*Control).rejectAction,

	events.RunStrategyDecision:   (*Control).runStrategyDecision,
	events.ExecuteStrategyAction: (*Control).executeStrategyAction,

	events.UserMessageSubmitted: (*Control).userMessage,
	events.Heartbeat:            (*Control).heartbeat,
}

// Handles reports whether an event type has a handler.
func Handles(eventType string) bool {
	_, ok := handlers[eventType]
	return ok
}

// Consume runs the handler for e and returns its follow-up actions. Types
// without a handler yield nothing.
func (c *Control) Consume(ctx context.Context, e events.Event) ([]Action, error) {
	h, ok := handlers[e.Type]
	if !ok {
		return nil, nil
	}
	return h(c, ctx, e)
}
