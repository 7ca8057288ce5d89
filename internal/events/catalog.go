package events

import "sort"

// Event types accepted by the dispatcher and POST /event.
const (
	WakeWordDetected = "WakeWordDetected"
	TranscriptReady  = "TranscriptReady"
	LLMResponseReady = "LLMResponseReady"
	TTSFinished      = "TTSFinished"
	ErrorOccurred    = "ErrorOccurred"
	Heartbeat        = "Heartbeat"

	UserMessageSubmitted      = "UserMessageSubmitted"
	AssistantMessageGenerated = "AssistantMessageGenerated"

	DailyBriefRequested      = "DailyBriefRequested"
	OpportunityScanRequested = "OpportunityScanRequested"
	RunInfoproductScan       = "RunInfoproductScan"
	EmailTriageRequested     = "EmailTriageRequested"
	EvaluateOpportunity      = "EvaluateOpportunity"
	OpportunityDetected      = "OpportunityDetected"
	ListOpportunities        = "ListOpportunities"
	EvaluateOpportunityByID  = "EvaluateOpportunityById"
	OpportunityDismissed     = "OpportunityDismissed"

	ListProductProposals        = "ListProductProposals"
	GetProductProposalByID      = "GetProductProposalById"
	BuildProductPlanRequested   = "BuildProductPlanRequested"
	ListProductPlansRequested   = "ListProductPlansRequested"
	GetProductPlanRequested     = "GetProductPlanRequested"
	ExecuteProductPlanRequested = "ExecuteProductPlanRequested"

	ApproveProposal       = "ApproveProposal"
	RejectProposal        = "RejectProposal"
	StartBuildingProposal = "StartBuildingProposal"
	MarkReadyToLaunch     = "MarkReadyToLaunch"
	MarkProposalLaunched  = "MarkProposalLaunched"
	ArchiveProposal       = "ArchiveProposal"

	ListProductLaunchesRequested  = "ListProductLaunchesRequested"
	GetProductLaunchRequested     = "GetProductLaunchRequested"
	AddProductLaunchSale          = "AddProductLaunchSale"
	TransitionProductLaunchStatus = "TransitionProductLaunchStatus"

	GumroadStatsRequested = "GumroadStatsRequested"

	ActionApproved           = "ActionApproved"
	ActionPlanGenerated      = "ActionPlanGenerated"
	ConfirmAction            = "ConfirmAction"
	RejectAction             = "RejectAction"
	ListPendingConfirmations = "ListPendingConfirmations"

	RunStrategyDecision       = "RunStrategyDecision"
	StrategyDecisionCompleted = "StrategyDecisionCompleted"
	ExecuteStrategyAction     = "ExecuteStrategyAction"

	RedditDailyPlanGenerated = "RedditDailyPlanGenerated"
)

// Notification types are emitted by handlers as follow-up actions. They are
// routed like any event but are not accepted from clients.
const (
	BuildDailyBrief              = "BuildDailyBrief"
	RunOpportunityScan           = "RunOpportunityScan"
	RunEmailTriage               = "RunEmailTriage"
	GumroadStatsReady            = "GumroadStatsReady"
	AwaitingConfirmation         = "AwaitingConfirmation"
	PendingConfirmationsListed   = "PendingConfirmationsListed"
	ActionConfirmed              = "ActionConfirmed"
	ActionRejected               = "ActionRejected"
	OpportunitiesListed          = "OpportunitiesListed"
	OpportunityEvaluated         = "OpportunityEvaluated"
	ProductProposalGenerated     = "ProductProposalGenerated"
	ProductProposalsListed       = "ProductProposalsListed"
	ProductProposalFetched       = "ProductProposalFetched"
	ProductProposalStatusChanged = "ProductProposalStatusChanged"
	ProductPlanBuilt             = "ProductPlanBuilt"
	ProductPlansListed           = "ProductPlansListed"
	ProductPlanReturned          = "ProductPlanReturned"
	ProductPlanExecuted          = "ProductPlanExecuted"
	ProductLaunched              = "ProductLaunched"
	ProductLaunchesListed        = "ProductLaunchesListed"
	ProductLaunchReturned        = "ProductLaunchReturned"
	ProductLaunchUpdated         = "ProductLaunchUpdated"
	StrategyActionExecuted       = "StrategyActionExecuted"
	StrategyActionFailed         = "StrategyActionFailed"
	StrategyActionSkipped        = "StrategyActionSkipped"
	AutonomyActionAutoExecuted   = "AutonomyActionAutoExecuted"
	GumroadSalesSynced           = "GumroadSalesSynced"
)

var known = map[string]struct{}{}

var notifications = map[string]struct{}{}

var requiredKeys = map[string][]string{
	EvaluateOpportunityByID:       {"id"},
	OpportunityDismissed:          {"id"},
	GetProductProposalByID:        {"proposal_id"},
	BuildProductPlanRequested:     {"proposal_id"},
	ExecuteProductPlanRequested:   {"proposal_id"},
	ApproveProposal:               {"proposal_id"},
	RejectProposal:                {"proposal_id"},
	StartBuildingProposal:         {"proposal_id"},
	MarkReadyToLaunch:             {"proposal_id"},
	MarkProposalLaunched:          {"proposal_id"},
	ArchiveProposal:               {"proposal_id"},
	GetProductPlanRequested:       {"plan_id"},
	GetProductLaunchRequested:     {"launch_id"},
	AddProductLaunchSale:          {"launch_id", "amount"},
	TransitionProductLaunchStatus: {"launch_id", "status"},
	ConfirmAction:                 {"plan_id"},
	RejectAction:                  {"plan_id"},
	ExecuteStrategyAction:         {"action_id"},
	UserMessageSubmitted:          {"text"},
}

func init() {
	for _, t := range []string{
		WakeWordDetected, TranscriptReady, LLMResponseReady, TTSFinished, ErrorOccurred, Heartbeat,
		UserMessageSubmitted, AssistantMessageGenerated,
		DailyBriefRequested, OpportunityScanRequested, RunInfoproductScan, EmailTriageRequested,
		EvaluateOpportunity, OpportunityDetected, ListOpportunities, EvaluateOpportunityByID, OpportunityDismissed,
		ListProductProposals, GetProductProposalByID, BuildProductPlanRequested, ListProductPlansRequested,
		GetProductPlanRequested, ExecuteProductPlanRequested,
		ApproveProposal, RejectProposal, StartBuildingProposal, MarkReadyToLaunch, MarkProposalLaunched, ArchiveProposal,
		ListProductLaunchesRequested, GetProductLaunchRequested, AddProductLaunchSale, TransitionProductLaunchStatus,
		GumroadStatsRequested,
		ActionApproved, ActionPlanGenerated, ConfirmAction, RejectAction, ListPendingConfirmations,
		RunStrategyDecision, ExecuteStrategyAction,
	} {
		known[t] = struct{}{}
	}
	for _, t := range []string{
		BuildDailyBrief, RunOpportunityScan, RunEmailTriage, GumroadStatsReady, AwaitingConfirmation,
		PendingConfirmationsListed, ActionConfirmed, ActionRejected, OpportunitiesListed, OpportunityEvaluated,
		ProductProposalGenerated, ProductProposalsListed, ProductProposalFetched, ProductProposalStatusChanged,
		ProductPlanBuilt, ProductPlansListed, ProductPlanReturned, ProductPlanExecuted, ProductLaunched,
		ProductLaunchesListed, ProductLaunchReturned, ProductLaunchUpdated, StrategyActionExecuted,
		StrategyActionFailed, StrategyActionSkipped, AutonomyActionAutoExecuted, GumroadSalesSynced,
		StrategyDecisionCompleted, RedditDailyPlanGenerated,
	} {
		notifications[t] = struct{}{}
	}
}

// Known reports whether t is in the event catalog.
func Known(t string) bool {
	_, ok := known[t]
	return ok
}

// IsNotification reports whether t is a handler-emitted notification type.
func IsNotification(t string) bool {
	_, ok := notifications[t]
	return ok
}

// KnownTypes returns the catalog in sorted order.
func KnownTypes() []string {
	out := make([]string, 0, len(known))
	for t := range known {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RequiredKeys returns the payload keys the catalog demands for t.
func RequiredKeys(t string) []string {
	return append([]string(nil), requiredKeys[t]...)
}

// MissingKeys returns the sorted required keys absent from payload.
func MissingKeys(t string, payload map[string]any) []string {
	var missing []string
	for _, k := range requiredKeys[t] {
		if _, ok := payload[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}
