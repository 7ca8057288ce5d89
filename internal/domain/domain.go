package domain

// Opportunity statuses.
const (
	OpportunityNew                   = "new"
	OpportunityEvaluated             = "evaluated"
	OpportunityDismissed             = "dismissed"
	OpportunityStrategicallyFiltered = "strategically_filtered"
)

// Proposal statuses.
const (
	ProposalDraft          = "draft"
	ProposalApproved       = "approved"
	ProposalBuilding       = "building"
	ProposalReadyToLaunch  = "ready_to_launch"
	ProposalReadyForReview = "ready_for_review"
	ProposalLaunched       = "launched"
	ProposalRejected       = "rejected"
	ProposalArchived       = "archived"
)

// Launch statuses.
const (
	LaunchDraft    = "draft"
	LaunchActive   = "active"
	LaunchPaused   = "paused"
	LaunchArchived = "archived"
)

// Strategy action types.
const (
	ActionScale             = "scale"
	ActionReview            = "review"
	ActionPriceTest         = "price_test"
	ActionNewProduct        = "new_product"
	ActionArchive           = "archive"
	ActionDraftAsset        = "draft_asset"
	ActionQueueExternalTask = "queue_external_task"
	ActionExternalPublish   = "external_publish"
	ActionExternalPriceSet  = "external_price_update"
)

// Strategy action statuses.
const (
	ActionPendingConfirmation = "pending_confirmation"
	ActionExecuted            = "executed"
	ActionAutoExecuted        = "auto_executed"
	ActionRejected            = "rejected"
)

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Execution statuses.
const (
	ExecutionQueued        = "queued"
	ExecutionRunning       = "running"
	ExecutionSuccess       = "success"
	ExecutionFailed        = "failed"
	ExecutionFailedTimeout = "failed_timeout"
	ExecutionSkipped       = "skipped"
)

// Decision log vocabulary.
const (
	DecisionTypeAutonomy       = "autonomy"
	DecisionTypeStrategyAction = "strategy_action"
	DecisionTypeOpportunity    = "opportunity"

	DecisionAllow     = "ALLOW"
	DecisionDeny      = "DENY"
	DecisionManual    = "MANUAL"
	DecisionRecommend = "RECOMMEND"
	DecisionRecord    = "RECORD"

	LogRecorded = "recorded"
	LogExecuted = "executed"
	LogSkipped  = "skipped"
	LogFailed   = "failed"
)

type OpportunityDecision struct {
	Score     float64 `json:"score"`
	Decision  string  `json:"decision" enum:"execute,discourage,warn_overload,reject"`
	Reasoning string  `json:"reasoning"`
}

type Opportunity struct {
	ID        string               `json:"id"`
	CreatedAt string               `json:"created_at" format:"date-time"`
	Source    string               `json:"source"`
	Title     string               `json:"title"`
	Summary   string               `json:"summary"`
	Payload   map[string]any       `json:"opportunity"`
	Decision  *OpportunityDecision `json:"decision,omitempty"`
	Status    string               `json:"status" enum:"new,evaluated,dismissed,strategically_filtered"`
}

type ProductProposal struct {
	ID                  string   `json:"id"`
	CreatedAt           string   `json:"created_at" format:"date-time"`
	UpdatedAt           string   `json:"updated_at" format:"date-time"`
	SourceOpportunityID *string  `json:"source_opportunity_id,omitempty"`
	ProductName         string   `json:"product_name"`
	ProductType         string   `json:"product_type"`
	TargetAudience      string   `json:"target_audience"`
	CoreProblem         string   `json:"core_problem"`
	Solution            string   `json:"solution"`
	Format              string   `json:"format"`
	PriceSuggestion     string   `json:"price_suggestion"`
	Deliverables        []string `json:"deliverables"`
	Positioning         string   `json:"positioning"`
	DistributionPlan    []string `json:"distribution_plan"`
	ValidationPlan      []string `json:"validation_plan"`
	Confidence          int      `json:"confidence" minimum:"1" maximum:"10"`
	Reasoning           string   `json:"reasoning"`
	AlignmentScore      *float64 `json:"alignment_score,omitempty"`
	AlignmentReason     *string  `json:"alignment_reason,omitempty"`
	Status              string   `json:"status" enum:"draft,approved,building,ready_to_launch,ready_for_review,launched,rejected,archived"`
	ActiveExecution     bool     `json:"active_execution"`
}

type BuildStep struct {
	Step    int    `json:"step"`
	Title   string `json:"title"`
	Details string `json:"details"`
}

type ListingCopy struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	Bullets  []string `json:"bullets"`
}

type LaunchPlan struct {
	Positioning          string      `json:"positioning"`
	HookIdeas            []string    `json:"hook_ideas"`
	DistributionChannels []string    `json:"distribution_channels"`
	ForumPostTemplates   []string    `json:"forum_post_templates"`
	ListingCopy          ListingCopy `json:"gumroad_listing_copy"`
}

type ProductPlan struct {
	PlanID          string      `json:"plan_id"`
	ProposalID      string      `json:"proposal_id"`
	CreatedAt       string      `json:"created_at" format:"date-time"`
	ProductName     string      `json:"product_name"`
	TargetAudience  string      `json:"target_audience"`
	Format          string      `json:"format"`
	PriceSuggestion string      `json:"price_suggestion"`
	Outline         []string    `json:"outline"`
	Deliverables    []string    `json:"deliverables"`
	BuildSteps      []BuildStep `json:"build_steps"`
	LaunchPlan      LaunchPlan  `json:"launch_plan"`
}

type ForumPostDraft struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ExecutionPackage is the launch-ready copy generated when a plan is executed.
type ExecutionPackage struct {
	ProposalID         string         `json:"proposal_id"`
	PlanID             string         `json:"plan_id"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
	ForumPost          ForumPostDraft `json:"reddit_post"`
	ListingDescription string         `json:"gumroad_description"`
	ShortPitch         string         `json:"short_pitch"`
	PricingStrategy    string         `json:"pricing_strategy"`
	LaunchSteps        []string       `json:"launch_steps"`
}

type LaunchMetrics struct {
	Views   int     `json:"views"`
	Clicks  int     `json:"clicks"`
	Sales   int     `json:"sales"`
	Revenue float64 `json:"revenue"`
}

type ProductLaunch struct {
	ID                string        `json:"id"`
	ProposalID        string        `json:"proposal_id"`
	ProductName       string        `json:"product_name"`
	CreatedAt         string        `json:"created_at" format:"date-time"`
	LaunchedAt        *string       `json:"launched_at,omitempty" format:"date-time"`
	Status            string        `json:"status" enum:"draft,active,paused,archived"`
	Metrics           LaunchMetrics `json:"metrics"`
	GumroadProductID  *string       `json:"gumroad_product_id,omitempty"`
	LastGumroadSaleID *string       `json:"last_gumroad_sale_id,omitempty"`
	LastGumroadSyncAt *string       `json:"last_gumroad_sync_at,omitempty" format:"date-time"`
	ActiveExecution   bool          `json:"active_execution"`
}

// Sale is one payment pulled from the sales platform. Amount is in currency
// units, not cents.
type Sale struct {
	ID        string  `json:"id"`
	ProductID string  `json:"product_id"`
	Amount    float64 `json:"amount"`
	CreatedAt string  `json:"created_at"`
}

type StrategyAction struct {
	ID                  string   `json:"id"`
	Type                string   `json:"type"`
	TargetID            string   `json:"target_id"`
	Reasoning           string   `json:"reasoning"`
	Status              string   `json:"status" enum:"pending_confirmation,executed,auto_executed,rejected"`
	CreatedAt           string   `json:"created_at" format:"date-time"`
	ExecutedAt          *string  `json:"executed_at,omitempty" format:"date-time"`
	Sales               *int     `json:"sales,omitempty"`
	RiskLevel           string   `json:"risk_level" enum:"low,medium,high"`
	ExpectedImpactScore int      `json:"expected_impact_score" minimum:"1" maximum:"10"`
	AutoExecutable      bool     `json:"auto_executable"`
	DecisionID          *string  `json:"decision_id,omitempty"`
	EventID             *string  `json:"event_id,omitempty"`
	TraceID             *string  `json:"trace_id,omitempty"`
	RevenueDelta        *float64 `json:"revenue_delta,omitempty"`
}

type DecisionLog struct {
	ID             int64          `json:"id"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	DecisionType   string         `json:"decision_type" enum:"autonomy,strategy_action,opportunity"`
	EntityType     *string        `json:"entity_type,omitempty"`
	EntityID       *string        `json:"entity_id,omitempty"`
	ActionType     *string        `json:"action_type,omitempty"`
	Decision       string         `json:"decision" enum:"ALLOW,DENY,MANUAL,RECOMMEND,RECORD"`
	RiskScore      *float64       `json:"risk_score,omitempty"`
	AutonomyScore  *float64       `json:"autonomy_score,omitempty"`
	PolicyName     string         `json:"policy_name"`
	PolicySnapshot map[string]any `json:"policy_snapshot"`
	Inputs         map[string]any `json:"inputs"`
	Outputs        map[string]any `json:"outputs"`
	Reason         string         `json:"reason"`
	CorrelationID  string         `json:"correlation_id"`
	Status         string         `json:"status" enum:"recorded,executed,skipped,failed"`
	Error          *string        `json:"error,omitempty"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

type ActionExecution struct {
	ID            int64          `json:"id"`
	ActionID      string         `json:"action_id"`
	ActionType    string         `json:"action_type"`
	Status        string         `json:"status" enum:"queued,running,success,failed,failed_timeout,skipped"`
	Executor      string         `json:"executor"`
	StartedAt     string         `json:"started_at" format:"date-time"`
	FinishedAt    *string        `json:"finished_at,omitempty" format:"date-time"`
	RequestID     string         `json:"request_id"`
	TraceID       string         `json:"trace_id"`
	CorrelationID string         `json:"correlation_id"`
	InputPayload  map[string]any `json:"input_payload"`
	OutputPayload map[string]any `json:"output_payload"`
	Error         *string        `json:"error,omitempty"`
}

// AdaptivePolicyState is the single persisted row of the adaptive autonomy policy.
type AdaptivePolicyState struct {
	ImpactThreshold          int                `json:"impact_threshold"`
	MaxAutoExecutionsPer24h  int                `json:"max_auto_executions_per_24h"`
	TotalAutoExecutedActions int                `json:"total_auto_executed_actions"`
	SuccessfulActions        int                `json:"successful_actions"`
	RevenueDeltaPerAction    []float64          `json:"revenue_delta_per_action"`
	StrategyWeights          map[string]float64 `json:"strategy_weights"`
}

// StrategyPerformance aggregates decision outcomes for one action type.
type StrategyPerformance struct {
	ActionType       string  `json:"action_type"`
	TotalDecisions   int     `json:"total_decisions"`
	AvgRevenue       float64 `json:"avg_revenue"`
	SuccessRate      float64 `json:"success_rate"`
	AvgPredictedRisk float64 `json:"avg_predicted_risk"`
	Score            float64 `json:"score"`
}

// IsTerminalExecution reports whether an execution status is final.
func IsTerminalExecution(status string) bool {
	switch status {
	case ExecutionSuccess, ExecutionFailed, ExecutionFailedTimeout, ExecutionSkipped:
		return true
	}
	return false
}
