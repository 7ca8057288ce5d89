package product

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treta/internal/domain"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGenerateProposalPicksBestTheme(t *testing.T) {
	o := domain.Opportunity{ID: "opp-1", Title: "Need a media kit", Summary: "UGC sponsorship rate sheet help"}
	p := GenerateProposal(o, fixedNow)

	assert.Equal(t, "Media Kit + Pitch Kit", p.ProductName)
	assert.Equal(t, "24", p.PriceSuggestion)
	assert.Equal(t, 9, p.Confidence)
	assert.Equal(t, domain.ProposalDraft, p.Status)
	require.NotNil(t, p.SourceOpportunityID)
	assert.Equal(t, "opp-1", *p.SourceOpportunityID)
	assert.Equal(t, "2024-03-01T12:00:00Z", p.CreatedAt)
	assert.Len(t, p.ID, 32)
}

func TestGenerateProposalFallback(t *testing.T) {
	p := GenerateProposal(domain.Opportunity{Title: "unrelated"}, fixedNow)
	assert.Equal(t, "Proposal + Pricing Pack", p.ProductName)
	assert.Equal(t, 6, p.Confidence)
	assert.Nil(t, p.SourceOpportunityID)
	assert.Contains(t, p.Reasoning, "(0 keyword hit(s))")
}

func TestBuildPlan(t *testing.T) {
	p := GenerateProposal(domain.Opportunity{Title: "client onboarding automation"}, fixedNow)
	plan := BuildPlan(p, fixedNow)

	assert.Equal(t, p.ID, plan.ProposalID)
	assert.NotEmpty(t, plan.PlanID)
	require.Len(t, plan.BuildSteps, 4)
	assert.Equal(t, "Set one measurable outcome for Client Onboarding System Kit and lock v1 boundaries.", plan.BuildSteps[0].Details)
	assert.Contains(t, plan.Deliverables, "Notion setup checklist")
	assert.Contains(t, plan.Deliverables, "Document structure")
	assert.Equal(t, "Launch checklist", plan.Deliverables[len(plan.Deliverables)-1])
	assert.Equal(t, []string{"Instagram", "Email newsletter", "Private community"}, plan.LaunchPlan.DistributionChannels)
	assert.Equal(t, "Validation: Interview 5 service providers", plan.Outline[3])
	assert.Equal(t, "Client Onboarding System Kit", plan.LaunchPlan.ListingCopy.Title)
}

func TestBuildExecutionPackage(t *testing.T) {
	p := domain.ProductProposal{ID: "p1", ProductName: "Kit", TargetAudience: "coaches", PriceSuggestion: "29"}
	pkg := BuildExecutionPackage(p, domain.ProductPlan{PlanID: "plan-1"}, fixedNow)

	assert.Equal(t, "Built a new Kit for coaches - looking for feedback", pkg.ForumPost.Title)
	assert.Contains(t, pkg.ForumPost.Body, "Current price direction: $29.")
	assert.Contains(t, pkg.ListingDescription, "Generated from existing proposal data.")
	assert.Equal(t, "plan-1", pkg.PlanID)
	assert.Len(t, pkg.LaunchSteps, 3)
}

func TestPlanAction(t *testing.T) {
	assert.Equal(t, "relaunch", PlanAction("stale_product").Action)
	assert.Equal(t, 8, PlanAction("growing_product").Priority)
	assert.Equal(t, "optimize", PlanAction("top_product").Action)
	assert.Equal(t, ActionPlan{Action: "analyze", Steps: []string{"Collect additional context"}, Priority: 1}, PlanAction("other"))
}
