// Package product turns opportunities into product proposals and proposals
// into build plans and launch-ready execution packages.
package product

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"treta/internal/domain"
)

type theme struct {
	keywords         []string
	productName      string
	productType      string
	targetAudience   string
	coreProblem      string
	solution         string
	format           string
	priceMin         int
	priceMax         int
	deliverables     []string
	positioning      string
	distributionPlan []string
	validationPlan   []string
}

var themes = []theme{
	{
		keywords:       []string{"media kit", "brand collaboration", "sponsorship", "ugc", "rate sheet"},
		productName:    "Media Kit + Pitch Kit",
		productType:    "kit",
		targetAudience: "Creators and freelancers pitching brand partnerships",
		coreProblem:    "They struggle to present value and rates clearly to brands.",
		solution:       "A ready-to-customize media kit and outreach pitch flow.",
		format:         "Canva+Notion",
		priceMin:       19,
		priceMax:       29,
		deliverables:   []string{"Media kit template", "Rate sheet template", "Brand pitch email scripts", "Collaboration tracker"},
		positioning:    "Close brand deals faster with a polished creator offer.",
		distributionPlan: []string{
			"Post before/after media kit examples on social",
			"Share case study thread with one brand win",
			"Add lead magnet teaser in newsletter",
		},
		validationPlan: []string{
			"Run 3 customer interviews with creators",
			"Pre-sell to newsletter audience with waitlist",
			"A/B test €19 vs €29 pricing",
		},
	},
	{
		keywords:       []string{"onboarding", "client intake", "coaching", "automation"},
		productName:    "Client Onboarding System Kit",
		productType:    "kit",
		targetAudience: "Service providers and coaches onboarding new clients",
		coreProblem:    "Manual onboarding is inconsistent and wastes billable time.",
		solution:       "Standardized onboarding assets and automations for smoother delivery.",
		format:         "Notion+Google Docs",
		priceMin:       29,
		priceMax:       59,
		deliverables:   []string{"Client intake form templates", "Onboarding checklist", "Welcome email automation copy", "Kickoff call agenda"},
		positioning:    "Deliver a premium first impression without extra admin work.",
		distributionPlan: []string{
			"Publish onboarding workflow reel",
			"Offer free mini-checklist as lead magnet",
			"Cross-sell to existing service clients",
		},
		validationPlan: []string{
			"Interview 5 service providers",
			"Soft launch to warm audience",
			"Collect completion time improvements",
		},
	},
	{
		keywords:       []string{"proposal", "client proposal", "freelance", "pricing"},
		productName:    "Proposal + Pricing Pack",
		productType:    "template_pack",
		targetAudience: "Freelancers and boutique studios selling services",
		coreProblem:    "Weak proposals and unclear pricing reduce close rates.",
		solution:       "Reusable proposal and pricing templates designed to convert.",
		format:         "Canva+Google Docs",
		priceMin:       19,
		priceMax:       39,
		deliverables:   []string{"Service proposal templates", "Pricing menu templates", "Scope of work blocks", "Objection handling snippets"},
		positioning:    "Send clearer proposals and justify premium pricing.",
		distributionPlan: []string{
			"Share proposal teardown content",
			"Post pricing mistakes checklist",
			"Bundle with discovery call script",
		},
		validationPlan: []string{
			"Run a pre-order with founding customer bonus",
			"Measure conversion rate uplift from buyers",
			"Offer 10 pilot licenses and gather testimonials",
		},
	},
	{
		keywords:       []string{"notion template"},
		productName:    "Notion Template Pack",
		productType:    "template_pack",
		targetAudience: "Solopreneurs organizing workflows in Notion",
		coreProblem:    "They spend too much time building systems from scratch.",
		solution:       "A plug-and-play bundle of business workflow templates.",
		format:         "Notion",
		priceMin:       9,
		priceMax:       29,
		deliverables:   []string{"Notion dashboard template", "Task and project tracker", "Content planner", "CRM mini-database"},
		positioning:    "Get an organized business OS in minutes.",
		distributionPlan: []string{
			"Publish template walkthrough video",
			"Offer free lite template",
			"List on Notion template communities",
		},
		validationPlan: []string{
			"Track downloads of free lite version",
			"Survey users on desired add-ons",
			"Test €9 entry vs €29 premium bundle",
		},
	},
	{
		keywords:       []string{"email pitch", "outreach"},
		productName:    "Outreach Email Scripts Pack",
		productType:    "guide",
		targetAudience: "Freelancers and creators doing cold outreach",
		coreProblem:    "Cold pitches are generic and get ignored.",
		solution:       "Proven outreach scripts with personalization framework.",
		format:         "Google Docs",
		priceMin:       9,
		priceMax:       19,
		deliverables:   []string{"Cold outreach script library", "Follow-up sequence templates", "Personalization prompt matrix", "Subject line swipe file"},
		positioning:    "Book more replies with concise, high-intent outreach.",
		distributionPlan: []string{
			"Post outreach reply-rate case studies",
			"Offer one free script in lead magnet",
			"Partner with creator newsletters",
		},
		validationPlan: []string{
			"Test scripts with 20-email pilot",
			"Gather baseline and improved reply rates",
			"Collect buyer feedback on script clarity",
		},
	},
}

// fallbackTheme is used when no keyword matches.
const fallbackTheme = 2

// NewID returns a dashless random id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateProposal picks the theme with the most keyword hits in the
// opportunity's title and summary and fills a draft proposal from it.
func GenerateProposal(o domain.Opportunity, now time.Time) domain.ProductProposal {
	text := strings.ToLower(o.Title + " " + o.Summary)
	best, hits := fallbackTheme, 0
	for i, th := range themes {
		n := 0
		for _, k := range th.keywords {
			if strings.Contains(text, k) {
				n++
			}
		}
		if n > hits {
			best, hits = i, n
		}
	}
	th := themes[best]
	ts := now.UTC().Format(time.RFC3339)
	p := domain.ProductProposal{
		ID:               NewID(),
		CreatedAt:        ts,
		UpdatedAt:        ts,
		ProductName:      th.productName,
		ProductType:      th.productType,
		TargetAudience:   th.targetAudience,
		CoreProblem:      th.coreProblem,
		Solution:         th.solution,
		Format:           th.format,
		PriceSuggestion:  fmt.Sprintf("%d", int(math.RoundToEven(float64(th.priceMin+th.priceMax)/2))),
		Deliverables:     append([]string(nil), th.deliverables...),
		Positioning:      th.positioning,
		DistributionPlan: append([]string(nil), th.distributionPlan...),
		ValidationPlan:   append([]string(nil), th.validationPlan...),
		Confidence:       min(10, 5+max(hits, 1)),
		Reasoning:        fmt.Sprintf("Selected %s from keyword heuristic matches (%d keyword hit(s)) in title/summary.", th.productName, hits),
		Status:           domain.ProposalDraft,
	}
	if o.ID != "" {
		id := o.ID
		p.SourceOpportunityID = &id
	}
	return p
}
