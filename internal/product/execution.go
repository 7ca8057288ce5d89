package product

import (
	"fmt"
	"strings"
	"time"

	"treta/internal/domain"
)

// BuildExecutionPackage writes the launch copy for a proposal and its plan.
func BuildExecutionPackage(p domain.ProductProposal, plan domain.ProductPlan, now time.Time) domain.ExecutionPackage {
	name := or(strings.TrimSpace(p.ProductName), "Untitled Product")
	audience := or(strings.TrimSpace(p.TargetAudience), "professionals")
	reasoning := or(strings.TrimSpace(p.Reasoning), "Generated from existing proposal data.")
	price := "a clear starter price"
	if strings.TrimSpace(p.PriceSuggestion) != "" {
		price = "$" + strings.TrimSpace(p.PriceSuggestion)
	}

	return domain.ExecutionPackage{
		ProposalID: p.ID,
		PlanID:     plan.PlanID,
		CreatedAt:  now.UTC().Format(time.RFC3339),
		ForumPost: domain.ForumPostDraft{
			Title: fmt.Sprintf("Built a new %s for %s - looking for feedback", name, audience),
			Body: strings.Join([]string{
				fmt.Sprintf("I just packaged a product called '%s'.", name),
				fmt.Sprintf("It is designed for %s.", audience),
				fmt.Sprintf("Current price direction: %s.", price),
				"",
				"Why this product:",
				reasoning,
				"",
				"I can share details if this sounds useful.",
			}, "\n"),
		},
		ListingDescription: strings.Join([]string{
			fmt.Sprintf("%s helps %s implement a practical workflow faster.", name, audience),
			fmt.Sprintf("Suggested price point: %s.", price),
			"",
			"What this solves:",
			reasoning,
			"",
			"Built for immediate use with simple copy/paste implementation.",
		}, "\n"),
		ShortPitch:      fmt.Sprintf("%s for %s with a focused, ready-to-ship workflow.", name, audience),
		PricingStrategy: fmt.Sprintf("Launch at %s, gather first buyer feedback, then adjust in small increments after validating conversion and buyer outcomes.", price),
		LaunchSteps: []string{
			"Publish the Reddit post and collect early feedback signals.",
			"Publish the Gumroad product page with the prepared description and pricing.",
			"Promote to existing audience and track first-week conversion notes.",
		},
	}
}
