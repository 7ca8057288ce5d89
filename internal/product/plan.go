package product

import (
	"fmt"
	"strings"
	"time"

	"treta/internal/domain"
)

var formatHints = []struct {
	keyword string
	hints   []string
}{
	{"notion", []string{"Notion setup checklist", "Template database structure", "Video walkthrough"}},
	{"canva", []string{"Editable Canva file organization", "Branding customization notes", "Export presets"}},
	{"google docs", []string{"Document structure", "Reusable copy blocks", "Versioning and sharing settings"}},
	{"gumroad", []string{"Listing setup", "Checkout optimization", "Post-purchase message flow"}},
}

var channelHints = []struct {
	keyword  string
	channels []string
}{
	{"creator", []string{"X/Twitter", "Instagram", "Creator newsletters"}},
	{"freelancer", []string{"LinkedIn", "X/Twitter", "Freelancer communities"}},
	{"coach", []string{"Instagram", "Email newsletter", "Private community"}},
	{"service", []string{"LinkedIn", "Email list", "Industry communities"}},
	{"solopreneur", []string{"X/Twitter", "Indie Hackers", "Email newsletter"}},
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// BuildPlan derives the deterministic build plan for p.
func BuildPlan(p domain.ProductProposal, now time.Time) domain.ProductPlan {
	name := or(p.ProductName, "Untitled Product")
	format := or(p.Format, "Digital")
	deliverables := planDeliverables(p)
	return domain.ProductPlan{
		PlanID:          NewID(),
		ProposalID:      p.ID,
		CreatedAt:       now.UTC().Format(time.RFC3339),
		ProductName:     name,
		TargetAudience:  or(p.TargetAudience, "General digital product buyers"),
		Format:          format,
		PriceSuggestion: p.PriceSuggestion,
		Outline:         planOutline(p),
		Deliverables:    deliverables,
		BuildSteps:      buildSteps(name, format, deliverables),
		LaunchPlan:      launchPlan(p),
	}
}

func planOutline(p domain.ProductProposal) []string {
	validation := "Run a small beta with 3-5 ideal users"
	if len(p.ValidationPlan) > 0 {
		validation = p.ValidationPlan[0]
	}
	return []string{
		"Context: " + or(p.CoreProblem, "Problem definition"),
		"Method: " + or(p.Solution, "Core solution"),
		"Implementation assets and templates",
		"Validation: " + validation,
		"Launch and iteration loop",
	}
}

func planDeliverables(p domain.ProductProposal) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if strings.TrimSpace(s) == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, d := range p.Deliverables {
		add(d)
	}
	format := strings.ToLower(p.Format)
	for _, fh := range formatHints {
		if strings.Contains(format, fh.keyword) {
			for _, h := range fh.hints {
				add(h)
			}
		}
	}
	add("Launch checklist")
	return out
}

func buildSteps(name, format string, deliverables []string) []domain.BuildStep {
	assets := "core product assets"
	if len(deliverables) > 0 {
		assets = strings.Join(deliverables[:min(3, len(deliverables))], ", ")
	}
	return []domain.BuildStep{
		{Step: 1, Title: "Define scope and success metric", Details: fmt.Sprintf("Set one measurable outcome for %s and lock v1 boundaries.", name)},
		{Step: 2, Title: "Build core assets", Details: fmt.Sprintf("Create and QA the key deliverables: %s.", assets)},
		{Step: 3, Title: "Package and publish", Details: fmt.Sprintf("Export final files in %s, prepare listing copy, and configure delivery automation.", format)},
		{Step: 4, Title: "Run launch loop", Details: "Publish hooks across selected channels, collect feedback, and ship one improvement within 7 days."},
	}
}

func launchPlan(p domain.ProductProposal) domain.LaunchPlan {
	name := or(p.ProductName, "This product")
	problem := or(p.CoreProblem, "an expensive workflow problem")
	solution := or(p.Solution, "a faster implementation path")
	includes := "core templates"
	if len(p.Deliverables) > 0 {
		includes = strings.Join(p.Deliverables[:min(3, len(p.Deliverables))], ", ")
	}
	return domain.LaunchPlan{
		Positioning: or(p.Positioning, "Practical product solving a concrete business pain quickly."),
		HookIdeas: []string{
			"Stop losing time to " + strings.ToLower(problem),
			"How to implement " + strings.ToLower(solution) + " in one afternoon",
			"What changed after shipping " + name,
		},
		DistributionChannels: distributionChannels(strings.ToLower(p.TargetAudience)),
		ForumPostTemplates: []string{
			fmt.Sprintf("Built %s to solve %s. Looking for 3 beta users in exchange for feedback.", name, problem),
			fmt.Sprintf("If you work with %s, this may save you hours this week.", or(p.TargetAudience, "service clients")),
		},
		ListingCopy: domain.ListingCopy{
			Title:    name,
			Subtitle: fmt.Sprintf("A practical %s for %s", or(p.ProductType, "digital product"), or(p.TargetAudience, "professionals")),
			Bullets: []string{
				"Built to solve: " + problem,
				"Includes: " + includes,
				"Suggested price anchor: " + p.PriceSuggestion,
			},
		},
	}
}

func distributionChannels(audience string) []string {
	for _, ch := range channelHints {
		if strings.Contains(audience, ch.keyword) {
			return append([]string(nil), ch.channels...)
		}
	}
	return []string{"X/Twitter", "Email newsletter", "Relevant niche communities"}
}
