// Package strategy turns the launch portfolio into typed strategy actions,
// records each decision and registers its actions for confirmation.
package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"treta/internal/domain"
)

const (
	ScaleSalesThreshold = 5
	StalledAfterDays    = 7
	HighTicketRevenue   = 40.0
	HighTicketMaxSales  = 3
)

// Risk flags raised by the decision rules.
const (
	FlagStalledLaunch       = "stalled_launch"
	FlagLowVolumeHighTicket = "low_volume_high_ticket"
	FlagNoActiveLaunches    = "no_active_launches"
)

const (
	FocusGrowth       = "growth"
	FocusStabilize    = "stabilize"
	FocusOptimization = "optimization"
	FocusPipeline     = "pipeline"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// PortfolioTarget is the target id of portfolio-wide actions.
const PortfolioTarget = "portfolio"

// Rules names the decision rules in the order they are applied.
var Rules = []string{"sales_scale_threshold", "stalled_launch_rule", "low_volume_high_ticket_rule", "portfolio_activity_rule"}

// Recommendation is an action proposed by a strategy pass before it is
// registered as a pending strategy action.
type Recommendation struct {
	Type      string `json:"type"`
	TargetID  string `json:"target_id"`
	Reasoning string `json:"reasoning"`
	Sales     *int   `json:"sales,omitempty"`
}

// Plan is the output of one pass over the launch portfolio.
type Plan struct {
	Actions       []Recommendation `json:"actions"`
	RiskFlags     []string         `json:"risk_flags"`
	PriorityLevel string           `json:"priority_level"`
	PrimaryFocus  string           `json:"primary_focus"`
	Confidence    int              `json:"confidence"`
	LaunchCount   int              `json:"launch_count"`
	TotalSales    int              `json:"total_sales"`
	TotalRevenue  float64          `json:"total_revenue"`
}

// Decide applies the decision rules to every launch, sorted by id, then orders
// the actions by weight. Types without a weight count as 1.
func Decide(launches []domain.ProductLaunch, weights map[string]float64, now time.Time) Plan {
	sorted := append([]domain.ProductLaunch(nil), launches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	plan := Plan{Actions: []Recommendation{}, RiskFlags: []string{}, LaunchCount: len(sorted)}
	hasActive := false
	for _, l := range sorted {
		sales := l.Metrics.Sales
		revenue := l.Metrics.Revenue
		plan.TotalSales += sales
		plan.TotalRevenue += revenue
		if l.Status == domain.LaunchActive {
			hasActive = true
		}

		if sales >= ScaleSalesThreshold {
			n := sales
			plan.Actions = append(plan.Actions, Recommendation{
				Type:      domain.ActionScale,
				TargetID:  l.ID,
				Reasoning: fmt.Sprintf("Launch has %d sales, which meets the scale threshold.", sales),
				Sales:     &n,
			})
		}
		if days := daysSince(l.CreatedAt, now); sales == 0 && days > StalledAfterDays {
			plan.Actions = append(plan.Actions,
				Recommendation{Type: domain.ActionReview, TargetID: l.ID, Reasoning: fmt.Sprintf("Launch has 0 sales after %d days.", days)},
				Recommendation{Type: domain.ActionDraftAsset, TargetID: l.ID, Reasoning: "Create a safe draft landing/email asset to improve launch messaging."},
				Recommendation{Type: domain.ActionQueueExternalTask, TargetID: l.ID, Reasoning: "Queue a non-destructive external analysis task for stalled launch diagnostics."},
			)
			plan.RiskFlags = appendFlag(plan.RiskFlags, FlagStalledLaunch)
		}
		if sales > 0 && sales < HighTicketMaxSales {
			if perSale := revenue / float64(sales); perSale > HighTicketRevenue {
				plan.Actions = append(plan.Actions, Recommendation{
					Type:      domain.ActionPriceTest,
					TargetID:  l.ID,
					Reasoning: fmt.Sprintf("Revenue per sale is %.2f with only %d total sales.", perSale, sales),
				})
				plan.RiskFlags = appendFlag(plan.RiskFlags, FlagLowVolumeHighTicket)
			}
		}
	}
	if !hasActive {
		plan.Actions = append(plan.Actions, Recommendation{
			Type:      domain.ActionNewProduct,
			TargetID:  PortfolioTarget,
			Reasoning: "No active launches were found.",
		})
		plan.RiskFlags = appendFlag(plan.RiskFlags, FlagNoActiveLaunches)
	}
	plan.TotalRevenue = round2(plan.TotalRevenue)

	Prioritize(plan.Actions, weights)
	plan.PrimaryFocus = PrimaryFocus(plan.Actions)
	plan.PriorityLevel = PriorityLevel(plan.Actions)
	plan.Confidence = 8
	if len(plan.Actions) > 0 {
		plan.Confidence = 10
	}
	return plan
}

// Prioritize orders actions by descending weight, keeping generation order
// between equal weights.
func Prioritize(actions []Recommendation, weights map[string]float64) {
	weight := func(t string) float64 {
		if w, ok := weights[t]; ok {
			return w
		}
		return 1
	}
	sort.SliceStable(actions, func(i, j int) bool { return weight(actions[i].Type) > weight(actions[j].Type) })
}

func PrimaryFocus(actions []Recommendation) string {
	switch {
	case hasType(actions, domain.ActionScale):
		return FocusGrowth
	case hasType(actions, domain.ActionReview):
		return FocusStabilize
	case hasType(actions, domain.ActionPriceTest):
		return FocusOptimization
	case hasType(actions, domain.ActionNewProduct):
		return FocusPipeline
	default:
		return FocusStabilize
	}
}

func PriorityLevel(actions []Recommendation) string {
	switch {
	case hasType(actions, domain.ActionScale), hasType(actions, domain.ActionReview):
		return PriorityHigh
	case len(actions) > 0:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func hasType(actions []Recommendation, t string) bool {
	for _, a := range actions {
		if a.Type == t {
			return true
		}
	}
	return false
}

func appendFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

// daysSince returns whole days elapsed since ts; unparseable or future
// timestamps count as 0.
func daysSince(ts string, now time.Time) int {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return 0
	}
	return max(int(now.UTC().Sub(t.UTC()).Hours()/24), 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
