package product

// ActionPlan is the step list suggested for a sales-side opportunity.
type ActionPlan struct {
	Action   string   `json:"action"`
	Steps    []string `json:"steps"`
	Priority int      `json:"priority"`
}

// PlanAction maps an opportunity kind (stale_product, growing_product,
// top_product) to a playbook.
func PlanAction(kind string) ActionPlan {
	switch kind {
	case "stale_product":
		return ActionPlan{
			Action:   "relaunch",
			Steps:    []string{"Review product description", "Adjust pricing", "Create limited-time promotion", "Post value thread in relevant forum"},
			Priority: 7,
		}
	case "growing_product":
		return ActionPlan{
			Action:   "scale",
			Steps:    []string{"Increase price slightly", "Create bundle", "Promote to email list"},
			Priority: 8,
		}
	case "top_product":
		return ActionPlan{
			Action:   "optimize",
			Steps:    []string{"Add upsell", "Improve landing page copy", "Collect testimonials"},
			Priority: 9,
		}
	}
	return ActionPlan{Action: "analyze", Steps: []string{"Collect additional context"}, Priority: 1}
}
