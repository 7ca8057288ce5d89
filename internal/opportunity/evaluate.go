// Package opportunity scores raw opportunities: the weighted evaluator, the
// strategic alignment check that gates proposal generation, and forum pain
// scoring.
package opportunity

import (
	"fmt"

	"treta/internal/domain"
)

const (
	DecisionExecute      = "execute"
	DecisionDiscourage   = "discourage"
	DecisionWarnOverload = "warn_overload"
	DecisionReject       = "reject"
)

// Evaluator weighs the opportunity dimensions against the operator's limits.
type Evaluator struct {
	RiskTolerance float64
	MaxDailyHours float64
}

func DefaultEvaluator() Evaluator {
	return Evaluator{RiskTolerance: 5, MaxDailyHours: 5}
}

// Evaluate scores payload fields money, growth, energy, health, relationships
// and risk. Hard rules win over the composite score.
func (e Evaluator) Evaluate(payload map[string]any) domain.OpportunityDecision {
	money := number(payload["money"])
	growth := number(payload["growth"])
	energy := number(payload["energy"])
	health := number(payload["health"])
	relationships := number(payload["relationships"])
	risk := number(payload["risk"])

	score := money*1.8 + growth*1.2 + relationships*0.5 + health*0.5 - energy*0.8 - risk*1.7

	out := domain.OpportunityDecision{Score: score}
	switch {
	case risk > e.RiskTolerance:
		out.Decision = DecisionReject
		out.Reasoning = fmt.Sprintf("Risk (%.2f) exceeds tolerance (%g).", risk, e.RiskTolerance)
	case energy > 8:
		out.Decision = DecisionWarnOverload
		out.Reasoning = fmt.Sprintf("Energy cost (%.2f) indicates potential overload.", energy)
	case score < 0:
		out.Decision = DecisionDiscourage
		out.Reasoning = fmt.Sprintf("Composite score is negative (%.2f).", score)
	default:
		out.Decision = DecisionExecute
		out.Reasoning = fmt.Sprintf("Composite score is favorable (%.2f) within current limits.", score)
	}
	return out
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		var f float64
		if _, err := fmt.Sscan(n, &f); err == nil {
			return f
		}
	}
	return 0
}
