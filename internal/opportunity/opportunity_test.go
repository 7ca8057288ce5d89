package opportunity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"treta/internal/domain"
)

func TestEvaluateRules(t *testing.T) {
	e := DefaultEvaluator()

	d := e.Evaluate(map[string]any{"money": 8.0, "growth": 6.0, "risk": 2.0})
	assert.Equal(t, DecisionExecute, d.Decision)
	assert.InDelta(t, 8*1.8+6*1.2-2*1.7, d.Score, 1e-9)

	d = e.Evaluate(map[string]any{"money": 9.0, "risk": 7.0})
	assert.Equal(t, DecisionReject, d.Decision)
	assert.Equal(t, "Risk (7.00) exceeds tolerance (5).", d.Reasoning)

	d = e.Evaluate(map[string]any{"money": 9.0, "energy": 9})
	assert.Equal(t, DecisionWarnOverload, d.Decision)

	d = e.Evaluate(map[string]any{"energy": "3", "risk": 1.0})
	assert.Equal(t, DecisionDiscourage, d.Decision)
	assert.Less(t, d.Score, 0.0)
}

func TestAlign(t *testing.T) {
	o := domain.Opportunity{
		Title:   "Client onboarding system for freelancers",
		Summary: "Automate client acquisition",
		Payload: map[string]any{"confidence": 8.0},
	}
	a := Align(o, nil)
	assert.True(t, a.Aligned)
	assert.Equal(t, 80.0, a.Score)

	o.Payload["tags"] = []any{"Distraction"}
	a = Align(o, nil)
	assert.Equal(t, 60.0, a.Score)
	assert.Contains(t, a.Reason, "Tagged as distraction/non-core")

	recent := []domain.ProductProposal{{ProductName: "Client onboarding system", TargetAudience: "freelancers", CoreProblem: "client acquisition"}}
	a = Align(o, recent)
	assert.False(t, a.Aligned)
	assert.Equal(t, 40.0, a.Score)
}

func TestAlignNoSignals(t *testing.T) {
	a := Align(domain.Opportunity{Title: "weather"}, nil)
	assert.False(t, a.Aligned)
	assert.Equal(t, 0.0, a.Score)
	assert.Equal(t, "No strategic alignment signals found", a.Reason)
}

func TestScorePain(t *testing.T) {
	p := ScorePain("How do I price my media kit?", "I'm struggling with brand deal rates", 16)
	assert.Equal(t, 100, p.Score)
	assert.Equal(t, "monetization", p.IntentType)
	assert.Equal(t, "medium", p.UrgencyLevel)

	p = ScorePain("Stuck today", "", 0)
	assert.Equal(t, 20, p.Score)
	assert.Equal(t, "pain_help", p.IntentType)
	assert.Equal(t, "high", p.UrgencyLevel)

	p = ScorePain("Sunny afternoon", "", 6)
	assert.Equal(t, 10, p.Score)
	assert.Equal(t, "general", p.IntentType)
	assert.Equal(t, "low", p.UrgencyLevel)
}
