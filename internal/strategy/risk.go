package strategy

import (
	"regexp"
	"strconv"

	"treta/internal/domain"
)

var salesInReasoning = regexp.MustCompile(`(\d+)\s+sales`)

// Assessment is the risk profile attached to a registered action.
type Assessment struct {
	RiskLevel           string
	ExpectedImpactScore int
	AutoExecutable      bool
}

// Assess scores an action. When sales is nil it is read from the reasoning
// text ("... 7 sales ...").
func Assess(actionType, reasoning string, sales *int) Assessment {
	n := 0
	if sales != nil {
		n = *sales
	} else if m := salesInReasoning.FindStringSubmatch(reasoning); m != nil {
		n, _ = strconv.Atoi(m[1])
	}

	a := Assessment{RiskLevel: domain.RiskMedium, ExpectedImpactScore: 5}
	switch actionType {
	case domain.ActionScale:
		if n >= ScaleSalesThreshold {
			a = Assessment{RiskLevel: domain.RiskLow, ExpectedImpactScore: 8}
		}
	case domain.ActionPriceTest:
		a = Assessment{RiskLevel: domain.RiskLow, ExpectedImpactScore: 6}
	case domain.ActionReview:
		a = Assessment{RiskLevel: domain.RiskMedium, ExpectedImpactScore: 5}
	case domain.ActionNewProduct:
		a = Assessment{RiskLevel: domain.RiskMedium, ExpectedImpactScore: 7}
	case domain.ActionArchive:
		a = Assessment{RiskLevel: domain.RiskHigh, ExpectedImpactScore: 4}
	}
	a.AutoExecutable = a.RiskLevel == domain.RiskLow
	return a
}

// RiskScore maps a risk level onto the 0..10 scale used by decision outcomes.
func RiskScore(level string) float64 {
	switch level {
	case domain.RiskLow:
		return 2
	case domain.RiskHigh:
		return 8
	default:
		return 5
	}
}
