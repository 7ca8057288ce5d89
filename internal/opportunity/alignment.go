package opportunity

import (
	"strings"

	"treta/internal/domain"
)

// AlignedThreshold is the minimum alignment score for proposal generation.
const AlignedThreshold = 60

var (
	audienceKeywords = []string{"service", "services", "professional", "professionals", "creator", "creators", "freelancer", "freelancers", "coach", "coaches"}
	typeKeywords     = []string{"template", "system", "kit"}
	problemKeywords  = []string{"revenue", "client acquisition", "clients", "sales", "automation", "automate"}
	distractionTags  = map[string]bool{"distraction": true, "non-core": true, "non_core": true}
)

type Alignment struct {
	Aligned bool    `json:"aligned"`
	Score   float64 `json:"alignment_score"`
	Reason  string  `json:"reason"`
}

// Align scores an opportunity's strategic fit in steps of 20, clamped to
// [0, 100]. recent proposals penalize near-duplicates.
func Align(o domain.Opportunity, recent []domain.ProductProposal) Alignment {
	text := strings.ToLower(strings.Join([]string{o.Title, o.Summary, stringField(o.Payload, "context")}, " "))
	score := 0.0
	var reasons []string

	if containsAny(text, audienceKeywords) {
		score += 20
		reasons = append(reasons, "Audience matches service professionals/creators")
	}
	if containsAny(text, typeKeywords) {
		score += 20
		reasons = append(reasons, "Opportunity type fits template/system/kit")
	}
	if containsAny(text, problemKeywords) {
		score += 20
		reasons = append(reasons, "Problem relates to revenue/client acquisition/automation")
	}
	if confidence(o.Payload) >= 7 {
		score += 20
		reasons = append(reasons, "Confidence score is at least 7")
	}
	if hasDistractionTag(o.Payload) {
		score -= 20
		reasons = append(reasons, "Tagged as distraction/non-core")
	}
	if tooSimilar(text, recent) {
		score -= 20
		reasons = append(reasons, "Too similar to recently generated proposal")
	}

	score = max(0, min(100, score))
	if len(reasons) == 0 {
		reasons = append(reasons, "No strategic alignment signals found")
	}
	return Alignment{Aligned: score >= AlignedThreshold, Score: score, Reason: strings.Join(reasons, "; ")}
}

func confidence(payload map[string]any) float64 {
	for _, key := range []string{"confidence", "confidence_score", "money", "growth"} {
		if v, ok := payload[key]; ok && v != nil {
			return number(v)
		}
	}
	return 0
}

func hasDistractionTag(payload map[string]any) bool {
	tags, ok := payload["tags"].([]any)
	if !ok {
		return false
	}
	for _, t := range tags {
		s, _ := t.(string)
		if distractionTags[strings.ToLower(strings.TrimSpace(s))] {
			return true
		}
	}
	return false
}

func tooSimilar(text string, recent []domain.ProductProposal) bool {
	tokens := longTokens(text)
	if len(tokens) == 0 {
		return false
	}
	for _, p := range recent {
		existing := longTokens(strings.ToLower(strings.Join([]string{p.ProductName, p.ProductType, p.TargetAudience, p.CoreProblem, p.Solution}, " ")))
		if len(existing) == 0 {
			continue
		}
		overlap := 0
		for tok := range tokens {
			if existing[tok] {
				overlap++
			}
		}
		if float64(overlap)/float64(max(1, min(len(tokens), len(existing)))) >= 0.5 {
			return true
		}
	}
	return false
}

func longTokens(text string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(text) {
		if len(tok) > 3 {
			out[tok] = true
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
