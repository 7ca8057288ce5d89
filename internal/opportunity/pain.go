package opportunity

import "strings"

// DefaultPainThreshold is the minimum pain score for a forum post to become
// an opportunity.
const DefaultPainThreshold = 60

var (
	painKeywords       = []string{"struggling", "stuck", "can't", "cannot", "problem", "issue", "need help", "confused", "overwhelmed"}
	commercialKeywords = []string{"client", "pricing", "proposal", "media kit", "rate", "brand deal", "charge", "template"}
	questionPatterns   = []string{"how do i", "any advice", "what should i"}
	urgencyKeywords    = []string{"urgent", "asap", "today"}
)

// Pain is the scored intent of one forum post.
type Pain struct {
	Score        int    `json:"pain_score"`
	IntentType   string `json:"intent_type"`
	UrgencyLevel string `json:"urgency_level"`
}

// ScorePain rates a post: 20 per pain keyword, 25 per commercial keyword, 15
// for a question, and up to 20 for comment engagement, capped at 100.
func ScorePain(title, body string, numComments int) Pain {
	text := strings.ToLower(title + " " + body)
	score := 0
	help, commercial := false, false
	for _, k := range painKeywords {
		if strings.Contains(text, k) {
			score += 20
			help = true
		}
	}
	for _, k := range commercialKeywords {
		if strings.Contains(text, k) {
			score += 25
			commercial = true
		}
	}
	if strings.HasSuffix(strings.TrimSpace(title), "?") || containsAny(text, questionPatterns) {
		score += 15
	}
	switch {
	case numComments >= 15:
		score += 20
	case numComments >= 5:
		score += 10
	}
	score = min(score, 100)

	p := Pain{Score: score, IntentType: "general", UrgencyLevel: "low"}
	switch {
	case commercial:
		p.IntentType = "monetization"
	case help:
		p.IntentType = "pain_help"
	}
	switch {
	case containsAny(text, urgencyKeywords):
		p.UrgencyLevel = "high"
	case score >= 70:
		p.UrgencyLevel = "medium"
	}
	return p
}
