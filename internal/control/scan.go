package control

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/integrations"
	"treta/internal/opportunity"
	"treta/internal/store"
)

const (
	forumSource    = "reddit_public"
	postsPerForum  = 25
	dailyPlanLimit = 5
	snippetLength  = 300
)

func (c *Control) portfolioSummary() map[string]any {
	snap := c.Engine.Snapshot()
	revenue := 0.0
	sales := 0
	for _, l := range snap.Launches {
		revenue += l.Metrics.Revenue
		sales += l.Metrics.Sales
	}
	return map[string]any{
		"opportunities": c.Stores.Opportunities.Len(),
		"proposals":     len(snap.Proposals),
		"plans":         len(snap.Plans),
		"launches":      len(snap.Launches),
		"total_sales":   sales,
		"total_revenue": revenue,
	}
}

func (c *Control) dryRun(ctx context.Context, typ, what string) []Action {
	c.log().Info(what+" requested; dry run only", events.TraceFields(ctx)...)
	return []Action{{Type: typ, Payload: map[string]any{"dry_run": true, "summary": c.portfolioSummary()}}}
}

func (c *Control) dailyBrief(ctx context.Context, _ events.Event) ([]Action, error) {
	return c.dryRun(ctx, events.BuildDailyBrief, "daily brief"), nil
}

func (c *Control) opportunityScan(ctx context.Context, _ events.Event) ([]Action, error) {
	return c.dryRun(ctx, events.RunOpportunityScan, "opportunity scan"), nil
}

func (c *Control) emailTriage(ctx context.Context, _ events.Event) ([]Action, error) {
	return c.dryRun(ctx, events.RunEmailTriage, "email triage"), nil
}

func (c *Control) subreddits() []string {
	if len(c.Subreddits) == 0 {
		return DefaultSubreddits
	}
	return c.Subreddits
}

func (c *Control) painThreshold() int {
	if c.PainThreshold <= 0 {
		return opportunity.DefaultPainThreshold
	}
	return c.PainThreshold
}

func postConfidence(score int) int {
	return min(10, max(1, score/10+1))
}

type signal struct {
	post store.ForumPost
	pain opportunity.Pain
}

// infoproductScan reads every configured forum, keeps the posts above the pain
// threshold and turns each into an OpportunityDetected event. A forum that
// cannot be read is skipped.
func (c *Control) infoproductScan(ctx context.Context, _ events.Event) ([]Action, error) {
	fields := events.TraceFields(ctx)
	if c.Forum == nil {
		c.log().Warn("forum scan skipped: no forum client", fields...)
		return []Action{c.dailyPlan(nil)}, nil
	}
	threshold := c.painThreshold()
	ts := c.now().Format(time.RFC3339)

	var (
		actions  []Action
		signals  []signal
		analyzed int
	)
	for _, sub := range c.subreddits() {
		posts, err := c.Forum.FetchPosts(ctx, sub, postsPerForum)
		if err != nil {
			c.log().Warn("forum scan failed", append(fields, zap.String("subreddit", sub), zap.Error(err))...)
			continue
		}
		for _, p := range posts {
			analyzed++
			if err := c.Stores.Subreddits.RecordPostAttempt(subredditOf(p, sub)); err != nil {
				c.log().Warn("record post attempt", append(fields, zap.Error(err))...)
			}
			pain := opportunity.ScorePain(p.Title, p.Body, p.NumComments)
			if pain.Score < threshold {
				continue
			}
			fp := store.ForumPost{
				ID:          p.ID,
				Subreddit:   subredditOf(p, sub),
				Title:       p.Title,
				Body:        p.Body,
				URL:         permalink(p),
				Score:       p.Score,
				NumComments: p.NumComments,
				PainScore:   float64(pain.Score),
				ScannedAt:   ts,
			}
			signals = append(signals, signal{post: fp, pain: pain})
			actions = append(actions, Action{Type: events.OpportunityDetected, Payload: detectedPayload(fp, pain)})
		}
	}
	if len(signals) > 0 {
		for _, s := range signals {
			post := s.post
			if _, found := c.Stores.ForumPosts.Find(func(x store.ForumPost) bool { return x.ID == post.ID }); !found {
				c.Stores.ForumPosts.Append(post)
			}
		}
		if err := c.Stores.ForumPosts.Save(); err != nil {
			return nil, fmt.Errorf("save forum posts: %w", err)
		}
	}
	c.log().Info("forum scan finished", append(fields,
		zap.Int("analyzed", analyzed),
		zap.Int("qualified", len(signals)),
		zap.Int("pain_threshold", threshold))...)
	return append(actions, c.dailyPlan(signals)), nil
}

func subredditOf(p integrations.Post, fallback string) string {
	if s := strings.TrimSpace(p.Subreddit); s != "" {
		return s
	}
	return fallback
}

func permalink(p integrations.Post) string {
	if p.Permalink == "" {
		return ""
	}
	if strings.HasPrefix(p.Permalink, "http") {
		return p.Permalink
	}
	return "https://www.reddit.com" + p.Permalink
}

func detectedPayload(p store.ForumPost, pain opportunity.Pain) map[string]any {
	snippet := p.Body
	if r := []rune(snippet); len(r) > snippetLength {
		snippet = string(r[:snippetLength])
	}
	return map[string]any{
		"id":            "reddit-public-" + p.ID,
		"source":        forumSource,
		"title":         p.Title,
		"subreddit":     p.Subreddit,
		"score":         p.Score,
		"num_comments":  p.NumComments,
		"pain_score":    pain.Score,
		"intent_type":   pain.IntentType,
		"urgency_level": pain.UrgencyLevel,
		"snippet":       snippet,
		"summary":       snippet,
		"opportunity": map[string]any{
			"confidence": postConfidence(p.Score),
			"subreddit":  p.Subreddit,
		},
	}
}

// dailyPlan summarizes the strongest signals of the scan.
func (c *Control) dailyPlan(signals []signal) Action {
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].pain.Score > signals[j].pain.Score
	})
	if len(signals) > dailyPlanLimit {
		signals = signals[:dailyPlanLimit]
	}
	ids := make([]string, 0, len(signals))
	lines := []string{"Today's Reddit focus:"}
	for i, s := range signals {
		ids = append(ids, s.post.ID)
		lines = append(lines, fmt.Sprintf("%d. r/%s - %s signal", i+1, s.post.Subreddit, s.pain.IntentType))
	}
	if len(signals) == 0 {
		lines = append(lines, "No high-priority Reddit signals identified today.")
	}
	return Action{Type: events.RedditDailyPlanGenerated, Payload: map[string]any{
		"generated_at": c.now().Format(time.RFC3339),
		"signals":      ids,
		"summary":      strings.Join(lines, "\n"),
	}}
}

// salesStats reports products, sales and revenue of the sales platform.
func (c *Control) salesStats(ctx context.Context, _ events.Event) ([]Action, error) {
	if c.Sales == nil {
		return []Action{{Type: events.GumroadStatsReady, Payload: map[string]any{
			"products": []integrations.Product{},
			"sales":    []domain.Sale{},
			"balance":  map[string]any{},
		}}}, nil
	}
	products, err := c.Sales.Products(ctx)
	if err != nil {
		return nil, domain.DependencyError{Service: "gumroad", Err: err}
	}
	sales, err := c.Sales.Sales(ctx, "")
	if err != nil {
		return nil, domain.DependencyError{Service: "gumroad", Err: err}
	}
	balance, err := c.Sales.Revenue(ctx)
	if err != nil {
		return nil, domain.DependencyError{Service: "gumroad", Err: err}
	}
	return []Action{{Type: events.GumroadStatsReady, Payload: map[string]any{
		"products": products,
		"sales":    sales,
		"balance":  balance,
	}}}, nil
}
