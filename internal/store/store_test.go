package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"treta/internal/domain"
)

func strp(s string) *string { return &s }

func TestOpenEmptyDir(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Proposals.Len())
	assert.Equal(t, 0, s.Launches.Len())
	assert.Empty(t, s.Subreddits.All())
}

func TestProposalsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	p := domain.ProductProposal{ID: "proposal-1", ProductName: "Kit", Status: domain.ProposalDraft, Deliverables: []string{"pdf"}, Confidence: 7}
	s.Proposals.Append(p)
	require.NoError(t, s.Proposals.Save())
	s.Plans.Append(domain.ProductPlan{PlanID: "plan-1", ProposalID: "proposal-1"})
	require.NoError(t, s.Plans.Save())

	reopened, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	got, ok := reopened.GetProposal("proposal-1")
	require.True(t, ok)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Fatalf("proposal mismatch (-want +got):\n%s", diff)
	}
	plan, ok := reopened.PlanForProposal("proposal-1")
	require.True(t, ok)
	assert.Equal(t, "plan-1", plan.PlanID)
}

func TestListNewestFirstWithFilter(t *testing.T) {
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	s.Launches.Append(domain.ProductLaunch{ID: "l1", Status: domain.LaunchActive})
	s.Launches.Append(domain.ProductLaunch{ID: "l2", Status: domain.LaunchPaused})
	s.Launches.Append(domain.ProductLaunch{ID: "l3", Status: domain.LaunchActive})

	all := s.ListLaunches("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "l3", all[0].ID)

	active := s.ListLaunches(domain.LaunchActive, 1)
	require.Len(t, active, 1)
	assert.Equal(t, "l3", active[0].ID)
}

func TestRevenueAttributionSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), RevenueAttributionFile)
	r, err := OpenRevenueAttribution(path, DefaultRedditWindow, zap.NewNop())
	require.NoError(t, err)

	price := 29.0
	_, err = r.UpsertTracking("treta-abc123-1700000000", "proposal-1", strp("r/test"), &price, "2023-11-14T22:13:20Z")
	require.NoError(t, err)
	ok, err := r.RecordSale("treta-abc123-1700000000", 2, 58.0, "2023-11-15T01:00:00Z")
	require.NoError(t, err)
	require.True(t, ok)

	sum := r.Summary()
	assert.Equal(t, 2, sum.Totals.Sales)
	assert.InDelta(t, 58.0, sum.Totals.Revenue, 0.001)
	assert.Equal(t, 2, sum.ByProposal["proposal-1"].Sales)
	assert.InDelta(t, 58.0, sum.BySubreddit["r/test"].Revenue, 0.001)
	assert.Equal(t, 1, sum.BySubreddit["r/test"].Views)
	assert.InDelta(t, 2.0, sum.BySubreddit["r/test"].ConversionRate, 0.0001)
	assert.Equal(t, 2, sum.ByChannel[ChannelReddit].Sales)

	reopened, err := OpenRevenueAttribution(path, DefaultRedditWindow, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, sum.Totals, reopened.Summary().Totals)
}

func TestRevenueAttributionOutsideWindow(t *testing.T) {
	r, err := OpenRevenueAttribution(filepath.Join(t.TempDir(), RevenueAttributionFile), DefaultRedditWindow, zap.NewNop())
	require.NoError(t, err)
	_, err = r.UpsertTracking("t-1", "proposal-1", strp("r/test"), nil, "2024-01-01T00:00:00Z")
	require.NoError(t, err)

	ok, err := r.RecordSale("t-1", 1, 10, "2024-01-03T00:00:00Z")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = r.RecordSale("t-1", 1, 10, "2023-12-31T00:00:00Z")
	require.NoError(t, err)
	require.True(t, ok)

	sum := r.Summary()
	assert.Equal(t, 2, sum.ByChannel[ChannelUnknown].Sales)
	assert.Empty(t, sum.BySubreddit)
}

func TestRevenueAttributionUnknownTracking(t *testing.T) {
	r, err := OpenRevenueAttribution(filepath.Join(t.TempDir(), RevenueAttributionFile), DefaultRedditWindow, zap.NewNop())
	require.NoError(t, err)
	ok, err := r.RecordSale("missing", 1, 5, "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.UpsertTracking("", "p", nil, nil, "")
	assert.Error(t, err)
	_, err = r.UpsertTracking("t", " ", nil, nil, "")
	assert.Error(t, err)
}

func TestUpsertTrackingKeepsPreviousFields(t *testing.T) {
	r, err := OpenRevenueAttribution(filepath.Join(t.TempDir(), RevenueAttributionFile), DefaultRedditWindow, zap.NewNop())
	require.NoError(t, err)
	r.Now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }

	price := 19.0
	_, err = r.UpsertTracking("t-1", "proposal-1", strp("r/a"), &price, "")
	require.NoError(t, err)
	rec, err := r.UpsertTracking("t-1", "proposal-1", nil, nil, "")
	require.NoError(t, err)
	require.NotNil(t, rec.Subreddit)
	assert.Equal(t, "r/a", *rec.Subreddit)
	require.NotNil(t, rec.Price)
	assert.Equal(t, 19.0, *rec.Price)
	assert.Equal(t, "2024-02-01T00:00:00Z", rec.CreatedAt)
}

func TestSubredditPerformance(t *testing.T) {
	path := filepath.Join(t.TempDir(), SubredditPerformanceFile)
	s, err := OpenSubredditPerformance(path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.RecordPostAttempt("r/b"))
	require.NoError(t, s.RecordPostAttempt("r/b"))
	require.NoError(t, s.RecordProposalGenerated("r/b"))
	require.NoError(t, s.RecordPlanExecuted("r/a"))
	require.NoError(t, s.RecordSale("r/a"))
	assert.Error(t, s.RecordSale("  "))

	reopened, err := OpenSubredditPerformance(path, zap.NewNop())
	require.NoError(t, err)
	want := []SubredditStats{
		{Name: "r/a", PlansExecuted: 1, Sales: 1},
		{Name: "r/b", PostsAttempted: 2, ProposalsGenerated: 1},
	}
	if diff := cmp.Diff(want, reopened.All()); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryKeepsLastTurns(t *testing.T) {
	path := filepath.Join(t.TempDir(), MemoryFile)
	m, err := OpenMemory(path, zap.NewNop())
	require.NoError(t, err)
	m.Now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	assert.Equal(t, "manual", m.Snapshot().Profile.AutonomyDefault)

	for i := 0; i < 25; i++ {
		require.NoError(t, m.Append("user", string(rune('a'+i))))
	}
	reopened, err := OpenMemory(path, zap.NewNop())
	require.NoError(t, err)
	hist := reopened.Snapshot().ChatHistory
	require.Len(t, hist, 20)
	assert.Equal(t, "f", hist[0].Text)
	assert.Equal(t, "2026-05-01T09:00:00Z", hist[19].TS)
	assert.Equal(t, "Marian", reopened.Snapshot().Profile.Name)
}
