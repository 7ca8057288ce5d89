package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"treta/internal/db"
	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/integrations"
	"treta/internal/migrate"
	"treta/internal/repo"
)

var testNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

func launch(id, status string, sales int, revenue float64, created time.Time) domain.ProductLaunch {
	return domain.ProductLaunch{
		ID:        id,
		Status:    status,
		CreatedAt: created.Format(time.RFC3339),
		Metrics:   domain.LaunchMetrics{Sales: sales, Revenue: revenue},
	}
}

func TestDecideScaleRule(t *testing.T) {
	plan := Decide([]domain.ProductLaunch{launch("launch-a", domain.LaunchActive, 5, 125, testNow.AddDate(0, 0, -2))}, nil, testNow)

	require.Len(t, plan.Actions, 1)
	five := 5
	want := Recommendation{
		Type:      domain.ActionScale,
		TargetID:  "launch-a",
		Reasoning: "Launch has 5 sales, which meets the scale threshold.",
		Sales:     &five,
	}
	if diff := cmp.Diff(want, plan.Actions[0]); diff != "" {
		t.Fatalf("scale action mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, FocusGrowth, plan.PrimaryFocus)
	assert.Equal(t, PriorityHigh, plan.PriorityLevel)
	assert.Equal(t, 10, plan.Confidence)
	assert.Equal(t, 5, plan.TotalSales)
	assert.Equal(t, 125.0, plan.TotalRevenue)
	assert.Empty(t, plan.RiskFlags)
}

func TestDecideStalledLaunchAddsCompanions(t *testing.T) {
	plan := Decide([]domain.ProductLaunch{launch("launch-b", domain.LaunchActive, 0, 0, testNow.AddDate(0, 0, -10))}, nil, testNow)

	var types []string
	for _, a := range plan.Actions {
		types = append(types, a.Type)
		assert.Equal(t, "launch-b", a.TargetID)
	}
	assert.Equal(t, []string{domain.ActionReview, domain.ActionDraftAsset, domain.ActionQueueExternalTask}, types)
	assert.Equal(t, "Launch has 0 sales after 10 days.", plan.Actions[0].Reasoning)
	assert.Equal(t, []string{FlagStalledLaunch}, plan.RiskFlags)
	assert.Equal(t, FocusStabilize, plan.PrimaryFocus)
	assert.Equal(t, PriorityHigh, plan.PriorityLevel)
}

func TestDecideHighTicketWithoutActiveLaunch(t *testing.T) {
	plan := Decide([]domain.ProductLaunch{launch("launch-c", domain.LaunchPaused, 2, 99, testNow)}, nil, testNow)

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, domain.ActionPriceTest, plan.Actions[0].Type)
	assert.Equal(t, "Revenue per sale is 49.50 with only 2 total sales.", plan.Actions[0].Reasoning)
	assert.Equal(t, domain.ActionNewProduct, plan.Actions[1].Type)
	assert.Equal(t, PortfolioTarget, plan.Actions[1].TargetID)
	assert.Equal(t, []string{FlagLowVolumeHighTicket, FlagNoActiveLaunches}, plan.RiskFlags)
	assert.Equal(t, FocusOptimization, plan.PrimaryFocus)
	assert.Equal(t, PriorityMedium, plan.PriorityLevel)
}

func TestDecideEmptyPortfolio(t *testing.T) {
	plan := Decide(nil, nil, testNow)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, FocusPipeline, plan.PrimaryFocus)
	assert.Equal(t, "No active launches were found.", plan.Actions[0].Reasoning)
}

func TestPrioritizeByWeightKeepsLaunchOrderOnTies(t *testing.T) {
	launches := []domain.ProductLaunch{
		launch("launch-z", domain.LaunchActive, 6, 60, testNow),
		launch("launch-a", domain.LaunchActive, 1, 80, testNow),
		launch("launch-m", domain.LaunchActive, 7, 70, testNow),
	}
	plan := Decide(launches, map[string]float64{domain.ActionScale: 2.5, domain.ActionPriceTest: 1.2}, testNow)

	var got []string
	for _, a := range plan.Actions {
		got = append(got, a.Type+":"+a.TargetID)
	}
	assert.Equal(t, []string{"scale:launch-m", "scale:launch-z", "price_test:launch-a"}, got)
}

func TestAssess(t *testing.T) {
	seven := 7
	cases := []struct {
		name      string
		typ       string
		reasoning string
		sales     *int
		want      Assessment
	}{
		{"scale with sales", domain.ActionScale, "", &seven, Assessment{domain.RiskLow, 8, true}},
		{"scale sales parsed", domain.ActionScale, "Launch has 9 sales, which meets the scale threshold.", nil, Assessment{domain.RiskLow, 8, true}},
		{"scale below threshold", domain.ActionScale, "Launch has 2 sales.", nil, Assessment{domain.RiskMedium, 5, false}},
		{"price test", domain.ActionPriceTest, "", nil, Assessment{domain.RiskLow, 6, true}},
		{"review", domain.ActionReview, "", nil, Assessment{domain.RiskMedium, 5, false}},
		{"new product", domain.ActionNewProduct, "", nil, Assessment{domain.RiskMedium, 7, false}},
		{"archive", domain.ActionArchive, "", nil, Assessment{domain.RiskHigh, 4, false}},
		{"draft asset", domain.ActionDraftAsset, "", nil, Assessment{domain.RiskMedium, 5, false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Assess(tc.typ, tc.reasoning, tc.sales))
		})
	}
}

type fakeAutonomy struct {
	calls int
	err   error
}

func (f *fakeAutonomy) Apply(context.Context) ([]domain.StrategyAction, error) {
	f.calls++
	return nil, f.err
}

type staticWeights map[string]float64

func (w staticWeights) StrategyWeights(context.Context) (map[string]float64, error) {
	return w, nil
}

func newOrchestrator(t *testing.T, launches []domain.ProductLaunch) (Orchestrator, *fakeAutonomy) {
	t.Helper()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	auto := &fakeAutonomy{}
	clock := func() time.Time { return testNow }
	return Orchestrator{
		Repo:     repo.Repo{DB: conn, Now: clock},
		Launches: func() []domain.ProductLaunch { return launches },
		Weights:  staticWeights{},
		Autonomy: auto,
		Log:      zap.NewNop(),
		Now:      clock,
	}, auto
}

func TestOrchestratorRecordsAndRegisters(t *testing.T) {
	o, auto := newOrchestrator(t, []domain.ProductLaunch{launch("launch-a", domain.LaunchActive, 5, 125, testNow)})
	ctx := events.WithTrace(context.Background(), events.Trace{RequestID: "req-1", TraceID: "tr-1", EventID: "ev-1"})

	res, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, DecisionID("ev-1"), res.DecisionID)
	require.Len(t, res.Registered, 1)
	a := res.Registered[0]
	assert.Equal(t, "action-000001", a.ID)
	assert.Equal(t, domain.ActionPendingConfirmation, a.Status)
	assert.Equal(t, domain.RiskLow, a.RiskLevel)
	assert.Equal(t, 8, a.ExpectedImpactScore)
	require.NotNil(t, a.DecisionID)
	assert.Equal(t, res.DecisionID, *a.DecisionID)
	assert.Equal(t, 1, auto.calls)

	logs, err := o.Repo.ListDecisionLogs(ctx, 10, domain.DecisionTypeStrategyAction)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.DecisionRecommend, logs[0].Decision)
	assert.Equal(t, PolicyName, logs[0].PolicyName)
	assert.Equal(t, "Primary focus resolved to growth.", logs[0].Reason)
	assert.Equal(t, "req-1", logs[0].CorrelationID)
	assert.Equal(t, "high", logs[0].PolicySnapshot["priority_level"])
	assert.Len(t, logs[0].PolicySnapshot["rules"], len(Rules))
}

func TestOrchestratorReplayedEventIsDuplicate(t *testing.T) {
	o, auto := newOrchestrator(t, []domain.ProductLaunch{launch("launch-a", domain.LaunchActive, 5, 125, testNow)})
	ctx := events.WithTrace(context.Background(), events.Trace{TraceID: "tr-1", EventID: "ev-1"})

	_, err := o.Run(ctx)
	require.NoError(t, err)
	res, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.Empty(t, res.Registered)
	assert.Equal(t, 1, auto.calls)

	logs, err := o.Repo.ListDecisionLogs(ctx, 10, "")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestOrchestratorSkipsStillPendingActions(t *testing.T) {
	o, _ := newOrchestrator(t, []domain.ProductLaunch{launch("launch-a", domain.LaunchActive, 5, 125, testNow)})

	first, err := o.Run(events.WithTrace(context.Background(), events.Trace{EventID: "ev-1"}))
	require.NoError(t, err)
	second, err := o.Run(events.WithTrace(context.Background(), events.Trace{EventID: "ev-2"}))
	require.NoError(t, err)

	assert.Len(t, first.Registered, 1)
	assert.Empty(t, second.Registered)
	n, err := o.Repo.CountStrategyActions(context.Background(), domain.ActionPendingConfirmation)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOrchestratorSurvivesAutonomyFailure(t *testing.T) {
	o, auto := newOrchestrator(t, nil)
	auto.err = errors.New("budget store offline")

	res, err := o.Run(events.WithTrace(context.Background(), events.Trace{EventID: "ev-9"}))
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
	done, err := o.Repo.IsDecisionProcessed(context.Background(), res.DecisionID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRecommend(t *testing.T) {
	launches := []domain.ProductLaunch{
		{ID: "l1", ProductName: "Creator Prompt Pack", CreatedAt: testNow.Format(time.RFC3339), Metrics: domain.LaunchMetrics{Sales: 6, Revenue: 150}},
		{ID: "l2", ProductName: "Pricing Sheet", CreatedAt: testNow.Format(time.RFC3339), Metrics: domain.LaunchMetrics{Sales: 2, Revenue: 20}},
		{ID: "l3", ProductName: "Outreach Kit", CreatedAt: testNow.AddDate(0, 0, -9).Format(time.RFC3339)},
	}
	rep := Recommend(launches, testNow)

	require.Len(t, rep.ProductActions, 3)
	assert.Equal(t, RecommendScaleProduct, rep.ProductActions[0].Action)
	assert.Equal(t, RecommendTestPrice, rep.ProductActions[1].Action)
	assert.Equal(t, RecommendFixOrArchive, rep.ProductActions[2].Action)
	assert.Equal(t, 170.0, rep.Summary.TotalRevenue)
	require.Len(t, rep.CategoryActions, 1)
	assert.Equal(t, "pack", rep.CategoryActions[0].Category)
	assert.Equal(t, "Category contributes 88% of total revenue ($150.00/$170.00).", rep.CategoryActions[0].Reason)
}

type scriptedLLM struct {
	replies []string
	calls   int
}

func (s *scriptedLLM) Chat(_ context.Context, _ []integrations.Message, _, _ string) (string, error) {
	r := s.replies[min(s.calls, len(s.replies)-1)]
	s.calls++
	return r, nil
}

func (s *scriptedLLM) Model(string) string { return "gpt-4o" }

func TestPlannerRepairsInvalidFirstAttempt(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		"```json not json```",
		`{"objective":"Grow monthly recurring revenue","steps":[{"id":"s1","description":"Audit funnel","type":"analysis","requires_llm":false}]}`,
	}}
	plan, err := Planner{LLM: llm}.Create(context.Background(), "Grow monthly recurring revenue", "baseline stable")
	require.NoError(t, err)
	assert.Equal(t, "Grow monthly recurring revenue", plan.Objective)
	assert.Len(t, plan.Steps, 1)
	assert.Equal(t, 2, llm.calls)
}

func TestPlannerFailsAfterRepair(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"objective":"x","steps":[],"extra":true}`}}
	_, err := Planner{LLM: llm}.Create(context.Background(), "Grow", "")
	var perr *PlannerError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PlannerJSONFailure, perr.Code)
	assert.Equal(t, "gpt-4o", perr.Model)
	assert.Len(t, perr.Attempts, 2)
}

func TestPlannerFallbackWithoutModel(t *testing.T) {
	plan, err := Planner{}.Create(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, defaultObjective, plan.Objective)
	assert.Len(t, plan.Steps, 3)
}
