package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"treta/internal/db"
	"treta/internal/domain"
	"treta/internal/engine"
	"treta/internal/events"
	"treta/internal/execution"
	"treta/internal/integrations"
	"treta/internal/migrate"
	"treta/internal/repo"
	"treta/internal/statemachine"
	"treta/internal/store"
	"treta/internal/strategy"
)

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type recordingBus struct {
	events []events.Event
}

func (b *recordingBus) Push(e events.Event) bool {
	b.events = append(b.events, e)
	return true
}

func (b *recordingBus) types() []string {
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeForum struct {
	posts map[string][]integrations.Post
	fail  map[string]bool
}

func (f fakeForum) FetchPosts(_ context.Context, sub string, _ int) ([]integrations.Post, error) {
	if f.fail[sub] {
		return nil, errors.New("forum down")
	}
	return f.posts[sub], nil
}

type fakeChat struct {
	reply string
	err   error
	calls int
}

func (f *fakeChat) Chat(context.Context, []integrations.Message, string, string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeChat) Model(string) string { return "test-model" }

type testEnv struct {
	ctl    *Control
	disp   *Dispatcher
	bus    *recordingBus
	repo   repo.Repo
	ledger events.Ledger
	stores *store.Stores
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	clock := func() time.Time { return testNow }
	r := repo.Repo{DB: conn, Now: clock}
	stores, err := store.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	stores.Memory.Now = clock
	eng := engine.New(stores, zap.NewNop())
	eng.Now = clock

	bus := &recordingBus{}
	machine := statemachine.New(statemachine.Idle, nil)
	ctl := &Control{
		Engine: eng,
		Stores: stores,
		Repo:   r,
		Strategy: strategy.Orchestrator{
			Repo:     r,
			Launches: stores.Launches.Items,
			Now:      clock,
		},
		Executor: execution.Layer{
			Repo:     r,
			Registry: execution.NewRegistry(execution.Playbook{}),
			Bus:      bus,
			Now:      clock,
		},
		Confirmations: NewConfirmationQueue(clock),
		Machine:       machine,
		Now:           clock,
	}
	ledger := events.Ledger{DB: conn, Now: clock}
	disp := &Dispatcher{Control: ctl, Ledger: ledger, Bus: bus, Machine: machine}
	return testEnv{ctl: ctl, disp: disp, bus: bus, repo: r, ledger: ledger, stores: stores}
}

func (env testEnv) handle(t *testing.T, typ, id string, payload map[string]any) Result {
	t.Helper()
	res, err := env.disp.Handle(context.Background(), events.Event{Type: typ, EventID: id, Payload: payload, RequestID: "req-" + id})
	require.NoError(t, err)
	return res
}

func TestDuplicateEventIsHandledOnce(t *testing.T) {
	env := newTestEnv(t)
	plan := map[string]any{"action": "scale"}

	first := env.handle(t, events.ActionPlanGenerated, "ev-1", plan)
	second := env.handle(t, events.ActionPlanGenerated, "ev-1", plan)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Len(t, env.ctl.Confirmations.Pending(), 1)
	assert.Equal(t, []string{events.AwaitingConfirmation}, env.bus.types())
	n, err := env.ledger.Count(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMissingKeysMarksEventInvalid(t *testing.T) {
	env := newTestEnv(t)
	res := env.handle(t, events.ConfirmAction, "ev-2", map[string]any{})

	assert.True(t, res.Invalid)
	assert.Equal(t, []string{"plan_id"}, res.Missing)
	assert.True(t, res.Event.Invalid)
	assert.Empty(t, env.bus.events)
	done, err := env.ledger.IsProcessed(context.Background(), "ev-2")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestFailedHandlerIsNotMarkedProcessed(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.disp.Handle(context.Background(), events.Event{
		Type:    events.ApproveProposal,
		EventID: "ev-3",
		Payload: map[string]any{"proposal_id": "missing"},
	})
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	done, err := env.ledger.IsProcessed(context.Background(), "ev-3")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestConfirmationChain(t *testing.T) {
	env := newTestEnv(t)

	res := env.handle(t, events.ActionApproved, "a-1", map[string]any{"type": "growing_product"})
	require.Len(t, res.Children, 1)
	planEvent := res.Children[0]
	assert.Equal(t, events.ActionPlanGenerated, planEvent.Type)
	assert.Equal(t, "a-1", planEvent.ParentEventID)
	assert.Equal(t, "req-a-1", planEvent.RequestID)
	assert.Equal(t, "scale", planEvent.Payload["action"])

	res, err := env.disp.Handle(context.Background(), planEvent)
	require.NoError(t, err)
	require.Len(t, res.Children, 1)
	planID, _ := res.Children[0].Payload["plan_id"].(string)
	require.NotEmpty(t, planID)

	listed := env.handle(t, events.ListPendingConfirmations, "a-2", nil)
	items := listed.Actions[0].Payload["items"].([]Confirmation)
	require.Len(t, items, 1)
	assert.Equal(t, planID, items[0].ID)

	confirmed := env.handle(t, events.ConfirmAction, "a-3", map[string]any{"plan_id": planID})
	require.Len(t, confirmed.Actions, 1)
	assert.Equal(t, events.ActionConfirmed, confirmed.Actions[0].Type)

	again := env.handle(t, events.RejectAction, "a-4", map[string]any{"plan_id": planID})
	assert.Empty(t, again.Actions)
	assert.Empty(t, env.ctl.Confirmations.Pending())
}

func TestOpportunityToProposalFlow(t *testing.T) {
	env := newTestEnv(t)

	res := env.handle(t, events.OpportunityDetected, "o-1", map[string]any{
		"id":          "opp-1",
		"source":      "manual",
		"title":       "Client acquisition template for freelancers",
		"summary":     "Freelancers lose clients without a repeatable outreach system.",
		"opportunity": map[string]any{"confidence": 8},
	})
	require.Len(t, res.Actions, 1)
	assert.Equal(t, events.ProductProposalGenerated, res.Actions[0].Type)
	proposalID := res.Actions[0].Payload["proposal_id"].(string)
	p, ok := env.stores.GetProposal(proposalID)
	require.True(t, ok)
	assert.Equal(t, domain.ProposalDraft, p.Status)
	require.NotNil(t, p.AlignmentScore)
	assert.Equal(t, 80.0, *p.AlignmentScore)

	filtered := env.handle(t, events.OpportunityDetected, "o-2", map[string]any{
		"id": "opp-2", "source": "manual", "title": "Gardening tips",
	})
	assert.Empty(t, filtered.Actions)
	o, _ := env.stores.GetOpportunity("opp-2")
	assert.Equal(t, domain.OpportunityStrategicallyFiltered, o.Status)

	forum := env.handle(t, events.OpportunityDetected, "o-3", map[string]any{
		"id": "reddit-public-x", "source": forumSource, "title": "Client pricing template",
	})
	assert.Empty(t, forum.Actions)
	assert.Equal(t, 3, env.stores.Opportunities.Len())

	replay := env.handle(t, events.OpportunityDetected, "o-4", map[string]any{"id": "opp-2", "title": "again"})
	assert.Empty(t, replay.Actions)

	approved := env.handle(t, events.ApproveProposal, "o-5", map[string]any{"proposal_id": proposalID})
	assert.Equal(t, domain.ProposalApproved, approved.Actions[0].Payload["status"])
	_, ok = env.stores.PlanForProposal(proposalID)
	assert.True(t, ok)

	steps := []string{events.StartBuildingProposal, events.MarkReadyToLaunch, events.ExecuteProductPlanRequested, events.MarkProposalLaunched}
	for i, typ := range steps {
		res = env.handle(t, typ, fmt.Sprintf("o-%d", 6+i), map[string]any{"proposal_id": proposalID})
	}
	require.Len(t, res.Actions, 2)
	assert.Equal(t, events.ProductLaunched, res.Actions[1].Type)
	launchID := res.Actions[1].Payload["launch_id"].(string)
	assert.True(t, strings.HasPrefix(launchID, "launch-"))

	sale := env.handle(t, events.AddProductLaunchSale, "o-10", map[string]any{"launch_id": launchID, "amount": 19.999})
	l := sale.Actions[0].Payload["launch"].(domain.ProductLaunch)
	assert.Equal(t, 1, l.Metrics.Sales)
	assert.Equal(t, 20.0, l.Metrics.Revenue)
}

func TestInfoproductScan(t *testing.T) {
	env := newTestEnv(t)
	env.ctl.Subreddits = []string{"freelance", "broken"}
	env.ctl.Forum = fakeForum{
		posts: map[string][]integrations.Post{"freelance": {
			{ID: "p1", Subreddit: "freelance", Title: "Struggling with client pricing, need help", Body: "How do I charge for a proposal?", Score: 42, NumComments: 30},
			{ID: "p2", Subreddit: "freelance", Title: "Nice weather", Score: 3},
		}},
		fail: map[string]bool{"broken": true},
	}

	res := env.handle(t, events.RunInfoproductScan, "s-1", nil)
	require.Len(t, res.Actions, 2)
	detected := res.Actions[0]
	assert.Equal(t, events.OpportunityDetected, detected.Type)
	assert.Equal(t, "reddit-public-p1", detected.Payload["id"])
	assert.Equal(t, 5, detected.Payload["opportunity"].(map[string]any)["confidence"])

	plan := res.Actions[1]
	assert.Equal(t, events.RedditDailyPlanGenerated, plan.Type)
	assert.Equal(t, []string{"p1"}, plan.Payload["signals"])
	assert.Contains(t, plan.Payload["summary"], "1. r/freelance")

	assert.Equal(t, 1, env.stores.ForumPosts.Len())
	st, ok := env.stores.Subreddits.Get("freelance")
	require.True(t, ok)
	assert.Equal(t, 2, st.PostsAttempted)
}

func TestStrategyDecisionCooldown(t *testing.T) {
	env := newTestEnv(t)
	env.ctl.Cooldown = time.Second

	first := env.handle(t, events.RunStrategyDecision, "d-1", nil)
	require.Len(t, first.Actions, 1)
	assert.Equal(t, "executed", first.Actions[0].Payload["status"])
	assert.Equal(t, strategy.DecisionID("d-1"), first.Actions[0].Payload["decision_id"])

	second := env.handle(t, events.RunStrategyDecision, "d-2", nil)
	require.Len(t, second.Actions, 1)
	assert.Equal(t, "skipped", second.Actions[0].Payload["status"])
	assert.Equal(t, "cooldown_active", second.Actions[0].Payload["reason"])

	logs, err := env.repo.ListDecisionLogs(context.Background(), 10, domain.DecisionTypeStrategyAction)
	require.NoError(t, err)
	policies := map[string]int{}
	for _, l := range logs {
		policies[l.PolicyName]++
	}
	assert.Equal(t, 1, policies[strategy.PolicyName])
	assert.Equal(t, 1, policies[CooldownPolicy])
}

func TestExecuteStrategyActionThroughLayer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.repo.UpsertStrategyAction(ctx, domain.StrategyAction{
		ID: "action-000001", Type: domain.ActionScale, TargetID: "launch-1", Reasoning: "r",
		Status: domain.ActionPendingConfirmation, CreatedAt: testNow.Format(time.RFC3339), RiskLevel: domain.RiskLow, ExpectedImpactScore: 5,
	}))

	res := env.handle(t, events.ExecuteStrategyAction, "x-1", map[string]any{"action_id": "action-000001"})
	assert.Empty(t, res.Actions)
	a, err := env.repo.GetStrategyAction(ctx, "action-000001")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionExecuted, a.Status)
	assert.Contains(t, env.bus.types(), events.StrategyActionExecuted)
}

func TestUserMessageStubReply(t *testing.T) {
	env := newTestEnv(t)
	res := env.handle(t, events.UserMessageSubmitted, "u-1", map[string]any{"text": "hello"})

	require.Len(t, res.Actions, 1)
	text := res.Actions[0].Payload["text"].(string)
	assert.True(t, strings.HasPrefix(text, "Marian, I got your message: 'hello'. Current loop phase is IDLE."))
	assert.Equal(t, statemachine.Idle, env.disp.Machine.State())
	hist := env.stores.Memory.Snapshot().ChatHistory
	require.Len(t, hist, 2)
	assert.Equal(t, "assistant", hist[1].Role)
}

func TestUserMessageUsesModelAndFallsBack(t *testing.T) {
	env := newTestEnv(t)
	chat := &fakeChat{reply: "Ship the kit today."}
	env.ctl.LLM = chat
	res := env.handle(t, events.UserMessageSubmitted, "u-2", map[string]any{"text": "what now?"})
	assert.Equal(t, "Ship the kit today.", res.Actions[0].Payload["text"])

	chat.err = errors.New("boom")
	res = env.handle(t, events.UserMessageSubmitted, "u-3", map[string]any{"text": "and now?"})
	assert.Contains(t, res.Actions[0].Payload["text"], "I got your message")
	assert.Equal(t, 2, chat.calls)
}

func TestHeartbeatPersistsState(t *testing.T) {
	env := newTestEnv(t)
	env.handle(t, events.WakeWordDetected, "h-1", nil)
	env.handle(t, events.Heartbeat, "h-2", nil)

	v, err := env.repo.GetState(context.Background(), statemachine.StateKey)
	require.NoError(t, err)
	assert.Equal(t, string(statemachine.Listening), v)
}

func TestDailyLoopPhases(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	assert.Equal(t, PhaseIdle, env.ctl.DailyLoop(ctx).Phase)
	assert.Nil(t, env.ctl.DailyLoop(ctx).Route)

	_, err := env.ctl.Engine.AddOpportunity(ctx, domain.Opportunity{ID: "o1", Title: "x"})
	require.NoError(t, err)
	st := env.ctl.DailyLoop(ctx)
	assert.Equal(t, PhaseScan, st.Phase)
	assert.Equal(t, "1 opportunity pending evaluation.", st.Summary)

	_, err = env.ctl.Engine.AddProposal(ctx, domain.ProductProposal{ID: "p1", ProductName: "Kit"})
	require.NoError(t, err)
	assert.Equal(t, PhaseDecide, env.ctl.DailyLoop(ctx).Phase)

	_, err = env.ctl.Engine.TransitionProposal(ctx, "p1", domain.ProposalApproved)
	require.NoError(t, err)
	assert.Equal(t, PhaseBuild, env.ctl.DailyLoop(ctx).Phase)

	require.NoError(t, env.repo.UpsertStrategyAction(ctx, domain.StrategyAction{
		ID: "action-000001", Type: domain.ActionReview, TargetID: "l", Reasoning: "r",
		Status: domain.ActionPendingConfirmation, CreatedAt: testNow.Format(time.RFC3339), RiskLevel: domain.RiskLow, ExpectedImpactScore: 5,
	}))
	st = env.ctl.DailyLoop(ctx)
	assert.Equal(t, PhaseExecute, st.Phase)
	assert.Equal(t, "1 pending strategy action ready for execution.", st.Summary)
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	bus := events.NewBus(0, nil)
	env.disp.Bus = bus
	ctx, cancel := context.WithCancel(context.Background())
	bus.Push(events.Event{Type: events.ActionPlanGenerated, EventID: "r-1", Payload: map[string]any{"action": "x"}})

	done := make(chan error, 1)
	go func() { done <- env.disp.Run(ctx, bus) }()
	require.Eventually(t, func() bool { return len(env.ctl.Confirmations.Pending()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
