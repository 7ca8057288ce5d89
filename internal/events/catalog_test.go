package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treta/internal/db"
	"treta/internal/migrate"
)

func TestCatalog(t *testing.T) {
	assert.True(t, Known(ExecuteStrategyAction))
	assert.False(t, Known("UnknownEventX"))
	assert.False(t, Known(StrategyActionExecuted))
	assert.True(t, IsNotification(StrategyActionExecuted))
	for _, emitted := range []string{StrategyDecisionCompleted, RedditDailyPlanGenerated} {
		assert.False(t, Known(emitted), emitted)
		assert.True(t, IsNotification(emitted), emitted)
	}

	assert.Equal(t, []string{"action_id"}, MissingKeys(ExecuteStrategyAction, map[string]any{}))
	assert.Empty(t, MissingKeys(ExecuteStrategyAction, map[string]any{"action_id": "action-000001"}))
	assert.Equal(t, []string{"amount", "launch_id"}, MissingKeys(AddProductLaunchSale, nil))
	assert.Empty(t, MissingKeys(ListOpportunities, nil))
}

func TestPayloadAccessors(t *testing.T) {
	e := Event{Payload: map[string]any{"id": 12.0, "name": "  x ", "amount": "19.5", "dry": true}}
	assert.Equal(t, "12", e.String("id"))
	assert.Equal(t, "x", e.String("name"))
	f, ok := e.Float("amount")
	require.True(t, ok)
	assert.Equal(t, 19.5, f)
	assert.True(t, e.Bool("dry"))
	assert.Equal(t, "", e.String("missing"))
}

func TestChildInheritsTrace(t *testing.T) {
	parent := Event{Type: RunStrategyDecision, RequestID: "req-1", TraceID: "tr-1", EventID: "ev-1"}
	child := parent.Child(StrategyDecisionCompleted, nil)
	assert.Equal(t, "req-1", child.RequestID)
	assert.Equal(t, "tr-1", child.TraceID)
	assert.Equal(t, "ev-1", child.ParentEventID)
	assert.NotEqual(t, "ev-1", child.EventID)
}

func TestNormalizeTraceFallsBackToRequestID(t *testing.T) {
	e := Event{Type: Heartbeat, RequestID: "req-9"}.Normalize(time.Now())
	assert.Equal(t, "req-9", e.TraceID)
	assert.Equal(t, "req-9", e.Trace().CorrelationID())
}

func TestLedger(t *testing.T) {
	conn, err := db.Open(db.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	l := Ledger{DB: conn}
	seen, err := l.IsProcessed(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.MarkProcessed(ctx, "ev-1", ListOpportunities))
	require.NoError(t, l.MarkProcessed(ctx, "ev-1", ListOpportunities))
	seen, err = l.IsProcessed(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, seen)
	n, err := l.Count(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
