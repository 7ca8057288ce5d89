package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"treta/internal/domain"
)

func TestLLMChatUsesPolicyModel(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hola"}}]}`))
	}))
	defer srv.Close()

	llm := NewLLM(LLMConfig{BaseURL: srv.URL, APIKey: "sk-test"}, srv.Client(), zap.NewNop())
	require.NotNil(t, llm)
	out, err := llm.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, TaskPlanning, "")
	require.NoError(t, err)
	assert.Equal(t, "hola", out)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Len(t, got.Messages, 1)
}

func TestNewLLMWithoutKeyIsNil(t *testing.T) {
	assert.Nil(t, NewLLM(LLMConfig{}, nil, nil))
	assert.Nil(t, NewGumroad(GumroadConfig{}, nil, nil))
	assert.Nil(t, NewTasks(TasksConfig{}, nil, nil))
}

func TestModelPolicyFallsBackToChat(t *testing.T) {
	p := DefaultModelPolicy()
	assert.Equal(t, "gpt-4o", p.Model("PLANNING"))
	assert.Equal(t, "gpt-4o-mini", p.Model("unknown"))
}

func TestGumroadSalesNormalizesAmounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/sales", r.URL.Path)
		assert.Equal(t, "prod-1", r.URL.Query().Get("product_id"))
		w.Write([]byte(`{"sales":[
			{"id":"s3","price":2500,"created_at":"2024-01-03T00:00:00Z"},
			{"id":"s2","price":"19.5"},
			{"id":"s1","amount_cents":1200}
		]}`))
	}))
	defer srv.Close()

	g := NewGumroad(GumroadConfig{BaseURL: srv.URL, AccessToken: "tok"}, srv.Client(), zap.NewNop())
	sales, err := g.Sales(context.Background(), "prod-1")
	require.NoError(t, err)
	require.Len(t, sales, 3)
	assert.Equal(t, domain.Sale{ID: "s3", ProductID: "prod-1", Amount: 25, CreatedAt: "2024-01-03T00:00:00Z"}, sales[0])
	assert.Equal(t, 19.5, sales[1].Amount)
	assert.Equal(t, 12.0, sales[2].Amount)
}

func TestRedditFetchPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/freelance/new.json", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, redditUserAgent, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"data":{"children":[{"data":{"id":"abc","title":"Stuck on pricing","selftext":"help","score":4,"num_comments":12}}]}}`))
	}))
	defer srv.Close()

	r := NewReddit(RedditConfig{BaseURL: srv.URL}, srv.Client(), zap.NewNop())
	posts, err := r.FetchPosts(context.Background(), "freelance", 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "freelance", posts[0].Subreddit)
	assert.Equal(t, 12, posts[0].NumComments)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	tasks := NewTasks(TasksConfig{BaseURL: srv.URL, Breaker: BreakerConfig{Failures: 2, Open: time.Minute}}, srv.Client(), zap.NewNop())
	for i := 0; i < 2; i++ {
		_, err := tasks.Queue(context.Background(), TaskRequest{TaskType: "queue_external_task", ActionID: "action-000001"})
		var dep domain.DependencyError
		require.True(t, errors.As(err, &dep))
		var status *StatusError
		require.True(t, errors.As(err, &status))
		assert.Equal(t, http.StatusBadGateway, status.StatusCode)
	}
	assert.Equal(t, "open", tasks.BreakerState())

	_, err := tasks.Queue(context.Background(), TaskRequest{TaskType: "queue_external_task"})
	var dep domain.DependencyError
	require.True(t, errors.As(err, &dep))
	assert.Equal(t, "external_tasks", dep.Service)
	assert.Equal(t, 2, calls)
}

func TestTasksQueueReturnsReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req TaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "action-000007", req.ActionID)
		assert.NotNil(t, req.Metadata)
		w.Write([]byte(`{"task_id":"task-9"}`))
	}))
	defer srv.Close()

	tasks := NewTasks(TasksConfig{BaseURL: srv.URL}, srv.Client(), zap.NewNop())
	receipt, err := tasks.Queue(context.Background(), TaskRequest{TaskType: "queue_external_task", ActionID: "action-000007"})
	require.NoError(t, err)
	assert.Equal(t, "task-9", receipt.TaskID)
}
