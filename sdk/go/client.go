package tretasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal treta HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Health is the GET /health payload.
type Health struct {
	Status    string  `json:"status"`
	AuthMode  string  `json:"auth_mode"`
	Timestamp float64 `json:"timestamp"`
	Version   string  `json:"version"`
}

// Queued acknowledges a published event.
type Queued struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

// Event is a published bus event (partial).
type Event struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Source    string         `json:"source"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
}

// StrategyAction is a registered strategy action (partial).
type StrategyAction struct {
	ID                  string `json:"id"`
	Type                string `json:"type"`
	TargetID            string `json:"target_id"`
	Reasoning           string `json:"reasoning"`
	Status              string `json:"status"`
	CreatedAt           string `json:"created_at"`
	RiskLevel           string `json:"risk_level"`
	ExpectedImpactScore int    `json:"expected_impact_score"`
	AutoExecutable      bool   `json:"auto_executable"`
}

// Outcome is the result of executing one action.
type Outcome struct {
	Action      StrategyAction `json:"action"`
	ExecutionID int64          `json:"execution_id"`
	Executor    string         `json:"executor"`
	Status      string         `json:"status"`
	Reason      string         `json:"reason"`
	Error       string         `json:"error"`
}

// DecisionLog is one audited decision (partial).
type DecisionLog struct {
	ID           int64  `json:"id"`
	CreatedAt    string `json:"created_at"`
	DecisionType string `json:"decision_type"`
	EntityType   string `json:"entity_type,omitempty"`
	EntityID     string `json:"entity_id,omitempty"`
	ActionType   string `json:"action_type,omitempty"`
	Decision     string `json:"decision"`
	PolicyName   string `json:"policy_name"`
	Reason       string `json:"reason"`
	Status       string `json:"status"`
}

// IntegrityIssue is one broken lifecycle rule.
type IntegrityIssue struct {
	Type     string         `json:"type"`
	Severity string         `json:"severity"`
	ID       string         `json:"id"`
	Details  map[string]any `json:"details"`
}

// Integrity is the GET /system/integrity payload (partial).
type Integrity struct {
	Status          string           `json:"status"`
	Issues          []IntegrityIssue `json:"issues"`
	Counts          map[string]int   `json:"counts"`
	Version         string           `json:"version"`
	ComputedAt      string           `json:"computed_at"`
	Stale           bool             `json:"stale"`
	RecomputeFailed bool             `json:"recompute_failed"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	RequestID  string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s request_id=%s", e.StatusCode, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// Health reports liveness and the auth mode.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

// PublishEvent queues an event on the bus. eventID is optional and makes the
// publication idempotent.
func (c *Client) PublishEvent(ctx context.Context, eventType string, payload map[string]any, eventID string) (Queued, error) {
	body := map[string]any{"type": eventType}
	if payload != nil {
		body["payload"] = payload
	}
	var headers map[string]string
	if eventID != "" {
		headers = map[string]string{"X-Event-Id": eventID}
	}
	var resp Queued
	err := c.doWithHeaders(ctx, http.MethodPost, "event", body, headers, &resp)
	return resp, err
}

// RecentEvents returns the latest bus events.
func (c *Client) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("events", "limit", limit), nil, &resp)
	return resp.Events, err
}

// PendingActions lists actions waiting for confirmation.
func (c *Client) PendingActions(ctx context.Context) ([]StrategyAction, error) {
	var resp struct {
		Items []StrategyAction `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "strategy/pending_actions", nil, &resp)
	return resp.Items, err
}

// ExecuteAction confirms and runs a pending action.
func (c *Client) ExecuteAction(ctx context.Context, id string) (Outcome, error) {
	var resp Outcome
	err := c.do(ctx, http.MethodPost, "strategy/execute_action/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// RejectAction rejects a pending action.
func (c *Client) RejectAction(ctx context.Context, id string) (StrategyAction, error) {
	var resp StrategyAction
	err := c.do(ctx, http.MethodPost, "strategy/reject_action/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// DecisionLogs returns recent decision logs, optionally of one type.
func (c *Client) DecisionLogs(ctx context.Context, limit int, decisionType string) ([]DecisionLog, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if decisionType != "" {
		q.Set("type", decisionType)
	}
	endpoint := "decision_logs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []DecisionLog `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Integrity returns the lifecycle integrity report.
func (c *Client) Integrity(ctx context.Context) (Integrity, error) {
	var resp Integrity
	err := c.do(ctx, http.MethodGet, "system/integrity", nil, &resp)
	return resp, err
}

func withQuery(endpoint, key string, n int) string {
	if n <= 0 {
		return endpoint
	}
	return endpoint + "?" + key + "=" + strconv.Itoa(n)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	return c.doWithHeaders(ctx, method, endpoint, body, nil, out)
}

func (c *Client) doWithHeaders(ctx context.Context, method, endpoint string, body any, headers map[string]string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		if decodeErr == nil {
			apiErr.Type, apiErr.Code, apiErr.Message = env.Error.Type, env.Error.Code, env.Error.Message
			apiErr.RequestID = env.RequestID
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode envelope: %w", decodeErr)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
