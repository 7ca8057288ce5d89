package integrations

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TaskRequest is queued on the external task runner.
type TaskRequest struct {
	TaskType      string         `json:"task_type"`
	ActionID      string         `json:"action_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	RequestedAt   string         `json:"requested_at"`
}

type TaskReceipt struct {
	TaskID string `json:"task_id"`
}

type TasksConfig struct {
	BaseURL string
	Timeout time.Duration
	Breaker BreakerConfig
}

// Tasks queues non-destructive work on the external task runner.
type Tasks struct {
	t *transport
}

// NewTasks returns nil when no base URL is configured.
func NewTasks(cfg TasksConfig, httpClient *http.Client, log *zap.Logger) *Tasks {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil
	}
	if httpClient == nil && cfg.Timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Tasks{t: newTransport("external_tasks", cfg.BaseURL, httpClient, cfg.Breaker, log)}
}

func (c *Tasks) Queue(ctx context.Context, req TaskRequest) (TaskReceipt, error) {
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	var out TaskReceipt
	err := c.t.do(ctx, http.MethodPost, "tasks", nil, req, &out)
	return out, err
}

// BreakerState reports the state of the client's breaker.
func (c *Tasks) BreakerState() string {
	return c.t.State()
}
