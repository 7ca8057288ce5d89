package integrations

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Task types understood by the model policy.
const (
	TaskPlanning   = "planning"
	TaskExecution  = "execution"
	TaskEvaluation = "evaluation"
	TaskChat       = "chat"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelPolicy maps a task type to a model name. Unknown task types use the
// chat model.
type ModelPolicy map[string]string

func DefaultModelPolicy() ModelPolicy {
	return ModelPolicy{
		TaskPlanning:   "gpt-4o",
		TaskExecution:  "gpt-4o-mini",
		TaskEvaluation: "gpt-4o-mini",
		TaskChat:       "gpt-4o-mini",
	}
}

func (p ModelPolicy) Model(taskType string) string {
	if m, ok := p[strings.ToLower(strings.TrimSpace(taskType))]; ok && m != "" {
		return m
	}
	if m := p[TaskChat]; m != "" {
		return m
	}
	return "gpt-4o-mini"
}

// LLMConfig configures an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Policy  ModelPolicy
	Breaker BreakerConfig
}

// LLM is a chat completions client.
type LLM struct {
	t      *transport
	policy ModelPolicy
}

// NewLLM returns nil when no API key is configured; callers treat a nil *LLM
// as "no model available".
func NewLLM(cfg LLMConfig, httpClient *http.Client, log *zap.Logger) *LLM {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	policy := cfg.Policy
	if policy == nil {
		policy = DefaultModelPolicy()
	}
	if cfg.Model != "" {
		policy[TaskChat] = cfg.Model
	}
	t := newTransport("llm", cfg.BaseURL, httpClient, cfg.Breaker, log)
	t.headers["Authorization"] = "Bearer " + cfg.APIKey
	return &LLM{t: t, policy: policy}
}

// Model returns the model the policy picks for taskType.
func (c *LLM) Model(taskType string) string {
	return c.policy.Model(taskType)
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat sends messages and returns the first choice's content. An empty model
// is resolved through the policy.
func (c *LLM) Chat(ctx context.Context, messages []Message, taskType, model string) (string, error) {
	if model == "" {
		model = c.Model(taskType)
	}
	var resp chatResponse
	if err := c.t.do(ctx, http.MethodPost, "chat/completions", nil, chatRequest{Model: model, Messages: messages}, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// BreakerState reports the state of the client's breaker.
func (c *LLM) BreakerState() string {
	return c.t.State()
}
