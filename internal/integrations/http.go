// Package integrations holds the HTTP clients for the external collaborators:
// the LLM, the sales platform, the public forum and the external task runner.
// Every client sits behind a circuit breaker and reports failures as
// domain.DependencyError.
package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"treta/internal/domain"
	"treta/internal/logging"
)

const (
	DefaultTimeout          = 10 * time.Second
	DefaultBreakerFailures  = 3
	DefaultBreakerOpenAfter = 30 * time.Second
)

// StatusError wraps non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.StatusCode, e.Body)
}

// BreakerConfig tunes the breaker wrapped around a client.
type BreakerConfig struct {
	Failures uint32
	Open     time.Duration
}

// transport is the shared JSON-over-HTTP plumbing of every client.
type transport struct {
	service string
	baseURL string
	headers map[string]string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func newTransport(service, baseURL string, httpClient *http.Client, cfg BreakerConfig, log *zap.Logger) *transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.Failures == 0 {
		cfg.Failures = DefaultBreakerFailures
	}
	if cfg.Open <= 0 {
		cfg.Open = DefaultBreakerOpenAfter
	}
	log = logging.OrNop(log).Named(service)
	failures := cfg.Failures
	return &transport{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: map[string]string{},
		http:    httpClient,
		log:     log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    service,
			Timeout: cfg.Open,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", zap.String("breaker", name),
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
	}
}

// State reports the breaker state: "closed", "half-open" or "open".
func (t *transport) State() string {
	return t.breaker.State().String()
}

// do sends body as JSON and decodes a 2xx response into out. Transport errors,
// non-2xx statuses and an open breaker all surface as DependencyError.
func (t *transport) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.roundTrip(ctx, method, path, query, body, out)
	})
	if err != nil {
		return domain.DependencyError{Service: t.service, Err: err}
	}
	return nil
}

func (t *transport) roundTrip(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+"/"+strings.TrimLeft(path, "/"), &buf)
	if err != nil {
		return err
	}
	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	started := time.Now()
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	t.log.Debug("request finished", zap.String("method", method), zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(started)))
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
