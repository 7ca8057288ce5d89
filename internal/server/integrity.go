package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"treta/internal/lifecycle"
)

// IntegrityFunc computes a fresh integrity report.
type IntegrityFunc func(ctx context.Context) (lifecycle.Report, error)

// IntegrityMetrics describe the cache behind GET /system/integrity.
type IntegrityMetrics struct {
	LastComputeMS   float64 `json:"last_integrity_compute_ms"`
	LastComputedAt  string  `json:"last_integrity_at,omitempty" format:"date-time"`
	CacheHits       int     `json:"integrity_cache_hit"`
	EventQueueDepth int     `json:"event_queue_depth"`
}

// IntegritySnapshot is the served report. Stale marks a cached report served
// after the recomputation failed.
type IntegritySnapshot struct {
	lifecycle.Report
	Version         string           `json:"version"`
	ComputedAt      string           `json:"computed_at" format:"date-time"`
	Stale           bool             `json:"stale"`
	RecomputeFailed bool             `json:"recompute_failed"`
	Metrics         IntegrityMetrics `json:"metrics"`
}

type integrityCache struct {
	compute IntegrityFunc
	ttl     time.Duration
	now     func() time.Time
	version string
	log     *zap.Logger

	mu         sync.Mutex
	last       *IntegritySnapshot
	computedAt time.Time
	metrics    IntegrityMetrics
}

// Get serves the cached report while it is fresh, recomputes it otherwise and
// falls back to the last good report when the recomputation fails.
func (c *integrityCache) Get(ctx context.Context) (IntegritySnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.last != nil && now.Sub(c.computedAt) < c.ttl {
		c.metrics.CacheHits++
		snap := *c.last
		snap.Metrics = c.metrics
		return snap, nil
	}

	started := time.Now()
	report, err := c.compute(ctx)
	if err != nil {
		if c.last == nil {
			return IntegritySnapshot{}, err
		}
		c.log.Warn("integrity recompute failed; serving stale report", zap.Error(err))
		snap := *c.last
		snap.Stale, snap.RecomputeFailed = true, true
		snap.Metrics = c.metrics
		return snap, nil
	}
	c.metrics.LastComputeMS = float64(time.Since(started).Microseconds()) / 1000
	c.metrics.LastComputedAt = now.UTC().Format(time.RFC3339)
	snap := IntegritySnapshot{
		Report:     report,
		Version:    c.version,
		ComputedAt: now.UTC().Format(time.RFC3339),
	}
	c.last, c.computedAt = &snap, now
	out := snap
	out.Metrics = c.metrics
	return out, nil
}

func (s *service) computeIntegrity(context.Context) (lifecycle.Report, error) {
	return s.ctl.Engine.Integrity(), nil
}

func registerIntegrity(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "system-integrity",
		Method:      http.MethodGet,
		Path:        "/system/integrity",
		Summary:     "Lifecycle integrity report",
		Description: "Cached for a short TTL. When a recomputation fails the last good report is returned with stale=true.",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*reply[IntegritySnapshot], error) {
		snap, err := s.integrity.Get(ctx)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		snap.Metrics.EventQueueDepth = s.bus.Len()
		return respond(ctx, snap)
	})
}
