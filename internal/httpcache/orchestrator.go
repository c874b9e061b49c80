package httpcache

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/erfianugrah/image-resizer/internal/resilience"
	"github.com/erfianugrah/image-resizer/internal/scheduler"
)

// Orchestrator is the HTTP cache orchestrator: it writes through to an
// edge-cache-equivalent store under a retry + circuit-breaker policy,
// serving a stale entry with background revalidation when a fresh one
// isn't available.
type Orchestrator struct {
	edge      EdgeCache
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryPolicy
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

func NewOrchestrator(edge EdgeCache, sched *scheduler.Scheduler, breakerPolicy resilience.CircuitBreakerPolicy, retry resilience.RetryPolicy, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		edge:      edge,
		breaker:   resilience.NewCircuitBreaker(breakerPolicy),
		retry:     retry,
		scheduler: sched,
		logger:    logger,
	}
}

// Lookup returns the freshest cached entry for key and reports whether
// it is fresh (safe to serve directly) or merely stale (safe to serve
// once, while revalidate is scheduled in the background).
func (o *Orchestrator) Lookup(key string) (entry Entry, fresh bool, stale bool) {
	e, ok := o.edge.Get(key)
	if !ok {
		return Entry{}, false, false
	}
	if e.fresh() {
		return e, true, false
	}
	return e, false, true
}

// ServeStaleAndRevalidate schedules revalidate as background work via
// the scheduler (ctx.waitUntil equivalent) and returns immediately; the
// caller serves the stale entry it already has without waiting.
func (o *Orchestrator) ServeStaleAndRevalidate(ctx context.Context, key string, revalidate func(ctx context.Context) (Entry, error)) {
	if o.scheduler == nil {
		return
	}
	o.scheduler.Spawn(ctx, func(ctx context.Context) {
		entry, err := revalidate(ctx)
		if err != nil {
			if o.logger != nil {
				o.logger.Warn("httpcache: stale-while-revalidate refresh failed", "key", key, "error", err)
			}
			return
		}
		if err := o.edge.Put(key, entry); err != nil && o.logger != nil {
			o.logger.Warn("httpcache: stale-while-revalidate write failed", "key", key, "error", err)
		}
	})
}

// CacheWithFallback, when not bypassed, writes the response to the
// edge cache under the breaker+retry policy, storing a copy of the
// headers already set on w; it does not set any header on w itself. A
// retryable write failure degrades gracefully: the response already
// written to w is unaffected, only the breaker observes the failure.
func (o *Orchestrator) CacheWithFallback(ctx context.Context, w http.ResponseWriter, in HeaderInput, key string, body []byte, status int, bypassed bool) {
	if bypassed {
		return
	}

	if !o.breaker.Allow() {
		if o.logger != nil {
			o.logger.Warn("httpcache: edge cache write breaker open, skipping", "key", key)
		}
		return
	}

	entry := Entry{
		Body:      body,
		Header:    w.Header().Clone(),
		Status:    status,
		StoredAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Duration(in.TTL) * time.Second),
	}

	err := resilience.Retry(ctx, o.retry, func(ctx context.Context, attempt int) (bool, error) {
		return true, o.edge.Put(key, entry)
	})

	if err != nil {
		o.breaker.RecordFailure()
		if o.logger != nil {
			o.logger.Warn("httpcache: edge cache write failed, serving degraded", "key", key, "error", err)
		}
		return
	}

	o.breaker.RecordSuccess()
}
