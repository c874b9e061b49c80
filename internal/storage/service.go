package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/resilience"
)

const defaultFailureRateThreshold = 0.5

// failureWindow is a per-source sliding log of the most recent fetch
// outcomes (at most size of them), used to derive an effective
// priority independent of the circuit breaker's open/closed state.
type failureWindow struct {
	mu       sync.Mutex
	size     int
	outcomes []bool // true = failure
}

func newFailureWindow(size int) *failureWindow {
	if size <= 0 {
		size = 20
	}
	return &failureWindow{size: size}
}

func (w *failureWindow) record(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.outcomes = append(w.outcomes, failed)
	if len(w.outcomes) > w.size {
		w.outcomes = w.outcomes[len(w.outcomes)-w.size:]
	}
}

func (w *failureWindow) failureRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.outcomes) == 0 {
		return 0
	}
	failures := 0
	for _, f := range w.outcomes {
		if f {
			failures++
		}
	}
	return float64(failures) / float64(len(w.outcomes))
}

type sourceEntry struct {
	source  Source
	breaker *resilience.CircuitBreaker
	window  *failureWindow
	limiter *rate.Limiter
}

// Service fetches from an ordered set of Sources, skipping any whose
// breaker is open and deprioritizing (to the back of the attempt
// order, not excluding) any whose sliding failure rate exceeds the
// configured threshold.
type Service struct {
	entries map[SourceType]*sourceEntry
	order   []SourceType
	retry   resilience.RetryPolicy
	failPct float64
}

func NewService(cfg config.StorageConfig, sources map[SourceType]Source) *Service {
	svc := &Service{
		entries: map[SourceType]*sourceEntry{},
		failPct: cfg.FailureWindow.FailureRateThreshold,
		retry: resilience.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		},
	}
	if svc.failPct <= 0 {
		svc.failPct = defaultFailureRateThreshold
	}

	breakerPolicy := resilience.CircuitBreakerPolicy{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		ResetTimeout:     time.Duration(cfg.CircuitBreaker.ResetTimeoutMs) * time.Millisecond,
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
		burst = int(cfg.RateLimitPerSec)
		if burst < 1 {
			burst = 1
		}
	}

	for _, name := range cfg.Priority {
		st := SourceType(name)
		src, ok := sources[st]
		if !ok {
			continue
		}
		svc.order = append(svc.order, st)
		svc.entries[st] = &sourceEntry{
			source:  src,
			breaker: resilience.NewCircuitBreaker(breakerPolicy),
			window:  newFailureWindow(cfg.FailureWindow.WindowSize),
			limiter: rate.NewLimiter(limit, burst),
		}
	}

	return svc
}

// Fetch tries each source in effective priority order, retrying
// retryable errors per source and falling through to the next source
// on a non-retryable error or retry exhaustion.
func (s *Service) Fetch(ctx context.Context, path string) (Result, error) {
	order := s.effectivePriority()
	errs := map[string]error{}

	for _, st := range order {
		entry := s.entries[st]
		if !entry.breaker.Allow() {
			errs[string(st)] = apperr.StorageUnavailable(nil)
			continue
		}

		if entry.limiter != nil {
			if err := entry.limiter.Wait(ctx); err != nil {
				errs[string(st)] = err
				continue
			}
		}

		var result Result
		retryErr := resilience.Retry(ctx, s.retry, func(ctx context.Context, attempt int) (bool, error) {
			res, err := entry.source.Fetch(ctx, path)
			if err != nil {
				return apperr.Retryable(err), err
			}
			result = res
			return false, nil
		})

		if retryErr == nil {
			entry.breaker.RecordSuccess()
			entry.window.record(false)
			return result, nil
		}

		if isNotFound(retryErr) {
			// The source answered authoritatively; it just doesn't
			// have the object. That is not a health signal.
			entry.breaker.RecordSuccess()
			entry.window.record(false)
		} else {
			entry.breaker.RecordFailure()
			entry.window.record(true)
		}
		errs[string(st)] = retryErr
	}

	if len(errs) > 0 && allNotFound(errs) {
		return Result{}, apperr.StorageNotFound(errors.New("no source had the requested object"))
	}

	return Result{}, apperr.StorageAllSourcesFailed(errs)
}

// effectivePriority returns the configured source order with any
// source whose recent failure rate exceeds the threshold pushed to
// the back.
func (s *Service) effectivePriority() []SourceType {
	healthy := make([]SourceType, 0, len(s.order))
	degraded := make([]SourceType, 0, len(s.order))

	for _, st := range s.order {
		if s.entries[st].window.failureRate() > s.failPct {
			degraded = append(degraded, st)
		} else {
			healthy = append(healthy, st)
		}
	}

	return append(healthy, degraded...)
}

func isNotFound(err error) bool {
	var ae *apperr.Error
	return errors.As(err, &ae) && ae.Code == apperr.CodeStorageNotFound
}

func allNotFound(errs map[string]error) bool {
	for _, err := range errs {
		if !isNotFound(err) {
			return false
		}
	}
	return true
}

