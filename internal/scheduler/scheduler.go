// Package scheduler provides the `waitUntil` equivalent: a way to
// dispatch background work (variant-cache writes, index maintenance,
// stale-while-revalidate refreshes) that must outlive the request
// that triggered it without blocking that request's response.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Scheduler runs submitted functions on a bounded worker pool so a
// burst of background work can't exhaust goroutines or downstream
// connections. Shutdown waits for in-flight work to drain.
type Scheduler struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New builds a Scheduler with at most maxConcurrent functions running
// at once.
func New(maxConcurrent int64, logger *slog.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Scheduler{
		sem:    semaphore.NewWeighted(maxConcurrent),
		logger: logger,
	}
}

// Spawn schedules fn to run in the background and returns immediately.
// fn receives a context detached from ctx's cancellation: an aborted
// client request must not cancel a variant-cache write that future
// requests would benefit from. Context values carry through.
func (s *Scheduler) Spawn(ctx context.Context, fn func(ctx context.Context)) {
	detached := context.WithoutCancel(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Warn("scheduler: spawn after shutdown, running inline")
		}
		fn(detached)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		defer func() {
			if r := recover(); r != nil && s.logger != nil {
				s.logger.Error("scheduler: background work panicked", "panic", r)
			}
		}()
		fn(detached)
	}()
}

// Shutdown blocks until all spawned work completes or ctx is done,
// whichever comes first. After Shutdown, new work submitted via Spawn
// runs inline rather than being dropped.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
