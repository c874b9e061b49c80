package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnRunsFunction(t *testing.T) {
	s := New(2, nil)
	done := make(chan struct{})

	s.Spawn(context.Background(), func(ctx context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("spawned function never ran")
	}
}

func TestSpawnDetachesFromCancelledContext(t *testing.T) {
	s := New(2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := make(chan error, 1)
	s.Spawn(ctx, func(ctx context.Context) {
		ran <- ctx.Err()
	})

	select {
	case err := <-ran:
		assert.NoError(t, err, "background work must not observe the request's cancellation")
	case <-time.After(time.Second):
		t.Fatal("spawned function never ran after client abort")
	}
}

func TestShutdownWaitsForInflightWork(t *testing.T) {
	s := New(2, nil)
	var finished atomic.Bool

	s.Spawn(context.Background(), func(ctx context.Context) {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	require.NoError(t, s.Shutdown(context.Background()))
	assert.True(t, finished.Load())
}

func TestSpawnAfterShutdownRunsInline(t *testing.T) {
	s := New(2, nil)
	require.NoError(t, s.Shutdown(context.Background()))

	ran := false
	s.Spawn(context.Background(), func(ctx context.Context) {
		ran = true
	})
	assert.True(t, ran)
}
