package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/config"
)

type fakeSource struct {
	sourceType SourceType
	attempts   int
	fn         func(attempt int) (Result, error)
}

func (f *fakeSource) Type() SourceType { return f.sourceType }

func (f *fakeSource) Fetch(ctx context.Context, path string) (Result, error) {
	f.attempts++
	return f.fn(f.attempts)
}

func testStorageConfig() config.StorageConfig {
	return config.StorageConfig{
		Priority: []string{"r2", "remote", "fallback"},
		Retry:    config.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 1, MaxDelayMs: 2},
		CircuitBreaker: config.CircuitBreakerPolicy{
			FailureThreshold: 2, SuccessThreshold: 1, ResetTimeoutMs: 50,
		},
		FailureWindow: config.FailureWindowPolicy{WindowSize: 5, FailureRateThreshold: 0.5},
	}
}

func TestServiceReturnsFirstSuccessfulSource(t *testing.T) {
	r2 := &fakeSource{sourceType: SourceR2, fn: func(int) (Result, error) {
		return Result{}, apperr.StorageNotFound(errors.New("missing"))
	}}
	remote := &fakeSource{sourceType: SourceRemote, fn: func(int) (Result, error) {
		return Result{SourceType: SourceRemote, Body: io.NopCloser(strings.NewReader("ok")), ContentType: "image/jpeg"}, nil
	}}

	svc := NewService(testStorageConfig(), map[SourceType]Source{SourceR2: r2, SourceRemote: remote})

	result, err := svc.Fetch(context.Background(), "/photos/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, result.SourceType)
}

func TestServiceRetriesRetryableErrorsBeforeMovingOn(t *testing.T) {
	calls := 0
	r2 := &fakeSource{sourceType: SourceR2, fn: func(attempt int) (Result, error) {
		calls++
		if attempt < 3 {
			return Result{}, apperr.StorageUnavailable(errors.New("transient"))
		}
		return Result{SourceType: SourceR2, Body: io.NopCloser(strings.NewReader("ok"))}, nil
	}}

	svc := NewService(testStorageConfig(), map[SourceType]Source{SourceR2: r2})

	result, err := svc.Fetch(context.Background(), "/photos/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, SourceR2, result.SourceType)
	assert.Equal(t, 3, calls)
}

func TestServiceShortCircuitsOnNonRetryableError(t *testing.T) {
	attempts := 0
	r2 := &fakeSource{sourceType: SourceR2, fn: func(int) (Result, error) {
		attempts++
		return Result{}, apperr.StorageAuthFailed(errors.New("forbidden"))
	}}
	remote := &fakeSource{sourceType: SourceRemote, fn: func(int) (Result, error) {
		return Result{SourceType: SourceRemote, Body: io.NopCloser(strings.NewReader("ok"))}, nil
	}}

	svc := NewService(testStorageConfig(), map[SourceType]Source{SourceR2: r2, SourceRemote: remote})

	result, err := svc.Fetch(context.Background(), "/photos/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, result.SourceType)
	assert.Equal(t, 1, attempts)
}

func TestServiceReturnsNotFoundWhenAllSourcesMiss(t *testing.T) {
	r2 := &fakeSource{sourceType: SourceR2, fn: func(int) (Result, error) {
		return Result{}, apperr.StorageNotFound(errors.New("missing"))
	}}
	remote := &fakeSource{sourceType: SourceRemote, fn: func(int) (Result, error) {
		return Result{}, apperr.StorageNotFound(errors.New("missing"))
	}}

	svc := NewService(testStorageConfig(), map[SourceType]Source{SourceR2: r2, SourceRemote: remote})

	_, err := svc.Fetch(context.Background(), "/photos/cat.jpg")
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeStorageNotFound, ae.Code)
}

func TestServiceReturnsAllSourcesFailedWithMixedErrors(t *testing.T) {
	r2 := &fakeSource{sourceType: SourceR2, fn: func(int) (Result, error) {
		return Result{}, apperr.StorageNotFound(errors.New("missing"))
	}}
	remote := &fakeSource{sourceType: SourceRemote, fn: func(int) (Result, error) {
		return Result{}, apperr.StorageUnavailable(errors.New("down"))
	}}

	svc := NewService(testStorageConfig(), map[SourceType]Source{SourceR2: r2, SourceRemote: remote})

	_, err := svc.Fetch(context.Background(), "/photos/cat.jpg")
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeStorageAllSourcesFailed, ae.Code)
}

func TestServiceOpensBreakerAfterRepeatedFailures(t *testing.T) {
	attempts := 0
	r2 := &fakeSource{sourceType: SourceR2, fn: func(int) (Result, error) {
		attempts++
		return Result{}, apperr.StorageUnavailable(errors.New("down"))
	}}

	cfg := testStorageConfig()
	cfg.Priority = []string{"r2"}
	cfg.Retry.MaxAttempts = 1
	svc := NewService(cfg, map[SourceType]Source{SourceR2: r2})

	_, _ = svc.Fetch(context.Background(), "/a.jpg")
	_, _ = svc.Fetch(context.Background(), "/a.jpg")
	before := attempts

	_, err := svc.Fetch(context.Background(), "/a.jpg")
	require.Error(t, err)
	assert.Equal(t, before, attempts, "breaker should have skipped this attempt")
}
