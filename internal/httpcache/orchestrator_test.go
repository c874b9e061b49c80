package httpcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/resilience"
	"github.com/erfianugrah/image-resizer/internal/scheduler"
)

func TestShouldBypass(t *testing.T) {
	cfg := config.BypassConfig{
		Params:              []string{"nocache", "refresh"},
		BypassInDevelopment: true,
		BypassForAdmin:      true,
		AdminIndicators:     []string{"X-Admin-Bypass"},
		Formats:             []string{"bmp"},
	}

	noCache := httptest.NewRequest(http.MethodGet, "/cat.jpg", nil)
	noCache.Header.Set("Cache-Control", "no-cache")
	assert.True(t, ShouldBypass(noCache, paramresolve.TransformOptions{}, cfg, "production"))

	withParam := httptest.NewRequest(http.MethodGet, "/cat.jpg?refresh=1", nil)
	assert.True(t, ShouldBypass(withParam, paramresolve.TransformOptions{}, cfg, "production"))

	dev := httptest.NewRequest(http.MethodGet, "/cat.jpg", nil)
	assert.True(t, ShouldBypass(dev, paramresolve.TransformOptions{}, cfg, "development"))

	clean := httptest.NewRequest(http.MethodGet, "/cat.jpg", nil)
	assert.False(t, ShouldBypass(clean, paramresolve.TransformOptions{}, cfg, "production"))

	debugHTML := httptest.NewRequest(http.MethodGet, "/cat.jpg?debug=html", nil)
	assert.True(t, ShouldBypass(debugHTML, paramresolve.TransformOptions{}, cfg, "production"))

	bmpFormat := httptest.NewRequest(http.MethodGet, "/cat.jpg", nil)
	assert.True(t, ShouldBypass(bmpFormat, paramresolve.TransformOptions{Format: "bmp"}, cfg, "production"))
}

func TestApplyHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	cfg := config.HTTPCacheConfig{VaryClientHints: []string{"DPR"}, StaleWhileRevalidateSeconds: 600}

	ApplyHeaders(w, HeaderInput{TTL: 3600, Tags: []string{"irv-path-/x"}}, cfg)

	assert.Contains(t, w.Header().Get("Cache-Control"), "max-age=3600")
	assert.Contains(t, w.Header().Get("Cache-Control"), "stale-while-revalidate=600")
	assert.Equal(t, "Accept, DPR", w.Header().Get("Vary"))
	assert.Equal(t, "irv-path-/x", w.Header().Get("Cache-Tag"))
}

func TestOrchestratorCacheWithFallback(t *testing.T) {
	edge, err := NewLRUEdgeCache(10)
	require.NoError(t, err)

	orch := NewOrchestrator(edge, nil, resilience.DefaultCircuitBreakerPolicy, resilience.DefaultRetryPolicy, nil)

	w := httptest.NewRecorder()
	ApplyHeaders(w, HeaderInput{TTL: 60}, config.HTTPCacheConfig{})

	orch.CacheWithFallback(context.Background(), w, HeaderInput{TTL: 60}, "key1", []byte("body"), 200, false)

	entry, fresh, _ := orch.Lookup("key1")
	assert.True(t, fresh)
	assert.Equal(t, []byte("body"), entry.Body)
}

func TestOrchestratorCacheWithFallbackBypassed(t *testing.T) {
	edge, err := NewLRUEdgeCache(10)
	require.NoError(t, err)
	orch := NewOrchestrator(edge, nil, resilience.DefaultCircuitBreakerPolicy, resilience.DefaultRetryPolicy, nil)

	w := httptest.NewRecorder()
	orch.CacheWithFallback(context.Background(), w, HeaderInput{TTL: 60}, "key2", []byte("body"), 200, true)

	_, fresh, stale := orch.Lookup("key2")
	assert.False(t, fresh)
	assert.False(t, stale)
}

func TestOrchestratorLookupReportsStaleEntry(t *testing.T) {
	edge, err := NewLRUEdgeCache(10)
	require.NoError(t, err)
	orch := NewOrchestrator(edge, nil, resilience.DefaultCircuitBreakerPolicy, resilience.DefaultRetryPolicy, nil)

	expired := Entry{
		Body:      []byte("old"),
		Header:    http.Header{},
		Status:    200,
		StoredAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, edge.Put("k", expired))

	entry, fresh, stale := orch.Lookup("k")
	assert.False(t, fresh)
	assert.True(t, stale)
	assert.Equal(t, []byte("old"), entry.Body)
}

func TestServeStaleAndRevalidateRefreshesEntry(t *testing.T) {
	sched := scheduler.New(2, nil)
	edge, err := NewLRUEdgeCache(10)
	require.NoError(t, err)
	orch := NewOrchestrator(edge, sched, resilience.DefaultCircuitBreakerPolicy, resilience.DefaultRetryPolicy, nil)

	expired := Entry{Body: []byte("old"), Header: http.Header{}, Status: 200, ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, edge.Put("k", expired))

	orch.ServeStaleAndRevalidate(context.Background(), "k", func(ctx context.Context) (Entry, error) {
		return Entry{Body: []byte("new"), Header: http.Header{}, Status: 200, ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	require.NoError(t, sched.Shutdown(context.Background()))

	entry, fresh, _ := orch.Lookup("k")
	assert.True(t, fresh)
	assert.Equal(t, []byte("new"), entry.Body)
}
