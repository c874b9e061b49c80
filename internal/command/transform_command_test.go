package command

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/clientdetect"
	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/httpcache"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/resilience"
	"github.com/erfianugrah/image-resizer/internal/storage"
	"github.com/erfianugrah/image-resizer/internal/transform"
	"github.com/erfianugrah/image-resizer/internal/ttl"
	"github.com/erfianugrah/image-resizer/internal/variantcache"
)

type fakeSource struct {
	sourceType storage.SourceType
	body       string
	err        error
}

func (f *fakeSource) Type() storage.SourceType { return f.sourceType }

func (f *fakeSource) Fetch(ctx context.Context, path string) (storage.Result, error) {
	if f.err != nil {
		return storage.Result{}, f.err
	}
	return storage.Result{
		Body:        io.NopCloser(strings.NewReader(f.body)),
		SourceType:  f.sourceType,
		ContentType: "image/jpeg",
		Size:        int64(len(f.body)),
		Path:        path,
	}, nil
}

// memStore is an in-memory variantcache.Store double, mirroring the
// one used by the variant cache's own tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (s *memStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore) AscendKeys(pattern string, fn func(key string, value []byte) bool) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	for _, k := range keys {
		s.mu.Lock()
		v := s.data[k]
		s.mu.Unlock()
		if !fn(k, v) {
			return nil
		}
	}
	return nil
}

func (s *memStore) Close() error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Core.Environment = "production"
	cfg.Core.Version = "test"
	cfg.Core.Debug.Enabled = true
	cfg.Storage.Priority = []string{"r2"}
	cfg.Storage.Retry.MaxAttempts = 1
	cfg.Storage.CircuitBreaker = config.CircuitBreakerPolicy{FailureThreshold: 5, SuccessThreshold: 1, ResetTimeoutMs: 1000}
	cfg.Cache.Variant.Enabled = true
	cfg.Cache.Variant.Prefix = "irv"
	cfg.Cache.TTL.MinTTL = 60
	cfg.Cache.TTL.MaxTTL = 31536000
	cfg.Cache.TTL.Defaults = config.StatusClassTTL{OK: 3600}
	cfg.Cache.Tags.Prefix = "irv"
	cfg.Transform.ClientDetection.CacheSize = 100
	return cfg
}

func newTestExecutor(t *testing.T, source storage.Source) (*Executor, *config.Manager) {
	t.Helper()

	cfgMgr := config.NewManager(t.TempDir())
	cfg := testConfig()
	require.NoError(t, cfgMgr.Save(cfg))

	resolver := paramresolve.NewResolver(paramresolve.DefaultRegistry)
	clientCache, err := clientdetect.NewCache(10)
	require.NoError(t, err)

	storageSvc := storage.NewService(cfg.Storage, map[storage.SourceType]storage.Source{
		storage.SourceR2: source,
	})

	transformSvc := transform.NewService(transform.PassthroughTransformer{}, &noopMetadata{}, nil)

	calc := ttl.NewCalculator(cfg.Cache.TTL)

	store := newMemStore()
	vc := variantcache.New(store, nil, cfg.Cache.Variant)

	edge, err := httpcache.NewLRUEdgeCache(10)
	require.NoError(t, err)
	orch := httpcache.NewOrchestrator(edge, nil, resilience.DefaultCircuitBreakerPolicy, resilience.DefaultRetryPolicy, nil)

	exec := NewExecutor(cfgMgr, resolver, clientCache, storageSvc, transformSvc, calc, vc, orch, nil, nil, nil, nil)
	return exec, cfgMgr
}

// noopMetadata never needs to resolve anything for passthrough tests,
// since none of the requests exercise smart/aspect/focal options.
type noopMetadata struct{}

func (noopMetadata) Resolve(ctx context.Context, input storage.Result, options paramresolve.TransformOptions) (transform.ResolvedMetadata, error) {
	return transform.ResolvedMetadata{}, nil
}

func TestExecuteFetchesTransformsAndAppliesHeaders(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakeSource{sourceType: storage.SourceR2, body: "bytes"})

	r := httptest.NewRequest("GET", "/images/cat.jpg?width=200", nil)
	resp, err := exec.Execute(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(resp.Body))
	assert.Equal(t, "image/jpeg", resp.ContentType)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "max-age=")
	assert.Empty(t, resp.Header.Get("X-Storage-Time"), "debug headers only attach when debug is requested")
}

func TestExecuteAttachesDebugHeadersWhenRequested(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakeSource{sourceType: storage.SourceR2, body: "bytes"})

	r := httptest.NewRequest("GET", "/images/cat.jpg?width=200&debug=true", nil)
	resp, err := exec.Execute(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "true", resp.Header.Get("X-Debug-Enabled"))
	assert.Equal(t, "r2", resp.Header.Get("X-Storage-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Storage-Time"))
	assert.NotEmpty(t, resp.Header.Get("X-Total-Time"))
}

func TestExecutePropagatesStorageNotFound(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakeSource{sourceType: storage.SourceR2, err: apperr.StorageNotFound(nil)})

	r := httptest.NewRequest("GET", "/images/missing.jpg", nil)
	_, err := exec.Execute(context.Background(), r)
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeStorageNotFound, ae.Code)
}

func TestExecuteRejectsAlreadyCanceledContext(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakeSource{sourceType: storage.SourceR2, body: "bytes"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := httptest.NewRequest("GET", "/images/cat.jpg", nil)
	_, err := exec.Execute(ctx, r)
	require.Error(t, err)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.CodeClientClosed, ae.Code)
}

func TestExecuteDebugHTMLReturnsReport(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakeSource{sourceType: storage.SourceR2, body: "bytes"})

	r := httptest.NewRequest("GET", "/images/cat.jpg?debug=html", nil)
	resp, err := exec.Execute(context.Background(), r)
	require.NoError(t, err)
	assert.Contains(t, string(resp.Body), "path: /images/cat.jpg")
	assert.Equal(t, "text/plain; charset=utf-8", resp.ContentType)
}
