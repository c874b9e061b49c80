// Package command implements the Transform Command: the per-request
// orchestrator that runs fetch -> optimize -> transform -> cache with
// per-phase timing and cancellation.
package command

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/cachetags"
	"github.com/erfianugrah/image-resizer/internal/clientdetect"
	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/httpcache"
	"github.com/erfianugrah/image-resizer/internal/middleware"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/pathsvc"
	"github.com/erfianugrah/image-resizer/internal/scheduler"
	"github.com/erfianugrah/image-resizer/internal/storage"
	"github.com/erfianugrah/image-resizer/internal/transform"
	"github.com/erfianugrah/image-resizer/internal/ttl"
	"github.com/erfianugrah/image-resizer/internal/variantcache"
)

// Breadcrumb is a structured, timed trace event emitted by one
// command step.
type Breadcrumb struct {
	Phase    string
	Duration time.Duration
}

// Response is what the command produces for the HTTP handler to write.
type Response struct {
	Body        []byte
	ContentType string
	Status      int
	Header      http.Header
}

// Executor runs one Transform Command instance per request. It holds
// only borrowed references to the services the Lifecycle Manager owns.
type Executor struct {
	cfgMgr       *config.Manager
	resolver     *paramresolve.Resolver
	clientCache  *clientdetect.Cache
	storageSvc   *storage.Service
	transformSvc *transform.Service
	ttlCalc      *ttl.Calculator
	variantCache *variantcache.Cache
	httpOrch     *httpcache.Orchestrator
	scheduler    *scheduler.Scheduler
	reporter     DebugReporter
	logger       *slog.Logger

	knownDerivatives []string
}

func NewExecutor(
	cfgMgr *config.Manager,
	resolver *paramresolve.Resolver,
	clientCache *clientdetect.Cache,
	storageSvc *storage.Service,
	transformSvc *transform.Service,
	ttlCalc *ttl.Calculator,
	variantCache *variantcache.Cache,
	httpOrch *httpcache.Orchestrator,
	sched *scheduler.Scheduler,
	reporter DebugReporter,
	logger *slog.Logger,
	knownDerivatives []string,
) *Executor {
	if reporter == nil {
		reporter = PlainTextDebugReporter{}
	}
	return &Executor{
		cfgMgr:           cfgMgr,
		resolver:         resolver,
		clientCache:      clientCache,
		storageSvc:       storageSvc,
		transformSvc:     transformSvc,
		ttlCalc:          ttlCalc,
		variantCache:     variantCache,
		httpOrch:         httpOrch,
		scheduler:        sched,
		reporter:         reporter,
		logger:           logger,
		knownDerivatives: knownDerivatives,
	}
}

// Execute runs the full request pipeline: path normalization,
// parameter resolution, client-aware optimization, storage fetch,
// transformation, and cache-header application, scheduling the
// variant-cache write and edge-cache write as background work.
func (e *Executor) Execute(ctx context.Context, r *http.Request) (*Response, error) {
	requestID := uuid.NewString()
	cfg := e.cfgMgr.Get()
	var breadcrumbs []Breadcrumb

	timer := func(phase string) func() {
		start := time.Now()
		return func() {
			d := time.Since(start)
			breadcrumbs = append(breadcrumbs, Breadcrumb{Phase: phase, Duration: d})
			if e.logger != nil {
				e.logger.Debug("breadcrumb", "request_id", requestID, "phase", phase, "duration", d)
			}
		}
	}

	// Step 1: honor pre-existing cancellation.
	if err := ctx.Err(); err != nil {
		return nil, apperr.ClientClosed()
	}

	cleanedPath, inline := pathsvc.ParseImagePath(pathsvc.Normalize(r.URL.Path))
	cleanedPath, derivative := pathsvc.ExtractDerivative(cleanedPath, e.knownDerivatives)
	cleanedPath = pathsvc.ApplyTransformations(cleanedPath, cfg.Storage.PathTransforms)

	options, _ := e.resolver.Resolve(r.URL)
	options.Path = cleanedPath
	if derivative != "" && options.Derivative == "" {
		options.Derivative = derivative
	}
	for k, v := range pathsvc.InlineOptionsToQuery(inline) {
		if options.Extra == nil {
			options.Extra = map[string]any{}
		}
		options.Extra[k] = v
	}

	clientInfo := e.clientCache.Resolve(r, cfg.Transform.ClientDetection)
	options = clientdetect.GetOptimizedOptions(clientInfo, options, cfg.Transform.PerformanceBudget)

	bypassed := httpcache.ShouldBypass(r, options, cfg.Cache.Bypass, cfg.Core.Environment)

	if e.variantCache != nil && !bypassed {
		if body, meta, ok := e.variantCache.Get(cleanedPath, options); ok {
			return &Response{Body: body, ContentType: meta.ContentType, Status: http.StatusOK, Header: http.Header{}}, nil
		}
	}

	cacheKey := cfg.Cache.Variant.Prefix + ":edge:" + variantcache.Fingerprint(cleanedPath, variantcache.OptionsToMap(options))

	if e.httpOrch != nil && !bypassed {
		if entry, fresh, stale := e.httpOrch.Lookup(cacheKey); fresh || stale {
			if stale {
				e.httpOrch.ServeStaleAndRevalidate(ctx, cacheKey, func(ctx context.Context) (httpcache.Entry, error) {
					return e.rebuildEntry(ctx, cleanedPath, options, cfg)
				})
			}
			return responseFromEntry(entry), nil
		}
	}

	// Step 2: storage fetch.
	stopStorage := timer("storage")
	result, err := e.storageSvc.Fetch(ctx, cleanedPath)
	stopStorage()
	if err != nil {
		return nil, err
	}
	if result.Body != nil {
		defer result.Body.Close()
	}
	if ctx.Err() != nil {
		return nil, apperr.ClientClosed()
	}

	// Steps 3-4: metadata enrichment (inside the Transformation
	// Service) and transform invocation.
	stopTransform := timer("transform")
	out, err := e.transformSvc.Transform(ctx, result, options)
	stopTransform()
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, apperr.ClientClosed()
		}
		return nil, err
	}

	// Step 5: cache headers.
	status := http.StatusOK
	statusClass := ttl.ClassifyStatus(status)
	ttlSeconds := e.ttlCalc.Calculate(ttl.Input{
		Path:        cleanedPath,
		Status:      status,
		ContentType: out.ContentType,
		Derivative:  options.Derivative,
	})
	tags := cachetags.Generate(r, cleanedPath, result, options, cfg.Cache.Tags)

	header := http.Header{}
	header.Set("Content-Type", out.ContentType)
	w := headerOnlyWriter{header: header}
	httpcache.ApplyHeaders(w, httpcache.HeaderInput{
		TTL:         ttlSeconds,
		StatusClass: statusClass,
		Immutable:   isImmutable(cfg, options, out.ContentType),
		Tags:        tags,
		ContentType: out.ContentType,
	}, cfg.Cache.HTTPCache)

	// Step 6: debug headers. The debug middleware's context stamp wins
	// when present (it also honors allowedEnvironments); the raw config
	// flag covers callers that bypass the middleware chain.
	debugRequested := r.URL.Query().Get("debug")
	debugAllowed := cfg.Core.Debug.Enabled
	if v, ok := middleware.DebugEnabled(ctx); ok {
		debugAllowed = v
	}
	debugEnabled := debugAllowed && debugRequested != "" && debugRequested != "false"
	if debugEnabled {
		attachDebugHeaders(header, cfg, result, out, options, breadcrumbs)
	}

	// Steps 7-8: write through to the variant cache and the edge HTTP
	// cache. Both writes run as background work when a scheduler is
	// wired, and inline otherwise; Cache.Put in turn schedules its own
	// index updates.
	edgeHeader := header.Clone()
	writeCaches := func(ctx context.Context) {
		if e.variantCache != nil && cfg.Cache.Variant.Enabled && !bypassed {
			meta := variantcache.Metadata{
				ContentType:  out.ContentType,
				Tags:         tags,
				TTL:          ttlSeconds,
				OriginalSize: result.Size,
			}
			if err := e.variantCache.Put(ctx, cleanedPath, out.Body, options, meta); err != nil && e.logger != nil {
				e.logger.Warn("variant cache write failed", "request_id", requestID, "error", err)
			}
		}
		if e.httpOrch != nil {
			w2 := headerOnlyWriter{header: edgeHeader}
			e.httpOrch.CacheWithFallback(ctx, w2, httpcache.HeaderInput{TTL: ttlSeconds}, cacheKey, out.Body, status, bypassed)
		}
	}
	if e.scheduler != nil {
		e.scheduler.Spawn(ctx, writeCaches)
	} else {
		writeCaches(ctx)
	}

	// Step 9: debug=html report instead of the image.
	if debugRequested == "html" {
		report := DebugReport{
			RequestID:   requestID,
			Path:        cleanedPath,
			StorageType: string(result.SourceType),
			Breadcrumbs: breadcrumbs,
		}
		body, contentType := e.reporter.Render(report)
		header.Set("Content-Type", contentType)
		return &Response{Body: body, ContentType: contentType, Status: status, Header: header}, nil
	}

	return &Response{Body: out.Body, ContentType: out.ContentType, Status: status, Header: header}, nil
}

// rebuildEntry re-runs fetch, transform, and header application to
// produce a fresh edge-cache entry during stale-while-revalidate.
func (e *Executor) rebuildEntry(ctx context.Context, cleanedPath string, options paramresolve.TransformOptions, cfg *config.Config) (httpcache.Entry, error) {
	result, err := e.storageSvc.Fetch(ctx, cleanedPath)
	if err != nil {
		return httpcache.Entry{}, err
	}
	if result.Body != nil {
		defer result.Body.Close()
	}

	out, err := e.transformSvc.Transform(ctx, result, options)
	if err != nil {
		return httpcache.Entry{}, err
	}

	ttlSeconds := e.ttlCalc.Calculate(ttl.Input{
		Path:        cleanedPath,
		Status:      http.StatusOK,
		ContentType: out.ContentType,
		Derivative:  options.Derivative,
	})

	header := http.Header{}
	header.Set("Content-Type", out.ContentType)
	httpcache.ApplyHeaders(headerOnlyWriter{header: header}, httpcache.HeaderInput{
		TTL:         ttlSeconds,
		StatusClass: ttl.ClassifyStatus(http.StatusOK),
		Immutable:   isImmutable(cfg, options, out.ContentType),
		ContentType: out.ContentType,
	}, cfg.Cache.HTTPCache)

	now := time.Now()
	return httpcache.Entry{
		Body:      out.Body,
		Header:    header,
		Status:    http.StatusOK,
		StoredAt:  now,
		ExpiresAt: now.Add(time.Duration(ttlSeconds) * time.Second),
	}, nil
}

func responseFromEntry(entry httpcache.Entry) *Response {
	return &Response{
		Body:        entry.Body,
		ContentType: entry.Header.Get("Content-Type"),
		Status:      entry.Status,
		Header:      entry.Header.Clone(),
	}
}

func isImmutable(cfg *config.Config, options paramresolve.TransformOptions, contentType string) bool {
	ic := cfg.Cache.TTL.ImmutableContent
	for _, p := range ic.Paths {
		if options.Path == p {
			return true
		}
	}
	for _, ct := range ic.ContentTypes {
		if ct == contentType {
			return true
		}
	}
	for _, d := range ic.Derivatives {
		if d == options.Derivative {
			return true
		}
	}
	return false
}

func attachDebugHeaders(h http.Header, cfg *config.Config, result storage.Result, out transform.Output, options paramresolve.TransformOptions, breadcrumbs []Breadcrumb) {
	h.Set("X-Debug-Enabled", "true")
	h.Set("X-Image-Resizer-Version", cfg.Core.Version)
	h.Set("X-Environment", cfg.Core.Environment)
	h.Set("X-Storage-Type", string(result.SourceType))
	h.Set("X-Original-Content-Type", result.ContentType)
	h.Set("X-Original-Size", strconv.FormatInt(result.Size, 10))
	h.Set("X-Processing-Mode", "transform")
	h.Set("X-Image-Width", strconv.Itoa(out.Width))
	h.Set("X-Image-Height", strconv.Itoa(out.Height))
	if options.Format != "" {
		h.Set("X-Image-Format", options.Format)
	}
	if options.Quality > 0 {
		h.Set("X-Image-Quality", strconv.Itoa(int(options.Quality)))
	}
	if options.Fit != "" {
		h.Set("X-Image-Fit", options.Fit)
	}
	for _, bc := range breadcrumbs {
		switch bc.Phase {
		case "storage":
			h.Set("X-Storage-Time", bc.Duration.String())
		case "transform":
			h.Set("X-Transform-Time", bc.Duration.String())
		}
	}
	var total time.Duration
	for _, bc := range breadcrumbs {
		total += bc.Duration
	}
	h.Set("X-Total-Time", total.String())
}

// headerOnlyWriter adapts a plain http.Header into the minimal
// http.ResponseWriter surface httpcache.ApplyHeaders/CacheWithFallback
// need, so the command can compute headers before the real
// ResponseWriter is written to.
type headerOnlyWriter struct {
	header http.Header
}

func (w headerOnlyWriter) Header() http.Header { return w.header }
func (w headerOnlyWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w headerOnlyWriter) WriteHeader(statusCode int) {}
