// Package cachetags deterministically generates the Cache-Tag list for
// a response from the request, the fetched storage result, and the
// resolved transform options.
package cachetags

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/storage"
)

var sizeBuckets = []struct {
	name string
	max  int64
}{
	{"tiny", 10 * 1024},
	{"small", 50 * 1024},
	{"medium", 250 * 1024},
	{"large", 1024 * 1024},
	{"xlarge", 5 * 1024 * 1024},
}

var widthBuckets = []struct {
	name string
	max  int
}{
	{"tiny", 160},
	{"small", 480},
	{"medium", 960},
	{"large", 1920},
	{"xlarge", 3840},
}

// GenerateSafe validates its inputs before delegating to Generate,
// raising a tag-generation error when the configuration
// or path is unusable rather than silently emitting a malformed tag.
func GenerateSafe(r *http.Request, normalizedPath string, result storage.Result, options paramresolve.TransformOptions, cfg config.CacheTagsConfig) ([]string, error) {
	if cfg.Prefix == "" {
		return nil, apperr.CacheTagGeneration(errors.New("cache tag prefix is required"))
	}
	if normalizedPath == "" {
		return nil, apperr.CacheTagGeneration(errors.New("normalized path is required"))
	}
	return Generate(r, normalizedPath, result, options, cfg), nil
}

// Generate produces the full tag list for one response, each prefixed
// with cfg.Prefix. r may be nil if no request is available (background
// regeneration); normalizedPath still drives the path tags, and the
// tenant tag then comes only from options.Tenant, since query
// parameters are read from r.
func Generate(r *http.Request, normalizedPath string, result storage.Result, options paramresolve.TransformOptions, cfg config.CacheTagsConfig) []string {
	var tags []string
	add := func(tag string) {
		tags = append(tags, cfg.Prefix+"-"+tag)
	}

	trimmed := strings.Trim(normalizedPath, "/")
	segments := []string{}
	if trimmed != "" {
		segments = strings.Split(trimmed, "/")
	}

	if cfg.PathSegments {
		for i, seg := range segments {
			add(fmt.Sprintf("segment-%d-%s", i, seg))
		}
	}

	if cfg.Directory && len(segments) > 1 {
		add("dir-" + strings.Join(segments[:len(segments)-1], "/"))
	}

	if cfg.FullPath {
		add("path-" + normalizedPath)
	}

	if cfg.ContentType && result.ContentType != "" {
		add("type-" + primaryType(result.ContentType))
		add("content-" + strings.ReplaceAll(result.ContentType, "/", "-"))
	}

	if cfg.Origin && result.SourceType != "" {
		add("origin-" + string(result.SourceType))
	}

	if cfg.Host && r != nil {
		add("host-" + r.Host)
	}

	if cfg.SizeBucket && result.Size > 0 {
		add("size-" + sizeBucket(result.Size))
	}

	if cfg.WidthBucket {
		if w, ok := widthOf(options.Width); ok {
			add("width-" + widthBucket(w))
		}
	}

	if cfg.Dimensions {
		if options.Format != "" {
			add("format-" + options.Format)
		}
		if w, ok := widthOf(options.Width); ok {
			add(fmt.Sprintf("width-%d", w))
		}
		if h, ok := widthOf(options.Height); ok {
			add(fmt.Sprintf("height-%d", h))
		}
		if options.Quality > 0 {
			add(fmt.Sprintf("quality-%d", int(options.Quality)))
		}
	}

	if cfg.Derivative && options.Derivative != "" {
		add("derivative-" + options.Derivative)
	}

	if options.Smart {
		add("feature-smart")
	}
	if len(options.Draw) > 0 {
		add("watermark-true")
	}

	var query url.Values
	if r != nil {
		query = r.URL.Query()
	}

	if query != nil {
		if custom := query.Get("cache-tags"); custom != "" {
			for _, t := range strings.Split(custom, ",") {
				t = strings.TrimSpace(t)
				if t != "" {
					add(t)
				}
			}
		}
	}

	tenant := options.Tenant
	if tenant == "" && query != nil {
		tenant = query.Get("tenant")
	}
	if tenant != "" {
		add("tenant-" + tenant)
	}

	for _, rule := range cfg.Conditional {
		if conditionalMatches(rule, r, normalizedPath, result, options, query) {
			add(rule.Tag)
		}
	}

	return tags
}

func conditionalMatches(rule config.ConditionalTagRule, r *http.Request, normalizedPath string, result storage.Result, options paramresolve.TransformOptions, query url.Values) bool {
	if rule.PathPrefix != "" && !strings.HasPrefix(normalizedPath, rule.PathPrefix) {
		return false
	}
	if rule.Format != "" && rule.Format != options.Format {
		return false
	}
	if rule.ContentType != "" && rule.ContentType != result.ContentType {
		return false
	}
	if rule.Host != "" && (r == nil || r.Host != rule.Host) {
		return false
	}
	if rule.QueryParam != "" {
		if query == nil || !query.Has(rule.QueryParam) {
			return false
		}
	}
	return true
}

func primaryType(contentType string) string {
	if i := strings.Index(contentType, "/"); i >= 0 {
		return contentType[:i]
	}
	return contentType
}

func sizeBucket(size int64) string {
	for _, b := range sizeBuckets {
		if size <= b.max {
			return b.name
		}
	}
	return "huge"
}

func widthBucket(width int) string {
	for _, b := range widthBuckets {
		if width <= b.max {
			return b.name
		}
	}
	return "huge"
}

func widthOf(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
