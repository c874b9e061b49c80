package httpcache

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/ttl"
)

// HeaderInput carries everything ApplyHeaders needs to annotate a
// response, independent of whether the response is actually written
// to the edge cache.
type HeaderInput struct {
	TTL         int
	StatusClass ttl.StatusClass
	Immutable   bool
	Tags        []string
	ContentType string
}

// ApplyHeaders sets Cache-Control, Vary, and Cache-Tag on w
// regardless of whether the request will end up bypassed; a
// bypassed request still carries these headers for any downstream
// cache that reads them.
func ApplyHeaders(w http.ResponseWriter, in HeaderInput, cfg config.HTTPCacheConfig) {
	w.Header().Set("Cache-Control", cacheControlValue(in, cfg))
	w.Header().Set("Vary", varyValue(cfg))

	if len(in.Tags) > 0 {
		w.Header().Set("Cache-Tag", strings.Join(in.Tags, ","))
	}

	if cfg.LinkHeader {
		w.Header().Set("Link", "</favicon.ico>; rel=preconnect")
	}
}

func cacheControlValue(in HeaderInput, cfg config.HTTPCacheConfig) string {
	if in.TTL <= 0 {
		return "no-store"
	}

	directives := []string{
		fmt.Sprintf("max-age=%d", in.TTL),
		fmt.Sprintf("s-maxage=%d", in.TTL),
	}

	if in.StatusClass == ttl.StatusOK {
		if cfg.StaleWhileRevalidateSeconds > 0 {
			directives = append(directives, fmt.Sprintf("stale-while-revalidate=%d", cfg.StaleWhileRevalidateSeconds))
		}
		if in.Immutable {
			directives = append(directives, "immutable")
		}
	}

	return strings.Join(directives, ", ")
}

func varyValue(cfg config.HTTPCacheConfig) string {
	parts := []string{"Accept"}
	parts = append(parts, cfg.VaryClientHints...)
	return strings.Join(parts, ", ")
}
