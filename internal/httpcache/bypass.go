package httpcache

import (
	"net/http"
	"strings"

	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
)

// ShouldBypass reports whether request/response caching must be
// skipped entirely. A bypassed request still gets
// computed cache headers for downstream consumers; it only skips the
// variant-cache read/write and the edge-cache write.
func ShouldBypass(r *http.Request, options paramresolve.TransformOptions, cfg config.BypassConfig, environment string) bool {
	if cc := r.Header.Get("Cache-Control"); cc != "" {
		lower := strings.ToLower(cc)
		if strings.Contains(lower, "no-cache") || strings.Contains(lower, "no-store") {
			return true
		}
	}

	query := r.URL.Query()
	for _, p := range cfg.Params {
		if query.Has(p) {
			return true
		}
	}

	for _, prefix := range cfg.Paths {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}

	if cfg.BypassInDevelopment && environment == "development" {
		return true
	}

	if cfg.BypassForAdmin {
		for _, indicator := range cfg.AdminIndicators {
			if r.Header.Get(indicator) != "" {
				return true
			}
		}
	}

	for _, f := range cfg.Formats {
		if options.Format == f {
			return true
		}
	}

	switch query.Get("debug") {
	case "true", "html":
		return true
	}

	return false
}
