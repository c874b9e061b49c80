package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/erfianugrah/image-resizer/internal/config"
)

type debugContextKey struct{}

// NewDebugMiddleware stamps the request context with whether debug mode
// is active, per core.debug.enabled and core.debug.allowedEnvironments,
// so downstream handlers can decide whether to attach diagnostic
// headers and the HTML debug report hook without re-reading config.
func NewDebugMiddleware(cfg *config.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := cfg.Get()
			enabled := c.Core.Debug.Enabled
			if enabled && len(c.Core.Debug.AllowedEnvironments) > 0 {
				enabled = slices.Contains(c.Core.Debug.AllowedEnvironments, c.Core.Environment)
			}

			ctx := context.WithValue(r.Context(), debugContextKey{}, enabled)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DebugEnabled reports whether debug mode was activated for this
// request, and whether the debug middleware stamped the context at all.
func DebugEnabled(ctx context.Context) (enabled, ok bool) {
	enabled, ok = ctx.Value(debugContextKey{}).(bool)
	return enabled, ok
}
