package middleware

import (
	"log/slog"
	"net/http"

	"github.com/erfianugrah/image-resizer/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	Debug   Middleware
	Logging Middleware
	Auth    Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(cfg *config.Manager, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		Debug:   NewDebugMiddleware(cfg),
		Logging: NewLoggingMiddleware(logger),
		Auth:    NewAuthMiddleware(cfg, logger),
	}
}

// DefaultChain is the chain applied to public image-transform routes: no
// auth (these are the edge-facing requests), debug-header gating, then
// request logging.
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(
		ms.Debug,
		ms.Logging,
	)
}

// AdminChain is the chain applied to purge/stats/config routes: auth
// gated, logged.
func (ms MiddlewareSet) AdminChain() Chain {
	return New(
		ms.Logging,
		ms.Auth,
	)
}

// HealthChain returns the middleware chain for health endpoints (no auth)
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.Logging,
	)
}
