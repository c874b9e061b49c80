package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/erfianugrah/image-resizer/internal/config"
)

// AuthMiddleware protects the admin surface (purge, stats, config
// inspection) with a bearer token or X-API-Key header checked against
// the configured admin key. Image-transform routes are public and never
// pass through this middleware.
type AuthMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

func NewAuthMiddleware(cfg *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{
		config: cfg,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			am.logger.Error("admin authentication failed", "error", err, "remote_addr", r.RemoteAddr)
			http.Error(w, "admin API key not authorized", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) error {
	cfg := am.config.Get()

	if cfg.AdminKey == "" {
		return nil
	}

	var token string

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		token = apiKey
	}

	if token == "" {
		return errors.New("no authentication token provided")
	}

	if token != cfg.AdminKey {
		return errors.New("invalid admin key")
	}

	return nil
}
