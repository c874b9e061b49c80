package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/variantcache"
)

// AdminHandler exposes purge, stats, and configuration-inspection
// routes. It is mounted behind the auth-gated admin middleware chain,
// so it does no authentication of its own.
type AdminHandler struct {
	cache  *variantcache.Cache
	cfgMgr *config.Manager
	logger *slog.Logger
}

func NewAdminHandler(cache *variantcache.Cache, cfgMgr *config.Manager, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{cache: cache, cfgMgr: cfgMgr, logger: logger}
}

// PurgeByTag handles POST /admin/purge/tag?tag=<tag>.
func (h *AdminHandler) PurgeByTag(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeJSONError(w, http.StatusBadRequest, "tag is required")
		return
	}

	count, err := h.cache.PurgeByTag(r.Context(), tag)
	if err != nil {
		h.logError("purge by tag failed", err, "tag", tag)
		writeJSONError(w, http.StatusInternalServerError, "purge failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tag": tag, "purged": count})
}

// PurgeByPath handles POST /admin/purge/path?pattern=<glob>.
func (h *AdminHandler) PurgeByPath(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSONError(w, http.StatusBadRequest, "pattern is required")
		return
	}

	count, err := h.cache.PurgeByPath(r.Context(), pattern)
	if err != nil {
		h.logError("purge by path failed", err, "pattern", pattern)
		writeJSONError(w, http.StatusInternalServerError, "purge failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "purged": count})
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.GetStats())
}

// Entries handles GET /admin/entries?limit=<n>&cursor=<key>.
func (h *AdminHandler) Entries(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	cursor := r.URL.Query().Get("cursor")

	entries, next, complete := h.cache.ListEntries(limit, cursor)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"cursor":   next,
		"complete": complete,
	})
}

// Config handles GET /admin/config, returning the active configuration
// document with secrets redacted.
func (h *AdminHandler) Config(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfgMgr.Get()
	redacted := *cfg
	redacted.AdminKey = ""
	redacted.Storage.R2.AccessKeyID = ""
	redacted.Storage.R2.SecretAccessKey = ""
	writeJSON(w, http.StatusOK, redacted)
}

func (h *AdminHandler) logError(msg string, err error, args ...any) {
	if h.logger == nil {
		return
	}
	h.logger.Error(msg, append([]any{"error", err}, args...)...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
