package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/erfianugrah/image-resizer/internal/apperr"
	"github.com/erfianugrah/image-resizer/internal/command"
)

// ImageHandler serves image-transform requests by delegating the
// entire per-request pipeline to the Transform Command executor.
type ImageHandler struct {
	executor *command.Executor
	logger   *slog.Logger
}

func NewImageHandler(executor *command.Executor, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{executor: executor, logger: logger}
}

func (h *ImageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := h.executor.Execute(r.Context(), r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dst := w.Header()
	for k, values := range resp.Header {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	if resp.ContentType != "" {
		dst.Set("Content-Type", resp.ContentType)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := w.Write(resp.Body); err != nil && h.logger != nil {
		h.logger.Warn("image handler: write failed", "error", err, "path", r.URL.Path)
	}
}

func (h *ImageHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.StatusFor(err)

	var ae *apperr.Error
	code := "unknown"
	if errors.As(err, &ae) {
		code = string(ae.Code)
	}

	if h.logger != nil {
		h.logger.Error("image handler: request failed", "error", err, "path", r.URL.Path, "status", status, "code", code)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body := `{"error":"` + code + `"}`
	_, _ = w.Write([]byte(body))
}
