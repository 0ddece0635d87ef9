package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// HTTPHandler serves the probe endpoints.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes mounts /health (full report), /health/ready and
// /health/live.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.report)
	mux.HandleFunc("GET /health/ready", h.ready)
	mux.HandleFunc("GET /health/live", h.live)
}

func (h *HTTPHandler) report(w http.ResponseWriter, r *http.Request) {
	rep := h.manager.Run(r.Context())
	h.write(w, statusCode(rep.Ready), rep)
}

func (h *HTTPHandler) ready(w http.ResponseWriter, r *http.Request) {
	rep := h.manager.Run(r.Context())
	h.write(w, statusCode(rep.Ready), map[string]any{
		"ready":      rep.Ready,
		"status":     rep.Status,
		"checked_at": rep.CheckedAt,
	})
}

func (h *HTTPHandler) live(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, map[string]any{"live": true})
}

func statusCode(ready bool) int {
	if ready {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func (h *HTTPHandler) write(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to write health response", zap.Error(err))
	}
}
