package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the service can reach its database and the
// scene state store.
type HealthHandler struct {
	db     *sql.DB
	states Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler. states may be nil.
func NewHealthHandler(db *sql.DB, states Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, states: states, logger: logger}
}

// RegisterRoutes registers GET /health.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Check)
}

// Check pings the database and the scene state store with a short timeout.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok", "database": "ok"}

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("health check failed", "dependency", "database", "error", err)
		status = http.StatusServiceUnavailable
		body["database"] = "unreachable"
	}
	if h.states != nil {
		body["scene_state"] = "ok"
		if err := h.states.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", "dependency", "scene_state", "error", err)
			status = http.StatusServiceUnavailable
			body["scene_state"] = "unreachable"
		}
	}

	if status != http.StatusOK {
		body["status"] = "unavailable"
	}
	writeJSON(w, status, body)
}
