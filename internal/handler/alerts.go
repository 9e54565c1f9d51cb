package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/DukeRupert/sitewatch/internal/alert"
)

// AlertsHandler upgrades dashboard connections and attaches them to the
// alert hub.
type AlertsHandler struct {
	hub      *alert.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewAlertsHandler creates a new AlertsHandler. With no allowed origins only
// same-origin browsers (and non-browser clients) may connect.
func NewAlertsHandler(hub *alert.Hub, allowedOrigins []string, logger *slog.Logger) *AlertsHandler {
	h := &AlertsHandler{hub: hub, logger: logger}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]bool, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
	return h
}

// RegisterRoutes registers GET /ws/alerts.
func (h *AlertsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/alerts", h.Stream)
}

// Stream serves one viewer until it disconnects.
func (h *AlertsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Info("websocket upgrade failed", "error", err)
		return
	}
	h.hub.Serve(conn)
}
