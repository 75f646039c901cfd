package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/saltgames/tabletop/go/internal/authz"
)

// WebSocketHandler handles WebSocket upgrade requests for the session.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	gate              authz.Gate
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, gate authz.Gate) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		gate:              gate,
	}
}

// HandleSessionConnection authenticates the request and upgrades it to a
// WebSocket connection.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	identity, err := h.gate.Identify(r.Context(), requestCredentials(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, identity); err != nil {
		log.Error().
			Err(err).
			Str("participant_id", identity.ParticipantID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	count := h.connectionManager.ConnectionCount()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"total_connections":` + strconv.Itoa(count) + `}`))
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSessionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

// requestCredentials extracts the session token from the Authorization
// header or, for browser WebSocket clients that cannot set headers, the
// token query parameter.
func requestCredentials(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
