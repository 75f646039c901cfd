package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/saltgames/tabletop/go/internal/authz"
	"github.com/saltgames/tabletop/go/internal/models"
)

// StateHandler serves the full session state over plain HTTP, for clients
// that want a snapshot before (or instead of) upgrading to the push channel.
type StateHandler struct {
	service *Service
	gate    authz.Gate
}

// StateResponse is the full resync document.
type StateResponse struct {
	Turn    models.TurnClockState `json:"turn"`
	Trades  []models.TradeOffer   `json:"trades"`
	Roster  []RosterEntry         `json:"roster"`
	Pending *int                  `json:"pending,omitempty"` // arbiters only
}

// NewStateHandler creates a new state handler.
func NewStateHandler(service *Service, gate authz.Gate) *StateHandler {
	return &StateHandler{service: service, gate: gate}
}

// HandleState returns the current session state as JSON.
func (h *StateHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	identity, err := h.gate.Identify(r.Context(), requestCredentials(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	resp := StateResponse{Turn: h.service.clock.Snapshot()}

	resp.Trades, err = h.service.trades.ListTrades(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list trades for state request")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if roster, err := h.service.buildRoster(r.Context()); err == nil {
		resp.Roster = roster.Participants
	}

	if identity.Arbiter {
		pending, err := h.service.trades.CountPending(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("failed to count pending trades for state request")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		resp.Pending = &pending
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode state response")
	}
}

// RegisterRoutes registers the state route with an HTTP mux.
func (h *StateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/state", h.HandleState)
}
