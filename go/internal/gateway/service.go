package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/saltgames/tabletop/go/internal/authz"
	"github.com/saltgames/tabletop/go/internal/ledger"
	"github.com/saltgames/tabletop/go/internal/models"
	"github.com/saltgames/tabletop/go/internal/session/bus"
	"github.com/saltgames/tabletop/go/internal/trade"
)

// TradeApp defines what the gateway needs from the trade registry.
type TradeApp interface {
	CreateTrade(ctx context.Context, req trade.CreateTradeRequest) (*models.TradeOffer, error)
	ListTrades(ctx context.Context) ([]models.TradeOffer, error)
	CountPending(ctx context.Context) (int, error)
	ResolveTrade(ctx context.Context, id uuid.UUID, decision trade.Decision) (*models.TradeOffer, error)
}

// ClockReader supplies the current turn clock position for resyncs.
type ClockReader interface {
	Snapshot() models.TurnClockState
}

// RosterProvider supplies participant balances for the resync roster.
type RosterProvider interface {
	Participants(ctx context.Context) ([]string, error)
	Balances(ctx context.Context, participantID string) (ledger.Bundle, error)
}

// Service is the session broadcaster: it multiplexes turn clock ticks and
// trade changes to every connected client and feeds inbound commands to the
// trade registry.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler

	trades TradeApp
	clock  ClockReader
	roster RosterProvider

	eventsCh     <-chan bus.Event
	eventsCancel func()
}

// Config holds configuration for the session gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the session gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new session gateway service.
func NewService(config Config, trades TradeApp, clk ClockReader, roster RosterProvider, events *bus.Bus, gate authz.Gate) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig)

	s := &Service{
		connectionManager: connectionManager,
		trades:            trades,
		clock:             clk,
		roster:            roster,
	}
	// Subscribe at construction so no committed event can slip past before
	// the broadcast loop starts.
	s.eventsCh, s.eventsCancel = events.Subscribe()
	connectionManager.resync = s.resyncConnection
	connectionManager.onCommand = s.handleCommand

	s.wsHandler = NewWebSocketHandler(connectionManager, gate)
	s.stateHandler = NewStateHandler(s, gate)
	return s
}

// Start runs the broadcast loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting session gateway service")

	go s.connectionManager.Start(ctx)
	s.consumeEvents(ctx)

	log.Info().Msg("session gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterRoutes(mux)
	log.Info().Msg("session gateway routes registered")
}

// ConnectionCount returns the number of active connections.
func (s *Service) ConnectionCount() int {
	return s.connectionManager.ConnectionCount()
}

// consumeEvents turns committed session events into push messages. A single
// consumer goroutine keeps ticks and trade changes in commit order for every
// connection.
func (s *Service) consumeEvents(ctx context.Context) {
	defer s.eventsCancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.eventsCh:
			if !ok {
				return
			}
			switch ev.Type {
			case bus.EventTurnTick:
				s.pushTurnUpdate(*ev.Turn)
			case bus.EventTradeChanged:
				s.pushTradeSnapshot(ctx)
			}
		}
	}
}

func (s *Service) pushTurnUpdate(state models.TurnClockState) {
	msg, err := NewMessage(MessageTurnUpdate, TurnUpdatePayload{
		TurnIndex:        state.TurnIndex,
		SecondsRemaining: state.SecondsRemaining,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build turn update")
		return
	}
	s.connectionManager.Broadcast(msg)
}

func (s *Service) pushTradeSnapshot(ctx context.Context) {
	trades, err := s.trades.ListTrades(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list trades for broadcast")
		return
	}
	msg, err := NewMessage(MessageTradeSnapshot, TradeSnapshotPayload{Trades: trades})
	if err != nil {
		log.Error().Err(err).Msg("failed to build trade snapshot")
		return
	}
	s.connectionManager.Broadcast(msg)

	pending, err := s.trades.CountPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to count pending trades")
		return
	}
	badge, err := NewMessage(MessagePendingCount, PendingCountPayload{Pending: pending})
	if err != nil {
		log.Error().Err(err).Msg("failed to build pending count")
		return
	}
	s.connectionManager.BroadcastToArbiters(badge)
}

// resyncConnection pushes the full current state to a fresh connection:
// one turn_update, one trade_snapshot, the roster, and for arbiters the
// pending count badge.
func (s *Service) resyncConnection(conn *Connection) {
	ctx := context.Background()

	state := s.clock.Snapshot()
	if msg, err := NewMessage(MessageTurnUpdate, TurnUpdatePayload{
		TurnIndex:        state.TurnIndex,
		SecondsRemaining: state.SecondsRemaining,
	}); err == nil {
		s.connectionManager.SendToConnection(conn, msg)
	}

	trades, err := s.trades.ListTrades(ctx)
	if err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to list trades for resync")
		return
	}
	if msg, err := NewMessage(MessageTradeSnapshot, TradeSnapshotPayload{Trades: trades}); err == nil {
		s.connectionManager.SendToConnection(conn, msg)
	}

	if roster, err := s.buildRoster(ctx); err == nil {
		if msg, err := NewMessage(MessageRoster, roster); err == nil {
			s.connectionManager.SendToConnection(conn, msg)
		}
	}

	if conn.Identity.Arbiter {
		pending, err := s.trades.CountPending(ctx)
		if err != nil {
			log.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to count pending trades for resync")
			return
		}
		if msg, err := NewMessage(MessagePendingCount, PendingCountPayload{Pending: pending}); err == nil {
			s.connectionManager.SendToConnection(conn, msg)
		}
	}
}

func (s *Service) buildRoster(ctx context.Context) (RosterPayload, error) {
	ids, err := s.roster.Participants(ctx)
	if err != nil {
		return RosterPayload{}, err
	}

	entries := make([]RosterEntry, 0, len(ids))
	for _, id := range ids {
		balances, err := s.roster.Balances(ctx, id)
		if err != nil {
			return RosterPayload{}, err
		}
		entries = append(entries, RosterEntry{ParticipantID: id, Resources: balances})
	}
	return RosterPayload{Participants: entries}, nil
}

// handleCommand executes an inbound client command. A rejected command never
// silently succeeds: the sender gets an error push with the specific reason
// and no state changes.
func (s *Service) handleCommand(conn *Connection, cmd Command) {
	ctx := context.Background()

	var err error
	switch cmd.Type {
	case CommandCreateTrade:
		err = s.handleCreateTrade(ctx, conn, cmd)
	case CommandResolveTrade:
		err = s.handleResolveTrade(ctx, conn, cmd)
	default:
		log.Debug().
			Str("connection_id", conn.ID).
			Str("command_type", string(cmd.Type)).
			Msg("discarding unknown command")
		return
	}

	if err != nil {
		log.Info().
			Err(err).
			Str("connection_id", conn.ID).
			Str("command_type", string(cmd.Type)).
			Msg("command rejected")
		if msg, merr := NewMessage(MessageError, ErrorPayload{
			Code:    errorCode(err),
			Message: err.Error(),
		}); merr == nil {
			s.connectionManager.SendToConnection(conn, msg)
		}
	}
}

func (s *Service) handleCreateTrade(ctx context.Context, conn *Connection, cmd Command) error {
	var payload CreateTradePayload
	if err := unmarshalPayload(cmd.Data, &payload); err != nil {
		return trade.ErrInvalidArgument
	}

	_, err := s.trades.CreateTrade(ctx, trade.CreateTradeRequest{
		ProposerID: conn.Identity.ParticipantID,
		Offer:      payload.Offer,
		Want:       payload.Want,
	})
	return err
}

func (s *Service) handleResolveTrade(ctx context.Context, conn *Connection, cmd Command) error {
	if !conn.Identity.Arbiter {
		return authz.ErrUnauthorized
	}

	var payload ResolveTradePayload
	if err := unmarshalPayload(cmd.Data, &payload); err != nil {
		return trade.ErrInvalidArgument
	}
	id, err := uuid.Parse(payload.TradeID)
	if err != nil {
		return trade.ErrNotFound
	}

	_, err = s.trades.ResolveTrade(ctx, id, trade.Decision(payload.Decision))
	return err
}
