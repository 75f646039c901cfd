package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/saltgames/tabletop/go/internal/authz"
	"github.com/saltgames/tabletop/go/internal/ledger"
	"github.com/saltgames/tabletop/go/internal/models"
	"github.com/saltgames/tabletop/go/internal/session/clock"
	"github.com/saltgames/tabletop/go/internal/trade"
)

// Message is the envelope for every push sent to a client.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MessageType identifies the kind of push message.
type MessageType string

const (
	MessageTurnUpdate    MessageType = "turn_update"
	MessageTradeSnapshot MessageType = "trade_snapshot"
	MessagePendingCount  MessageType = "pending_count"
	MessageRoster        MessageType = "roster"
	MessageError         MessageType = "error"
)

// TurnUpdatePayload carries the current turn clock position.
type TurnUpdatePayload struct {
	TurnIndex        int `json:"turn_index"`
	SecondsRemaining int `json:"seconds_remaining"`
}

// TradeSnapshotPayload carries the full trade list, newest-first.
type TradeSnapshotPayload struct {
	Trades []models.TradeOffer `json:"trades"`
}

// PendingCountPayload carries the arbiter badge count.
type PendingCountPayload struct {
	Pending int `json:"pending"`
}

// RosterEntry is one participant's stored balances.
type RosterEntry struct {
	ParticipantID string        `json:"participant_id"`
	Resources     ledger.Bundle `json:"resources"`
}

// RosterPayload carries the participant roster with balances.
type RosterPayload struct {
	Participants []RosterEntry `json:"participants"`
}

// ErrorPayload reports a rejected command back to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage builds a push message with the payload marshaled into Data.
func NewMessage(t MessageType, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Message{Type: t, Timestamp: time.Now(), Data: data}, nil
}

// CommandType identifies an inbound client command.
type CommandType string

const (
	CommandCreateTrade  CommandType = "create_trade"
	CommandResolveTrade CommandType = "resolve_trade"
)

// Command is the envelope for inbound client messages.
type Command struct {
	Type CommandType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CreateTradePayload is the create_trade command body.
type CreateTradePayload struct {
	Offer string `json:"offer"`
	Want  string `json:"want"`
}

// ResolveTradePayload is the resolve_trade command body.
type ResolveTradePayload struct {
	TradeID  string `json:"trade_id"`
	Decision string `json:"decision"`
}

func unmarshalPayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty command payload")
	}
	return json.Unmarshal(data, v)
}

// errorCode maps a command failure onto its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, trade.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, trade.ErrNotFound):
		return "not_found"
	case errors.Is(err, trade.ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, trade.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, authz.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, clock.ErrAlreadyRunning):
		return "already_running"
	default:
		return "internal"
	}
}
