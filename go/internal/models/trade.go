package models

import (
	"time"

	"github.com/google/uuid"
)

// TradeStatus defines the lifecycle state of a trade offer.
type TradeStatus string

const (
	TradeStatusPending  TradeStatus = "pending"
	TradeStatusAccepted TradeStatus = "accepted"
	TradeStatusDeclined TradeStatus = "declined"
)

// Terminal reports whether the status permits no further transitions.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusAccepted || s == TradeStatusDeclined
}

// TradeOffer represents a proposed resource exchange awaiting arbiter
// resolution. ID, ProposerID, Offer, Want and CreatedAt are immutable once
// the offer exists; Status moves pending -> accepted|declined exactly once.
type TradeOffer struct {
	ID         uuid.UUID   `json:"id"`
	ProposerID string      `json:"proposer_id"`
	Offer      string      `json:"offer"`
	Want       string      `json:"want"`
	Status     TradeStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}
