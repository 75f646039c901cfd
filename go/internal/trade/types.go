package trade

import "github.com/saltgames/tabletop/go/internal/models"

// CreateTradeRequest represents a request to create a new trade offer.
type CreateTradeRequest struct {
	ProposerID string `json:"proposer_id"`
	Offer      string `json:"offer"`
	Want       string `json:"want"`
}

// Decision is an arbiter's verdict on a pending trade.
type Decision = models.TradeStatus

// ValidDecision reports whether d is one of the two terminal statuses an
// arbiter may apply.
func ValidDecision(d Decision) bool {
	return d == models.TradeStatusAccepted || d == models.TradeStatusDeclined
}
