package trade

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/saltgames/tabletop/go/internal/models"
	"github.com/saltgames/tabletop/go/internal/session/bus"
)

// TradesRepository defines what the app layer needs from the repository.
type TradesRepository interface {
	InsertTrade(ctx context.Context, offer models.TradeOffer) error
	GetTrade(ctx context.Context, id uuid.UUID) (*models.TradeOffer, error)
	ListTrades(ctx context.Context) ([]models.TradeOffer, error)
	CountPending(ctx context.Context) (int, error)
	ResolveTrade(ctx context.Context, id uuid.UUID, decision models.TradeStatus, resolvedAt time.Time, commit func(models.TradeOffer) error) (*models.TradeOffer, error)
}

// TransferFunc applies the ledger movement for an accepted trade. It is
// supplied by the ledger collaborator, which owns the resource arithmetic
// and its per-participant atomicity.
type TransferFunc func(ctx context.Context, proposerID, offer, want string) error

// App owns the trade offer collection and enforces the state machine.
// Committed changes are published on the session bus so every connected
// client hears about them.
type App struct {
	repo     TradesRepository
	transfer TransferFunc
	events   *bus.Bus
	now      func() time.Time
}

// NewApp creates a new trade App. events may be nil when no broadcast is
// wanted.
func NewApp(repo TradesRepository, transfer TransferFunc, events *bus.Bus) *App {
	return &App{
		repo:     repo,
		transfer: transfer,
		events:   events,
		now:      time.Now,
	}
}

// CreateTrade validates and stores a new pending trade offer.
func (a *App) CreateTrade(ctx context.Context, req CreateTradeRequest) (*models.TradeOffer, error) {
	if strings.TrimSpace(req.Offer) == "" || strings.TrimSpace(req.Want) == "" {
		return nil, ErrInvalidArgument
	}

	offer := models.TradeOffer{
		ID:         uuid.New(),
		ProposerID: req.ProposerID,
		Offer:      req.Offer,
		Want:       req.Want,
		Status:     models.TradeStatusPending,
		CreatedAt:  a.now(),
	}
	if err := a.repo.InsertTrade(ctx, offer); err != nil {
		return nil, err
	}

	log.Info().
		Str("trade_id", offer.ID.String()).
		Str("participant_id", offer.ProposerID).
		Msg("trade offer created")

	if a.events != nil {
		a.events.Publish(bus.TradeChanged(offer, a.now()))
	}
	return &offer, nil
}

// ListTrades returns a consistent snapshot of all offers, newest-first.
func (a *App) ListTrades(ctx context.Context) ([]models.TradeOffer, error) {
	return a.repo.ListTrades(ctx)
}

// CountPending returns the number of offers still awaiting resolution.
func (a *App) CountPending(ctx context.Context) (int, error) {
	return a.repo.CountPending(ctx)
}

// ResolveTrade applies an arbiter decision to a pending trade. On accept the
// ledger transfer runs before the status commit; if the transfer fails the
// trade stays pending and ErrTransferFailed is returned. Racing resolutions
// on the same id are mutually exclusive: one wins, the other observes
// ErrAlreadyResolved.
func (a *App) ResolveTrade(ctx context.Context, id uuid.UUID, decision Decision) (*models.TradeOffer, error) {
	if !ValidDecision(decision) {
		return nil, ErrInvalidArgument
	}

	var commit func(models.TradeOffer) error
	if decision == models.TradeStatusAccepted {
		commit = func(offer models.TradeOffer) error {
			if a.transfer == nil {
				return nil
			}
			if err := a.transfer(ctx, offer.ProposerID, offer.Offer, offer.Want); err != nil {
				log.Warn().
					Err(err).
					Str("trade_id", offer.ID.String()).
					Msg("ledger rejected transfer, trade stays pending")
				return errors.Join(ErrTransferFailed, err)
			}
			return nil
		}
	}

	resolved, err := a.repo.ResolveTrade(ctx, id, decision, a.now(), commit)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("trade_id", resolved.ID.String()).
		Str("status", string(resolved.Status)).
		Msg("trade offer resolved")

	if a.events != nil {
		a.events.Publish(bus.TradeChanged(*resolved, a.now()))
	}
	return resolved, nil
}
