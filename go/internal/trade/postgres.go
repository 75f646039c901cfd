package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saltgames/tabletop/go/internal/models"
	"github.com/saltgames/tabletop/go/internal/sqlutil"
)

// PostgresRepository stores trade offers in Postgres. Status transitions use
// SELECT ... FOR UPDATE so that two racing resolutions on the same id are
// serialized by the database and exactly one observes a pending status.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a trade repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the trade_offers table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS trade_offers (
			id          UUID PRIMARY KEY,
			proposer_id TEXT NOT NULL,
			offer       TEXT NOT NULL,
			want        TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			created_at  TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("failed to create trade_offers table: %w", err)
	}
	return nil
}

// InsertTrade stores a new trade offer.
func (r *PostgresRepository) InsertTrade(ctx context.Context, offer models.TradeOffer) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trade_offers (id, proposer_id, offer, want, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		offer.ID, offer.ProposerID, offer.Offer, offer.Want, offer.Status, offer.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// GetTrade returns the trade offer with the given id.
func (r *PostgresRepository) GetTrade(ctx context.Context, id uuid.UUID) (*models.TradeOffer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, proposer_id, offer, want, status, created_at, resolved_at
		FROM trade_offers WHERE id = $1`, id)
	return scanTrade(row)
}

// ListTrades returns all trade offers ordered newest-first.
func (r *PostgresRepository) ListTrades(ctx context.Context) ([]models.TradeOffer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, proposer_id, offer, want, status, created_at, resolved_at
		FROM trade_offers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var offers []models.TradeOffer
	for rows.Next() {
		offer, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *offer)
	}
	return offers, rows.Err()
}

// CountPending returns the number of trades still awaiting resolution.
func (r *PostgresRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trade_offers WHERE status = $1`,
		models.TradeStatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending trades: %w", err)
	}
	return n, nil
}

// ResolveTrade transitions a pending trade to the given terminal status.
// The row is locked for the whole check-transfer-commit sequence; if commit
// returns an error the transaction rolls back and the trade stays pending.
func (r *PostgresRepository) ResolveTrade(ctx context.Context, id uuid.UUID, decision models.TradeStatus, resolvedAt time.Time, commit func(models.TradeOffer) error) (*models.TradeOffer, error) {
	var resolved *models.TradeOffer

	err := sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, proposer_id, offer, want, status, created_at, resolved_at
			FROM trade_offers WHERE id = $1 FOR UPDATE`, id)
		offer, err := scanTrade(row)
		if err != nil {
			return err
		}
		if offer.Status.Terminal() {
			return ErrAlreadyResolved
		}
		if commit != nil {
			if err := commit(*offer); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE trade_offers SET status = $2, resolved_at = $3 WHERE id = $1`,
			id, decision, resolvedAt); err != nil {
			return fmt.Errorf("failed to update trade status: %w", err)
		}

		offer.Status = decision
		offer.ResolvedAt = &resolvedAt
		resolved = offer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func scanTrade(row pgx.Row) (*models.TradeOffer, error) {
	var offer models.TradeOffer
	err := row.Scan(&offer.ID, &offer.ProposerID, &offer.Offer, &offer.Want,
		&offer.Status, &offer.CreatedAt, &offer.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}
	return &offer, nil
}
