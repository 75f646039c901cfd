package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saltgames/tabletop/go/internal/sqlutil"
)

// PostgresStore keeps participant balances in Postgres. Each operation runs
// in a single transaction, so a trade either moves both legs or neither.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a ledger backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the participant_resources table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS participant_resources (
			participant_id TEXT NOT NULL,
			resource       TEXT NOT NULL,
			qty            INT NOT NULL DEFAULT 0 CHECK (qty >= 0),
			PRIMARY KEY (participant_id, resource)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create participant_resources table: %w", err)
	}
	return nil
}

// Transfer moves delta from one participant to another inside one
// transaction. Fails without side effects if the source lacks resources.
func (s *PostgresStore) Transfer(ctx context.Context, fromID, toID string, delta Bundle) error {
	return sqlutil.RunTx(ctx, s.pool, func(tx pgx.Tx) error {
		return transferTx(ctx, tx, fromID, toID, delta)
	})
}

// ExecuteTrade applies both legs of an accepted trade in one transaction.
func (s *PostgresStore) ExecuteTrade(ctx context.Context, proposerID, offer, want string) error {
	give, err := ParseBundle(offer)
	if err != nil {
		return err
	}
	get, err := ParseBundle(want)
	if err != nil {
		return err
	}

	return sqlutil.RunTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := transferTx(ctx, tx, proposerID, PoolID, give); err != nil {
			return err
		}
		return transferTx(ctx, tx, PoolID, proposerID, get)
	})
}

// Adjust applies delta to a participant's balance, clamping each resource at
// zero.
func (s *PostgresStore) Adjust(ctx context.Context, participantID string, delta Bundle) error {
	return sqlutil.RunTx(ctx, s.pool, func(tx pgx.Tx) error {
		for res, n := range delta {
			if _, err := tx.Exec(ctx, `
				INSERT INTO participant_resources (participant_id, resource, qty)
				VALUES ($1, $2, GREATEST(0, $3))
				ON CONFLICT (participant_id, resource)
				DO UPDATE SET qty = GREATEST(0, participant_resources.qty + $3)`,
				participantID, res, n); err != nil {
				return fmt.Errorf("failed to adjust %s: %w", res, err)
			}
		}
		return nil
	})
}

// Balances returns the participant's current balances.
func (s *PostgresStore) Balances(ctx context.Context, participantID string) (Bundle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT resource, qty FROM participant_resources WHERE participant_id = $1`,
		participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	b := make(Bundle)
	for rows.Next() {
		var res string
		var qty int
		if err := rows.Scan(&res, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		b[res] = qty
	}
	return b, rows.Err()
}

// Participants returns the ids of all participants with recorded balances.
func (s *PostgresStore) Participants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT participant_id FROM participant_resources
		WHERE participant_id <> $1 ORDER BY participant_id`, PoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func transferTx(ctx context.Context, tx pgx.Tx, fromID, toID string, delta Bundle) error {
	if fromID != PoolID {
		for res, n := range delta {
			tag, err := tx.Exec(ctx, `
				UPDATE participant_resources SET qty = qty - $3
				WHERE participant_id = $1 AND resource = $2 AND qty >= $3`,
				fromID, res, n)
			if err != nil {
				return fmt.Errorf("failed to debit %s: %w", res, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s needs %d %s", ErrInsufficientResources, fromID, n, res)
			}
		}
	}
	if toID != PoolID {
		for res, n := range delta {
			if _, err := tx.Exec(ctx, `
				INSERT INTO participant_resources (participant_id, resource, qty)
				VALUES ($1, $2, $3)
				ON CONFLICT (participant_id, resource)
				DO UPDATE SET qty = participant_resources.qty + EXCLUDED.qty`,
				toID, res, n); err != nil {
				return fmt.Errorf("failed to credit %s: %w", res, err)
			}
		}
	}
	return nil
}
