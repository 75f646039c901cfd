package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/saltgames/tabletop/go/internal/authz"
	"github.com/saltgames/tabletop/go/internal/dbconfig"
	"github.com/saltgames/tabletop/go/internal/gateway"
	"github.com/saltgames/tabletop/go/internal/ledger"
	"github.com/saltgames/tabletop/go/internal/models"
	"github.com/saltgames/tabletop/go/internal/session/bus"
	"github.com/saltgames/tabletop/go/internal/session/clock"
	"github.com/saltgames/tabletop/go/internal/session/relay"
	"github.com/saltgames/tabletop/go/internal/trade"
)

// ledgerStore is the full surface the wiring needs from a ledger
// implementation: the collaborator interface plus the roster read side.
type ledgerStore interface {
	ledger.Store
	Participants(ctx context.Context) ([]string, error)
}

// Services holds all the wired session components.
type Services struct {
	Bus     *bus.Bus
	Clock   *clock.TurnClock
	Trades  *trade.App
	Ledger  ledgerStore
	Gateway *gateway.Service
	Relay   *relay.Relay
	Pool    *pgxpool.Pool
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	b := bus.New(1024)

	var (
		repo   trade.TradesRepository
		store  ledgerStore
		pool   *pgxpool.Pool
	)

	switch cfg.Storage.Driver {
	case "", "memory":
		memLedger := ledger.NewMemoryStore()
		for _, p := range cfg.Participants {
			memLedger.Seed(p.ID, ledger.Bundle(p.Resources))
		}
		store = memLedger
		repo = trade.NewMemoryRepository()

	case "postgres":
		var err error
		pool, err = pgxpool.New(ctx, dbconfig.NewConfigFromEnv().DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		pgLedger := ledger.NewPostgresStore(pool)
		if err := pgLedger.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		pgTrades := trade.NewPostgresRepository(pool)
		if err := pgTrades.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		store = pgLedger
		repo = pgTrades

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	trades := trade.NewApp(repo, store.ExecuteTrade, b)

	turnClock := clock.New(clockwork.NewRealClock(), cfg.Session.TurnDurationSeconds,
		func(state models.TurnClockState) {
			b.Publish(bus.TurnTick(state, time.Now()))
		})

	tokens := make(map[string]authz.Identity, len(cfg.Tokens))
	for token, id := range cfg.Tokens {
		tokens[token] = authz.Identity{ParticipantID: id.ParticipantID, Arbiter: id.Arbiter}
	}
	gate := authz.NewStaticGate(tokens)

	gw := gateway.NewService(gateway.DefaultConfig(), trades, turnClock, store, b, gate)

	services := &Services{
		Bus:     b,
		Clock:   turnClock,
		Trades:  trades,
		Ledger:  store,
		Gateway: gw,
		Pool:    pool,
	}

	if cfg.Relay.Enabled {
		relayCfg := relay.DefaultConfig()
		if cfg.Relay.URL != "" {
			relayCfg.URL = cfg.Relay.URL
		}
		if cfg.Relay.Subject != "" {
			relayCfg.Subject = cfg.Relay.Subject
		}
		r, err := relay.New(b, relayCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create session relay: %w", err)
		}
		services.Relay = r
	}

	return services, nil
}
