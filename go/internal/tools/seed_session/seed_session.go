package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saltgames/tabletop/go/internal/dbconfig"
	"github.com/saltgames/tabletop/go/internal/ledger"
	"gopkg.in/yaml.v3"
)

// seedConfig mirrors the participants section of the session config.
type seedConfig struct {
	Participants []struct {
		ID        string         `yaml:"id"`
		Resources map[string]int `yaml:"resources"`
	} `yaml:"participants"`
}

func main() {
	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the participant roster
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}
	var cfg seedConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse config: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbconfig.NewConfigFromEnv().DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := ledger.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ensure schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Upsert balances and count
	var (
		total    = len(cfg.Participants)
		inserted int
		skipped  int
		errs     int
	)

	for _, p := range cfg.Participants {
		seeded := false
		failed := false
		for resource, qty := range p.Resources {
			cmdTag, err := pool.Exec(ctx, `
            INSERT INTO participant_resources (participant_id, resource, qty)
            VALUES ($1, $2, $3)
            ON CONFLICT (participant_id, resource) DO NOTHING
        `, p.ID, resource, qty)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error seeding participant %s: %v\n", p.ID, err)
				failed = true
				break
			}
			if cmdTag.RowsAffected() == 1 {
				seeded = true
			}
		}
		switch {
		case failed:
			errs++
		case seeded:
			inserted++
		default:
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Session seed complete: %d participants, %d seeded, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
