package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/eduai/schoolledger/internal/accounting/accounts"
	"github.com/eduai/schoolledger/internal/app"
	"github.com/eduai/schoolledger/internal/platform/db"
	"github.com/eduai/schoolledger/internal/shared"
)

// Seeds the default school chart of accounts for one or more institutions:
//
//	go run ./scripts/seed -actor ops greenfield-academy riverside-high
func main() {
	actor := flag.String("actor", "seed", "actor recorded on created accounts")
	flag.Parse()

	institutions := flag.Args()
	if len(institutions) == 0 {
		if env := strings.TrimSpace(os.Getenv("SEED_INSTITUTIONS")); env != "" {
			institutions = strings.Split(env, ",")
		}
	}
	if len(institutions) == 0 {
		log.Fatal("usage: seed [-actor name] <institution-id>...")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, 2)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	service := accounts.NewService(accounts.NewRepository(pool), nil, shared.NewAuditLogger(pool), logger)

	for _, inst := range institutions {
		inst = strings.TrimSpace(inst)
		if inst == "" {
			continue
		}
		fmt.Printf("→ Seeding chart of accounts for %s...\n", inst)
		created, err := service.BootstrapDefaultChart(ctx, inst, *actor)
		if err != nil {
			log.Fatalf("seed %s: %v", inst, err)
		}
		for _, a := range created {
			fmt.Printf("  + %s %s (%s)\n", a.Code, a.Name, a.Type)
		}
		fmt.Printf("✓ %s: %d accounts created\n", inst, len(created))
	}
}
