package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/application/factories/infrastructure"
	"github.com/etiennerc-wobz/payement-item-association/internal/config"
	"github.com/etiennerc-wobz/payement-item-association/internal/infrastructure/postgres"
	redisInfra "github.com/etiennerc-wobz/payement-item-association/internal/infrastructure/redis"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the yaml config file")
	limit := flag.Int("limit", 10, "number of rows to print per section")
	flag.Parse()

	cfg, err := config.New(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg, nil)
	defer infraFactory.Close()

	fmt.Println("--- Associations ---")
	if !cfg.Postgres.Enabled {
		fmt.Println("postgres disabled")
	} else if pool, err := infraFactory.Postgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
	} else {
		repo := postgres.NewJournalRepository(pool, postgres.NewTxManager(pool))
		entries, err := repo.ListRecent(ctx, *limit)
		if err != nil {
			fmt.Printf("Query failed: %v\n", err)
		}
		for _, e := range entries {
			fmt.Printf("TX: %s | Items: [%s] | Attempts: %d | Forwarded: %s\n",
				e.TransactionID, strings.Join(e.Items, ","), e.Attempts, e.ForwardedAt.Format(time.RFC3339))
		}
	}

	fmt.Println("\n--- Dead letters ---")
	if !cfg.Redis.Enabled {
		fmt.Println("redis disabled")
		return
	}
	client, err := infraFactory.Redis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to redis: %v\n", err)
		return
	}
	entries, err := redisInfra.NewDeadLetterStore(client, cfg.Redis.DeadLetterKey).List(ctx, *limit)
	if err != nil {
		fmt.Printf("Query failed: %v\n", err)
	}
	for _, e := range entries {
		fmt.Printf("Kind: %s | Reason: %s | Evicted: %s | Event: %s\n",
			e.Kind, e.Reason, e.EvictedAt.Format(time.RFC3339), string(e.Event))
	}
}
