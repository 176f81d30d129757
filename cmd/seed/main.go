package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/adapters/postgres"
	"github.com/kevin07696/subscription-billing/internal/config"
	"github.com/kevin07696/subscription-billing/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.Database.ConnectionString()), logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	repos := seed.Repositories{
		Users:      postgres.NewUserRepository(pool),
		Plans:      postgres.NewPlanRepository(pool),
		PromoCodes: postgres.NewPromoCodeRepository(pool),
	}

	res, err := seed.Load(ctx, postgres.NewDBExecutor(pool), repos, time.Now().UTC(), logger)
	if err != nil {
		logger.Fatal("Failed to seed database", zap.Error(err))
	}

	fmt.Println("========================================")
	fmt.Println("DEMO DATA SEEDED")
	fmt.Println("========================================")
	fmt.Printf("Plans upserted:      %d\n", res.Plans)
	fmt.Printf("Promo codes created: %d\n", res.PromoCodes)
	fmt.Printf("Users created:       %d\n", res.Users)
	fmt.Println()
	for _, u := range seed.Users(time.Now()) {
		fmt.Printf("  %-8s X-User-ID: %s\n", u.Username, u.ID)
	}
	fmt.Println("========================================")
}
