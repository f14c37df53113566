package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/ful2win/backend/internal/accounts"
	"github.com/ful2win/backend/internal/config"
	"github.com/ful2win/backend/internal/database"
	"github.com/ful2win/backend/internal/logging"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	users := flag.String("users", "player-a,player-b", "comma-separated user ids to create or top up")
	balance := flag.String("balance", "100", "balance to set for every seeded user")
	flag.Parse()

	// Initialize configuration
	cfg := config.Load()

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	amount, err := decimal.NewFromString(*balance)
	if err != nil || amount.IsNegative() {
		logger.Fatal("invalid balance", zap.String("balance", *balance))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize database
	db, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	store := accounts.NewStore(db, logger)
	for _, id := range strings.Split(*users, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := store.UpsertUser(ctx, id, amount); err != nil {
			logger.Fatal("failed to seed user", zap.String("user_id", id), zap.Error(err))
		}
		logger.Info("user seeded", zap.String("user_id", id), zap.String("balance", amount.String()))
	}
}
