package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/pesalog/service/config"
	"github.com/brojonat/pesalog/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrate applies the transactions schema to DATABASE_URL.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting schema migration")

	cfg := config.MustLoad()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if err := db.Migrate(ctx, dbPool); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	var count int64
	if err := dbPool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count); err != nil {
		logger.Error("failed to verify transactions table", "error", err)
		os.Exit(1)
	}

	logger.Info("migration complete", "transactions", count)
}
