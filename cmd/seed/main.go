package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/auth"
	"github.com/xtrntr/cryptodesk/internal/bootstrap"
	"github.com/xtrntr/cryptodesk/internal/config"
	"github.com/xtrntr/cryptodesk/internal/db"
	"github.com/xtrntr/cryptodesk/internal/kyc"
)

// Seed the database with an admin account and a demo trader
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a yaml/json/toml config file")
	adminPassword := flag.String("admin-password", "", "password for the admin account (default ADMIN_PASSWORD or admin123)")
	traderPassword := flag.String("trader-password", "", "password for the demo trader (default DEMO_TRADER_PASSWORD or trader123)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.DB.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required for seeding")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := db.RunMigrations(logger, cfg.DB.DatabaseURL); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	database, err := db.NewDB(ctx, cfg.DB.DatabaseURL, db.Options{
		MaxConns:       cfg.DB.PoolMax,
		ConnectTimeout: cfg.DB.ConnectTimeout,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	authService := auth.NewAuthService(database, auth.Config{
		Secret:         cfg.Auth.JWTSecret,
		TokenTTL:       cfg.Auth.TokenTTL,
		Issuer:         cfg.Auth.Issuer,
		InitialBalance: decimal.NewFromFloat(cfg.Trading.InitialBalance),
	})

	seeder := bootstrap.NewSeeder(database, authService, kyc.NewService(database, logger), logger)
	if err := seeder.Run(ctx, bootstrap.Accounts{
		AdminPassword:  firstNonEmpty(*adminPassword, cfg.Seed.AdminPassword, "admin123"),
		TraderPassword: firstNonEmpty(*traderPassword, cfg.Seed.TraderPassword, "trader123"),
	}); err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}
	logger.Info("seeding complete")
}


func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
