package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/api"
	"github.com/xtrntr/cryptodesk/internal/auth"
	"github.com/xtrntr/cryptodesk/internal/bootstrap"
	"github.com/xtrntr/cryptodesk/internal/config"
	"github.com/xtrntr/cryptodesk/internal/db"
	"github.com/xtrntr/cryptodesk/internal/exchange"
	"github.com/xtrntr/cryptodesk/internal/funds"
	"github.com/xtrntr/cryptodesk/internal/kyc"
	"github.com/xtrntr/cryptodesk/internal/market"
	"github.com/xtrntr/cryptodesk/internal/memstore"
	"github.com/xtrntr/cryptodesk/internal/metrics"
	"github.com/xtrntr/cryptodesk/internal/portfolio"
	"github.com/xtrntr/cryptodesk/internal/store"
	"github.com/xtrntr/cryptodesk/internal/stream"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a yaml/json/toml config file")
	usage := flag.Bool("usage", false, "print the environment variables and exit")
	flag.Parse()

	if *usage {
		text, err := config.Usage()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(text)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Log.Level
	if cfg.App.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("app", cfg.App.Name, "env", cfg.App.Environment)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// Main entry point: sets up storage, market data, the engine and the HTTP server
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	collector := metrics.NewCollector()

	var cache market.QuoteCache = market.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		redisCache, err := market.NewRedisCache(market.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			TTL:       cfg.Redis.TTL,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisCache.Close()
		cache = redisCache
	}

	binance := market.NewClient(market.ClientConfig{
		BaseURL:         cfg.Market.RESTURL,
		Timeout:         cfg.Market.RequestTimeout,
		RateLimitPerMin: cfg.Market.RateLimitPerMin,
		Logger:          logger,
	})
	quotes := market.NewQuoter(binance, cache, cfg.Market.Symbols, cfg.Market.QuoteMaxAge, logger)

	engine := exchange.NewEngine(st, quotes, exchange.Config{
		FeeRate: decimal.NewFromFloat(cfg.Trading.FeeRate),
	}, collector, logger)
	loaded, err := engine.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open orders: %w", err)
	}
	logger.Info("limit book restored", "orders", loaded)

	authService := auth.NewAuthService(st, auth.Config{
		Secret:         cfg.Auth.JWTSecret,
		TokenTTL:       cfg.Auth.TokenTTL,
		Issuer:         cfg.Auth.Issuer,
		InitialBalance: decimal.NewFromFloat(cfg.Trading.InitialBalance),
	})

	kycService := kyc.NewService(st, logger)
	if cfg.Seed.AdminPassword != "" {
		seeder := bootstrap.NewSeeder(st, authService, kycService, logger)
		if err := seeder.Run(ctx, bootstrap.Accounts{
			AdminPassword:  cfg.Seed.AdminPassword,
			TraderPassword: cfg.Seed.TraderPassword,
		}); err != nil {
			return fmt.Errorf("failed to seed accounts: %w", err)
		}
	}

	hub := stream.NewHub(cfg.HTTP.AllowedOrigins, logger)

	var wg sync.WaitGroup
	if cfg.Market.StreamEnabled {
		ticker, err := market.NewTickerStream(market.StreamConfig{
			URL:      cfg.Market.StreamURL,
			Symbols:  cfg.Market.Symbols,
			Logger:   logger,
			Recorder: collector,
		}, cache)
		if err != nil {
			return fmt.Errorf("failed to create ticker stream: %w", err)
		}

		engineQuotes, _ := ticker.Subscribe()
		hubQuotes, _ := ticker.Subscribe()

		wg.Add(3)
		go func() {
			defer wg.Done()
			if err := ticker.Run(ctx); err != nil {
				logger.Error("ticker stream stopped", "error", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := engine.Run(ctx, engineQuotes); err != nil {
				logger.Error("limit order matcher stopped", "error", err)
			}
		}()
		go func() {
			defer wg.Done()
			hub.Run(ctx, hubQuotes)
		}()
	} else {
		logger.Warn("market stream disabled; limit orders will not be matched")
	}

	handler := api.NewHandler(api.Handler{
		Store:     st,
		Auth:      authService,
		Engine:    engine,
		Funds:     funds.NewService(st, collector, logger),
		KYC:       kycService,
		Portfolio: portfolio.NewService(st, quotes, logger),
		Quotes:    quotes,
		Market:    binance,
		Logger:    logger,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		WebSocket:      hub,
		Metrics:        collector.Handler(),
		Recorder:       collector,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		wg.Wait()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	wg.Wait()
	return nil
}

// openStore uses Postgres when DATABASE_URL is set and the in-memory store
// otherwise
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DB.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory store, data is lost on exit")
		return memstore.New(), func() {}, nil
	}

	if err := db.RunMigrations(logger, cfg.DB.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	database, err := db.NewDB(ctx, cfg.DB.DatabaseURL, db.Options{
		MaxConns:       cfg.DB.PoolMax,
		ConnectTimeout: cfg.DB.ConnectTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, database.Close, nil
}
