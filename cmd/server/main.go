package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-ledger/internal/auth"
	"ticket-ledger/internal/clock"
	"ticket-ledger/internal/config"
	"ticket-ledger/internal/database"
	"ticket-ledger/internal/logging"
	"ticket-ledger/internal/metrics"
	"ticket-ledger/internal/middleware"
	"ticket-ledger/internal/repositories"
	"ticket-ledger/internal/server"
	"ticket-ledger/internal/services"

	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()
	reg := metrics.NewRegistry()

	deps := server.Dependencies{
		Logger:   logger,
		Registry: reg,
		Storage:  config.StorageMemory,
	}

	var store repositories.LedgerStore
	if cfg.UsePostgres() {
		db, err := database.NewConnection(ctx, cfg.Database.ConnectionConfig())
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if cfg.Ledger.AutoMigrate {
			if err := db.RunMigrations(ctx); err != nil {
				logger.Fatal().Err(err).Msg("Failed to run migrations")
			}
		}

		store = repositories.NewPostgresLedgerRepository(db.DB)
		deps.Storage = config.StoragePostgres
		deps.Ping = db.PingContext
	} else {
		logger.Warn().Msg("No database configured, ledger state is kept in memory and lost on restart")
		store = repositories.NewMemoryLedgerRepository()
	}

	deps.Ledger = services.NewLedger(store,
		services.LedgerConfig{Name: cfg.Ledger.Name, Symbol: cfg.Ledger.Symbol},
		services.WithClock(clk),
		services.WithMetrics(metrics.NewLedgerMetrics(reg)),
		services.WithLogger(logger.With().Str("component", "ledger").Logger()),
	)

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, clk)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize token manager")
	}
	deps.Tokens = tokens

	deps.CORS = middleware.DefaultCORSConfig()
	deps.CORS.AllowedOrigins = cfg.CORS.AllowedOrigins

	if cfg.RateLimit.WritesPerMinute > 0 {
		limiter := middleware.NewWriteRateLimiter(cfg.RateLimit.WritesPerMinute, time.Minute, clk)
		go limiter.Run(ctx, 5*time.Minute)
		deps.Limiter = limiter
	}

	srv := server.New(cfg.Addr(), server.NewRouter(deps), server.Options{
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("env", cfg.Server.Env).
		Str("storage", deps.Storage).
		Str("collection", cfg.Ledger.Name).
		Msg("Starting ticket ledger")

	if err := srv.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped with error")
	}
	logger.Info().Msg("Server stopped")
}
