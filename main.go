package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"portfolio-tracker/analytics"
	"portfolio-tracker/auth"
	"portfolio-tracker/config"
	"portfolio-tracker/database"
	"portfolio-tracker/handlers"
	"portfolio-tracker/jobs"
	"portfolio-tracker/ledger"
	"portfolio-tracker/logger"
	"portfolio-tracker/market"
	"portfolio-tracker/valuation"
)

const snapshotTimeout = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Service: "portfolio-tracker"})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}()
	if err := database.Migrate(db); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	rdb, err := config.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var source market.Provider
	switch cfg.QuoteSource {
	case config.QuoteSourceAlphaVantage:
		source = market.NewAlphaVantageProvider(cfg.AlphaVantageAPIKey, log)
	default:
		source = market.NewYahooProvider(log)
	}
	provider := market.NewCachedProvider(source, rdb, cfg.QuoteCacheTTL, log)

	store := ledger.NewStore(db, log)
	engine := ledger.NewEngine(db, log)

	if cfg.SnapshotSchedule != "" {
		scheduler := jobs.NewScheduler(snapshotTimeout, log)
		job := jobs.NewPriceSnapshotJob(db, store, provider, cfg.QuoteConcurrency, log)
		if err := scheduler.Add(cfg.SnapshotSchedule, job); err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	gin.SetMode(cfg.GinMode)
	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:         auth.NewService(db, rdb, cfg.JWTSecret, log),
		Engine:       engine,
		Aggregator:   valuation.NewAggregator(store, provider, cfg.QuoteConcurrency, log),
		Analytics:    analytics.NewService(provider, cfg.QuoteConcurrency, log),
		Log:          log,
		JWTSecret:    cfg.JWTSecret,
		AuthRequired: cfg.AuthRequired,
		Health: map[string]handlers.Pinger{
			"database": sqlDB,
			"redis":    handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("db_driver", cfg.Database.Driver).
			Str("quote_source", cfg.QuoteSource).
			Bool("auth_required", cfg.AuthRequired).
			Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}
