// Package main is the entry point for the geohunt discovery service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"geohunt/internal/api"
	"geohunt/internal/config"
	"geohunt/internal/geo"
	"geohunt/internal/ledger"
	"geohunt/internal/pipeline"
	"geohunt/internal/pkg/db"
	"geohunt/internal/pkg/lock"
	"geohunt/internal/repository"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	treasureRepo := repository.NewTreasureRepository(dbPool.Pool)
	profileRepo := repository.NewProfileRepository(dbPool.Pool)
	discoveryRepo := repository.NewDiscoveryRepository(dbPool.Pool)
	registry := repository.NewRegistry(treasureRepo, discoveryRepo)

	// Initialize ledger gateway client
	ledgerClient := ledger.NewClient(cfg.Ledger.Endpoint, cfg.Ledger.CallTimeout)

	// Initialize per-hunter lock
	hunterLock := lock.NewHunterLock()

	// Initialize the discovery coordinator
	coordinator := pipeline.New(
		registry,
		profileRepo,
		discoveryRepo,
		ledgerClient,
		hunterLock,
		pipeline.Config{
			Policy: geo.Policy{
				MaxDistanceMeters: cfg.Proximity.MaxDistanceMeters,
				MaxFixAge:         cfg.Proximity.MaxFixAge,
				MaxAccuracyMeters: cfg.Proximity.MaxAccuracyMeters,
				MaxClockSkew:      cfg.Proximity.MaxClockSkew,
			},
			StreakWindow:  cfg.Settlement.StreakWindow,
			StoreTimeout:  cfg.Database.QueryTimeout,
			LedgerTimeout: cfg.Ledger.CallTimeout,
			RetryBase:     cfg.Retry.BaseInterval,
			RetryMax:      cfg.Retry.MaxInterval,
			RetryAttempts: cfg.Retry.MaxAttempts,
		},
	)

	// Initialize HTTP surface
	handler := api.NewHandler(coordinator, dbPool)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create treasures table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS treasures (
			treasure_id VARCHAR(255) PRIMARY KEY,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			rarity VARCHAR(20) NOT NULL,
			required_rank SMALLINT NOT NULL DEFAULT 0,
			reward_points BIGINT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: treasures table created")

	// Migration 2: Create hunter_profiles table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS hunter_profiles (
			hunter_id VARCHAR(255) PRIMARY KEY,
			wallet_address VARCHAR(255) NOT NULL,
			hunter_rank VARCHAR(20) NOT NULL DEFAULT 'beginner',
			total_treasures_found BIGINT NOT NULL DEFAULT 0,
			total_score BIGINT NOT NULL DEFAULT 0,
			current_streak BIGINT NOT NULL DEFAULT 0,
			longest_streak BIGINT NOT NULL DEFAULT 0,
			last_discovery_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: hunter_profiles table created")

	// Migration 3: Create discoveries table with its uniqueness guarantees.
	// The treasure slot index is partial: failed settlements drop out, which
	// re-opens the treasure for other claimants.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS discoveries (
			discovery_id UUID PRIMARY KEY,
			idempotency_token VARCHAR(255) NOT NULL,
			treasure_id VARCHAR(255) NOT NULL REFERENCES treasures(treasure_id),
			hunter_id VARCHAR(255) NOT NULL REFERENCES hunter_profiles(hunter_id),
			location_proof JSONB NOT NULL,
			discovered_at TIMESTAMPTZ NOT NULL,
			nft_object_id VARCHAR(255),
			tx_id VARCHAR(255),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			fail_kind VARCHAR(50),
			fail_reason TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_discoveries_token
			ON discoveries(idempotency_token);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_discoveries_treasure_slot
			ON discoveries(treasure_id) WHERE status <> 'failed';
		CREATE INDEX IF NOT EXISTS idx_discoveries_hunter_time
			ON discoveries(hunter_id, discovered_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: discoveries table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
