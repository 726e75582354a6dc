// Package main is the entry point for the real-time portfolio valuation
// and risk service. It wires the four core subsystems (lot engine, market-
// data ingest, valuation kernel, risk engine) and their persistence and
// transport collaborators, then blocks until an interrupt signal triggers
// a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/finrisk/valuation-service/internal/config"
	"github.com/finrisk/valuation-service/internal/database"
	"github.com/finrisk/valuation-service/internal/events"
	"github.com/finrisk/valuation-service/internal/finnhub"
	"github.com/finrisk/valuation-service/internal/ingest"
	"github.com/finrisk/valuation-service/internal/instruments"
	"github.com/finrisk/valuation-service/internal/ledger"
	"github.com/finrisk/valuation-service/internal/portfolio"
	"github.com/finrisk/valuation-service/internal/provconfig"
	"github.com/finrisk/valuation-service/internal/risk"
	"github.com/finrisk/valuation-service/internal/scheduler"
	"github.com/finrisk/valuation-service/internal/server"
	"github.com/finrisk/valuation-service/pkg/logger"

	"github.com/finrisk/valuation-service/internal/archive"
)

const (
	defaultProviderAPIURL = "https://finnhub.io/api/v1"
	defaultProviderWSURL  = "wss://ws.finnhub.io"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().Msg("starting valuation service")

	db, err := database.New(database.Config{Path: cfg.DatabaseURL})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ledgerRepo := ledger.NewRepository(db)
	registry := instruments.NewRegistry(db)
	history := instruments.NewHistory(db)
	providerCfg := provconfig.NewRepository(db)

	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := providerCfg.Bootstrap(bootstrapCtx, defaultProviderAPIURL, defaultProviderWSURL, cfg.FinnhubAPIKey, cfg.WebhookSecret); err != nil {
		bootstrapCancel()
		log.Fatal().Err(err).Msg("failed to bootstrap provider config")
	}
	bootstrapCancel()

	// A persisted provider_config row wins over whatever was bootstrapped
	// from the environment — refresh cfg now that the DB is open.
	providerRecord, err := providerCfg.Get(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load provider config")
	}
	cfg.ApplyOverride(config.ProviderConfigOverride{
		APIKey:        nonEmpty(providerRecord.APIKey),
		WebhookSecret: nonEmpty(providerRecord.WebhookSecret),
	})

	snapshotBus := events.NewSnapshotBus(log)
	tickBus := events.NewTickBus(log)

	riskEngine := risk.NewEngine(cfg.RiskConfidenceLevel, cfg.RiskTimeHorizonDays, cfg.RiskNumSimulations)
	portfolioValuer := portfolio.New(riskEngine)

	finnhubClient := finnhub.NewClient(providerRecord.APIURL)

	retryBufPath := filepath.Join(filepath.Dir(dbFilePath(cfg.DatabaseURL)), "ingest_retry_buffer.msgpack")
	retryBuf := ingest.NewRetryBuffer(retryBufPath)

	feed := ingest.New(ingest.Config{
		URL:         feedURL(providerRecord.WSURL, cfg.FinnhubAPIKey),
		Registry:    registry,
		History:     history,
		Ledger:      ledgerRepo,
		SnapshotBus: snapshotBus,
		TickBus:     tickBus,
		RetryBuffer: retryBuf,
		Log:         log,
	})

	archiver, err := archive.New(context.Background(), cfg.ArchiveS3Bucket, cfg.ArchiveS3Region, log)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize archive, continuing without it")
	}

	srv := server.New(server.Config{
		Port: cfg.Port,
		Log:  log,
		DB:   db,

		Ledger:      ledgerRepo,
		Registry:    registry,
		History:     history,
		SnapshotBus: snapshotBus,
		TickBus:     tickBus,
		Feed:        feed,

		RiskEngine:      riskEngine,
		PortfolioValuer: portfolioValuer,

		ProviderConfig: providerCfg,
		FinnhubClient:  finnhubClient,

		Config:  cfg,
		DevMode: cfg.LogPretty,
	})

	ingestCtx, ingestCancel := context.WithCancel(context.Background())
	go feed.Start(ingestCtx)
	log.Info().Str("ws_url", providerRecord.WSURL).Msg("market-data ingest started")

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.StressTestCron, scheduler.NewStressTestJob(snapshotBus, riskEngine, log)); err != nil {
		log.Error().Err(err).Msg("failed to register stress test job")
	}
	if err := sched.AddJob(cfg.RetentionCleanupCron, scheduler.NewRetentionCleanupJob(history, archiver, cfg.TickRetentionDays, log)); err != nil {
		log.Error().Err(err).Msg("failed to register retention cleanup job")
	}
	sched.Start()

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ingestCancel()
	feed.Stop()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

// feedURL appends the provider API token to the WebSocket URL. The feed
// authenticates via a token query parameter on the upgrade request.
func feedURL(wsURL, apiKey string) string {
	if apiKey == "" {
		return wsURL
	}
	sep := "?"
	if strings.Contains(wsURL, "?") {
		sep = "&"
	}
	return wsURL + sep + "token=" + url.QueryEscape(apiKey)
}

// nonEmpty returns nil for an empty string, otherwise a pointer to it —
// ApplyOverride treats a nil field as "leave as-is".
func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// dbFilePath strips a "file:" prefix and any query string from a
// DATABASE_URL so the retry buffer can live alongside the SQLite file.
func dbFilePath(databaseURL string) string {
	path := databaseURL
	if len(path) > 5 && path[:5] == "file:" {
		path = path[5:]
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '?' {
			return path[:i]
		}
	}
	if path == "" {
		return fmt.Sprintf("%s/valuation.db", os.TempDir())
	}
	return path
}
