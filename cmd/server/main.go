// Package main is the entry point for the ledger service: capital pools
// distributed to trading positions, partial sales, and the reconciliation
// loop that keeps the accounting identity intact.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tradelab/ledger/internal/config"
	"github.com/tradelab/ledger/internal/database"
	"github.com/tradelab/ledger/internal/events"
	"github.com/tradelab/ledger/internal/modules/liquidity"
	"github.com/tradelab/ledger/internal/modules/partialsale"
	"github.com/tradelab/ledger/internal/modules/positions"
	"github.com/tradelab/ledger/internal/scheduler"
	"github.com/tradelab/ledger/internal/server"
	"github.com/tradelab/ledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting ledger service")

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	if err := ledgerDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate ledger database")
	}

	eventManager := events.NewManager(log)

	poolRepo := liquidity.NewPoolRepository(ledgerDB.Conn(), log)
	positionRepo := positions.NewRepository(ledgerDB.Conn(), log)

	poolService := liquidity.NewService(ledgerDB.Conn(), poolRepo, eventManager, cfg.AllowOvercommit, log)
	saleService := partialsale.NewService(poolService, positionRepo, eventManager, cfg.DefaultAllocation, log)

	sched := scheduler.New(log)
	if cfg.MaintenanceSpec != "" {
		maintenance := scheduler.NewDBMaintenanceJob(ledgerDB, log)
		if err := sched.AddJob(cfg.MaintenanceSpec, maintenance); err != nil {
			log.Fatal().Err(err).Msg("Failed to register maintenance job")
		}
	}
	// The mark-to-market sweep needs a quote provider; prices normally
	// arrive over the API, so the job stays off until a source is wired.
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:          log,
		LedgerDB:     ledgerDB,
		Config:       cfg,
		Pools:        poolService,
		Sales:        saleService,
		PositionRepo: positionRepo,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := ledgerDB.WALCheckpoint("TRUNCATE"); err != nil {
		log.Warn().Err(err).Msg("Final WAL checkpoint failed")
	}

	log.Info().Msg("Server exited")
}
