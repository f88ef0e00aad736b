package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"sheetwise/internal/ai"
	"sheetwise/internal/bootstrap"
	"sheetwise/internal/cache"
	"sheetwise/internal/config"
	cronpkg "sheetwise/internal/cron"
	"sheetwise/internal/events"
	"sheetwise/internal/realtime"
	"sheetwise/internal/repository"
	"sheetwise/internal/router"
	"sheetwise/internal/scheduler"
	"sheetwise/internal/sheets"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database schema", zap.Error(err))
	}
	jobStore := repository.NewJobRepository(db)

	// --- Event Bus ---
	bus := events.NewBus(cfg.Events.HistoryLimit, logger)

	// --- External collaborators ---
	transformer, err := ai.NewOpenAIClient(cfg.AI)
	if err != nil {
		logger.Fatal("Failed to create AI client", zap.Error(err))
	}
	sheetClient := sheets.NewHTTPClient(cfg.Sheets)

	// --- Job Scheduler ---
	jobs := scheduler.New(cfg.Jobs, jobStore, sheetClient, transformer, bus, logger)
	if err := jobs.RecoverInterrupted(context.Background()); err != nil {
		logger.Fatal("Failed to recover orphaned jobs", zap.Error(err))
	}

	// --- Real-Time Hub ---
	hub := realtime.NewHub(cfg.Realtime, logger)
	detachHub := hub.AttachBus(bus)
	defer detachHub()
	hub.Start()

	// --- Cache Invalidation ---
	invalidator := cache.New(cfg.Redis, bus, logger)
	detachCache := invalidator.Start()
	defer detachCache()

	// --- Maintenance Scheduler ---
	maintenance := cronpkg.New(cfg.Jobs, jobs, jobStore, logger)
	maintenance.Start()

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, jobs, hub, logger, cfg.API.Key)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting sheetwise server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	maintenance.Stop()
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}
