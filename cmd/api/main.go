// Command api is the stockwatch status and operations API server.
//
// Usage:
//
//	stockwatch-api
//	API_PORT=8080 DATABASE_DRIVER=sqlite DATABASE_URL=stock.db stockwatch-api

// @title Stockwatch API
// @version 1.0.0
// @description VPS stock monitoring API: current availability per plan and datacenter, the plan registry, notification history and checker settings. Admin routes require an HS256 bearer token with an admin claim.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovhwatch/stockwatch/internal/api"
	"github.com/ovhwatch/stockwatch/internal/api/handler"
	"github.com/ovhwatch/stockwatch/internal/backend"
	"github.com/ovhwatch/stockwatch/internal/cache"
	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/listener"
	"github.com/ovhwatch/stockwatch/internal/maintenance"
	"github.com/ovhwatch/stockwatch/internal/notifications"
	"github.com/ovhwatch/stockwatch/internal/storage/postgres"
	"github.com/ovhwatch/stockwatch/internal/stock"

	_ "github.com/ovhwatch/stockwatch/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Opening store...", "driver", cfg.DatabaseDriver)
	be, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer be.Close()

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	defer appCache.Close()
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled, "status_ttl", cfg.CacheTTL)

	guard := notifications.NewURLGuard(net.DefaultResolver)
	sender := notifications.NewWebhookSender(cfg.WebhookTimeout, guard, logger)
	h := handler.New(be.Store, appCache, cfg, guard, sender, logger)

	invalidate := func(ev stock.Event) {
		n := h.InvalidateStock()
		logger.Debug("Status cache invalidated",
			"kind", ev.Kind, "region", ev.Region, "plan_code", ev.PlanCode, "entries", n)
	}

	// Start LISTEN/NOTIFY consumer so cached status drops on new events
	if be.Postgres() && cfg.PGNotify {
		go listener.Start(ctx, cfg.DatabaseURL, postgres.EventChannel,
			func(_ context.Context, ev stock.Event) { invalidate(ev) }, logger)
	}

	// Same for checkers publishing on NATS
	if cfg.NATSURL != "" {
		pub, err := be.NATS(cfg)
		if err != nil {
			logger.Error("NATS subscription disabled", "error", err)
		} else if _, err := pub.Subscribe(invalidate, logger); err != nil {
			logger.Error("NATS subscription failed", "error", err)
		} else {
			logger.Info("Subscribed to stock events", "subject", cfg.NATSSubject)
		}
	}

	// Start maintenance tickers (retention pruning, plan promotion)
	mcfg := maintenance.DefaultConfig()
	mcfg.StatusRetention = cfg.StatusRetention
	mcfg.HistoryRetention = cfg.HistoryRetention
	go maintenance.Start(ctx, be.Store, mcfg, logger)

	// Create router
	router := api.NewRouter(h, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting stockwatch API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
