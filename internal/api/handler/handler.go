// Package handler provides HTTP handlers for all API endpoints.
// Handlers talk to the store directly; there is no service layer.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ovhwatch/stockwatch/internal/api/respond"
	"github.com/ovhwatch/stockwatch/internal/cache"
	"github.com/ovhwatch/stockwatch/internal/checker"
	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

// Store is the slice of storage the API reads and writes.
type Store interface {
	storage.AdminStore
	storage.ConfigStore
	storage.HistoryStore
	HealthCheck(ctx context.Context) error
}

// Validator checks that a webhook URL is a safe, recognised destination.
type Validator interface {
	Validate(ctx context.Context, rawURL, explicitType string) (string, error)
}

// Tester delivers a test notification to an endpoint.
type Tester interface {
	SendTest(ctx context.Context, ep storage.Endpoint) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	store     Store
	cache     *cache.Cache
	cfg       *config.Config
	settings  *checker.SettingsResolver
	validator Validator
	tester    Tester
	logger    *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(store Store, c *cache.Cache, cfg *config.Config, validator Validator, tester Tester, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := checker.Settings{Interval: cfg.CheckInterval, ThresholdMinutes: cfg.ThresholdMinutes}
	return &Handler{
		store:     store,
		cache:     c,
		cfg:       cfg,
		settings:  checker.NewSettingsResolver(store, defaults, logger),
		validator: validator,
		tester:    tester,
		logger:    logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, status and docs location.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Stockwatch API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
		"storage": h.cfg.DatabaseDriver,
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies the backing store is reachable.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.store.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("Database health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// InvalidateStock drops cached responses that depend on stock state. It is
// wired to the stock event listener.
func (h *Handler) InvalidateStock() int {
	return h.cache.InvalidatePrefix(statusPrefix)
}
