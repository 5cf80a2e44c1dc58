// Package backend opens the configured storage driver and the event
// publishers that ride alongside it. Both binaries share it so the API and
// the checker agree on what DATABASE_DRIVER means.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ovhwatch/stockwatch/internal/bus"
	"github.com/ovhwatch/stockwatch/internal/checker"
	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/db"
	"github.com/ovhwatch/stockwatch/internal/storage"
	"github.com/ovhwatch/stockwatch/internal/storage/postgres"
	"github.com/ovhwatch/stockwatch/internal/storage/sqlite"
)

// Backend is an open store plus whatever needs closing with it.
type Backend struct {
	Store storage.Store
	Pool  *db.Pool // nil unless the driver is postgres

	closers []func()
}

// Open connects to the store selected by cfg.DatabaseDriver.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		store, err := sqlite.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info("SQLite store opened", "path", cfg.DatabaseURL)
		return &Backend{Store: store, closers: []func(){func() { _ = store.Close() }}}, nil
	default:
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
		store := postgres.New(pool)
		return &Backend{Store: store, Pool: pool, closers: []func(){store.Close}}, nil
	}
}

// Postgres reports whether LISTEN/NOTIFY is available.
func (b *Backend) Postgres() bool { return b.Pool != nil }

// Publishers returns the event publishers cfg enables: pg_notify on the
// postgres driver and NATS when NATS_URL is set. A NATS connection failure
// is logged and skipped; the checker still notifies webhooks without it.
func (b *Backend) Publishers(cfg *config.Config, logger *slog.Logger) []checker.Publisher {
	var pubs []checker.Publisher
	if cfg.PGNotify && b.Postgres() {
		pubs = append(pubs, postgres.NewNotifier(b.Pool))
		logger.Info("pg_notify publisher enabled", "channel", postgres.EventChannel)
	}
	if cfg.NATSURL != "" {
		pub, err := b.NATS(cfg)
		if err != nil {
			logger.Error("NATS publisher disabled", "error", err)
		} else {
			pubs = append(pubs, pub)
			logger.Info("NATS publisher enabled", "subject", cfg.NATSSubject)
		}
	}
	return pubs
}

// NATS connects a bus publisher named after the agent. It is closed with
// the backend.
func (b *Backend) NATS(cfg *config.Config) (*bus.Publisher, error) {
	pub, err := bus.NewPublisher(cfg.NATSURL, cfg.NATSSubject, "stockwatch-"+cfg.AgentID)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, pub.Close)
	return pub, nil
}

// Close releases everything in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
