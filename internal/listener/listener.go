// Package listener provides a Postgres LISTEN/NOTIFY consumer for stock
// events. It holds a dedicated pgx connection (not from the pool) listening
// on the stock_events channel that checkers publish to with pg_notify.
//
// Each event is decoded and passed to a Handler; the API uses this to drop
// cached status responses as soon as a plan comes back in stock.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ovhwatch/stockwatch/internal/stock"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// Handler receives decoded events. It runs on the listener goroutine and
// should return quickly.
type Handler func(ctx context.Context, ev stock.Event)

// Start opens a dedicated connection and listens on channel. It reconnects
// automatically on connection loss. Blocks until ctx is cancelled. Intended
// to be called with `go`.
func Start(ctx context.Context, dbURL, channel string, handle Handler, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, channel, handle, logger)
		if ctx.Err() != nil {
			logger.Info("Stock event listener stopped (context cancelled)")
			return
		}

		logger.Error("Stock event listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL, channel string, handle Handler, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("Stock event listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		Deliver(ctx, notification.Payload, handle, logger)
	}
}

// Deliver decodes one notification payload and hands it to handle.
// Malformed payloads are logged and dropped.
func Deliver(ctx context.Context, payload string, handle Handler, logger *slog.Logger) bool {
	var ev stock.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		logger.Warn("Failed to parse stock event", "payload", payload, "error", err)
		return false
	}
	if ev.Kind == "" || ev.PlanCode == "" {
		logger.Warn("Ignoring incomplete stock event", "payload", payload)
		return false
	}

	logger.Info("Stock event received",
		"kind", ev.Kind,
		"region", ev.Region,
		"plan_code", ev.PlanCode,
		"datacenter", ev.Datacenter,
		"dwell_minutes", ev.DwellMinutes)

	handle(ctx, ev)
	return true
}
