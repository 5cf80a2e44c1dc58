package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ovhwatch/stockwatch/internal/db"
	"github.com/ovhwatch/stockwatch/internal/stock"
)

// EventChannel is the pg_notify channel carrying stock events.
const EventChannel = "stock_events"

// Notifier publishes stock events through pg_notify so other processes
// sharing the database (the API) can react to them.
type Notifier struct {
	pool *db.Pool
}

// NewNotifier returns a Notifier on pool.
func NewNotifier(pool *db.Pool) *Notifier {
	return &Notifier{pool: pool}
}

// Publish sends ev as a JSON payload on EventChannel.
func (n *Notifier) Publish(ctx context.Context, ev stock.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := n.pool.Exec(ctx, "notify_event", EventChannel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify %s: %w", EventChannel, err)
	}
	return nil
}
