// Package bus publishes stock events to NATS for consumers outside the
// database (chat bots, dashboards) and lets the API subscribe to them.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ovhwatch/stockwatch/internal/stock"
)

// drainTimeout bounds how long Close waits for in-flight messages.
const drainTimeout = 5 * time.Second

// Publisher sends stock events as JSON on one subject. The same connection
// serves subscriptions made through Subscribe.
type Publisher struct {
	conn    *nats.Conn
	subject string
	closed  chan struct{}
}

// NewPublisher connects to url with name as the client name. The client
// reconnects forever.
func NewPublisher(url, subject, name string) (*Publisher, error) {
	closed := make(chan struct{})
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DrainTimeout(drainTimeout),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &Publisher{conn: conn, subject: subject, closed: closed}, nil
}

// Close drains subscriptions and pending publishes, then waits for the
// connection to close.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return
	}
	select {
	case <-p.closed:
	case <-time.After(drainTimeout + time.Second):
		p.conn.Close()
	}
}

// Publish sends ev as JSON on the publisher's subject.
func (p *Publisher) Publish(_ context.Context, ev stock.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Subscribe decodes events arriving on the publisher's subject and passes
// them to handle. Undecodable messages are logged and skipped.
func (p *Publisher) Subscribe(handle func(stock.Event), logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sub, err := p.conn.Subscribe(p.subject, func(msg *nats.Msg) {
		deliver(msg, handle, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", p.subject, err)
	}
	return sub, nil
}

func deliver(msg *nats.Msg, handle func(stock.Event), logger *slog.Logger) bool {
	var ev stock.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Warn("Failed to decode bus event", "subject", msg.Subject, "error", err)
		return false
	}
	if ev.Kind == "" || ev.PlanCode == "" {
		logger.Warn("Ignoring incomplete bus event", "subject", msg.Subject)
		return false
	}
	handle(ev)
	return true
}
