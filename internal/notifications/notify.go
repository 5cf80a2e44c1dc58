// Package notifications delivers "back in stock" alerts to webhook
// destinations.
//
// Pipeline: resolve recipients (system default sink, then subscribers) →
// build a per-destination payload (Discord embed or Slack blocks) → POST →
// record one history row per attempt. Failed deliveries are terminal; the
// next stock transition is a fresh opportunity.
package notifications

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ovhwatch/stockwatch/internal/stock"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultBotUsername    = "OVH Stock Alert"
	defaultPersonalName   = "Personal Alert"
	defaultEmbedColor     = 5763719 // green
	testEmbedColor        = 3447003 // blue
	defaultWebhookTimeout = 10 * time.Second
	footerBrand           = "OVH Inventory Checker"
	priceUnknown          = "N/A"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Message is the semantic content of one stock alert, shared by every
// destination format.
type Message struct {
	PlanCode     string
	Region       string
	Datacenter   string
	DisplayName  string
	Price        string
	PurchaseURL  string
	DwellMinutes int
	At           time.Time
}

// DefaultOutcome reports the system default sink.
type DefaultOutcome struct {
	Attempted bool   `json:"attempted"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Delivery reports one subscriber delivery.
type Delivery struct {
	UserID    int64  `json:"user_id"`
	WebhookID int64  `json:"webhook_id"`
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Result aggregates a fan-out for logging.
type Result struct {
	EventID    uuid.UUID      `json:"event_id"`
	Event      stock.Event    `json:"event"`
	Default    DefaultOutcome `json:"default"`
	Recipients []Delivery     `json:"recipients"`
}

// Delivered counts successful deliveries, default sink included.
func (r *Result) Delivered() int {
	n := 0
	if r.Default.Success {
		n++
	}
	for _, d := range r.Recipients {
		if d.Success {
			n++
		}
	}
	return n
}

// Summary returns a human-readable summary.
func (r *Result) Summary() string {
	def := "skipped"
	if r.Default.Attempted {
		def = "FAIL"
		if r.Default.Success {
			def = "OK"
		}
	}
	ok := 0
	for _, d := range r.Recipients {
		if d.Success {
			ok++
		}
	}
	return fmt.Sprintf("event=%s %s default=%s users=%d/%d",
		r.EventID, r.Event.String(), def, ok, len(r.Recipients))
}
