package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Key identifies one (plan, region, datacenter) state slot.
type Key struct {
	PlanCode   string
	Region     string
	Datacenter string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Region, k.PlanCode, k.Datacenter)
}

// MonitoredTarget is a plan polled in one region.
type MonitoredTarget struct {
	PlanCode    string `json:"plan_code"`
	Region      string `json:"region"`
	DisplayName string `json:"display_name"`
	QueryURL    string `json:"url"`
	PurchaseURL string `json:"purchase_url"`
	Enabled     bool   `json:"enabled"`
}

// Key returns the state key for one datacenter of t.
func (t MonitoredTarget) Key(datacenter string) Key {
	return Key{PlanCode: t.PlanCode, Region: t.Region, Datacenter: datacenter}
}

// Observation is one availability sample. Observations are never updated.
type Observation struct {
	Datacenter     string          `json:"datacenter"`
	DatacenterCode string          `json:"datacenter_code,omitempty"`
	IsAvailable    bool            `json:"is_available"`
	RawStatus      string          `json:"linux_status"`
	ObservedAt     time.Time       `json:"checked_at"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// OutOfStockInterval spans an unavailable run. EndedAt is nil while open.
type OutOfStockInterval struct {
	ID        int64
	Key       Key
	StartedAt time.Time
	EndedAt   *time.Time
	// Notified is set when a BecameAvailable event fired on close. Nothing
	// reads it back.
	Notified bool
}

// Endpoint is a delivery destination plus the owner's styling preferences.
type Endpoint struct {
	URL           string `json:"url"`
	Type          string `json:"type,omitempty"` // discord | slack | "" (sniff)
	Name          string `json:"name,omitempty"`
	BotUsername   string `json:"bot_username,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	MentionRoleID string `json:"mention_role_id,omitempty"`
	EmbedColor    string `json:"embed_color,omitempty"`
	SlackChannel  string `json:"slack_channel,omitempty"`
	IncludePrice  bool   `json:"include_price"`
}

// Recipient is one (user, endpoint) pair eligible for a notification.
type Recipient struct {
	UserID    int64
	WebhookID int64
	Endpoint  Endpoint
}

// NotificationAttempt records one delivery. UserID and WebhookID are nil for
// the system default sink.
type NotificationAttempt struct {
	ID         int64     `json:"id"`
	UserID     *int64    `json:"user_id,omitempty"`
	WebhookID  *int64    `json:"webhook_id,omitempty"`
	IsDefault  bool      `json:"is_default_webhook"`
	PlanCode   string    `json:"plan_code"`
	Region     string    `json:"region"`
	Datacenter string    `json:"datacenter"`
	Message    string    `json:"message"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// AttemptFilter narrows ListAttempts. Zero values mean no filter.
type AttemptFilter struct {
	UserID   *int64
	PlanCode string
	Region   string
	Limit    int
}

// PlanInfo is the notification-facing view of a plan.
type PlanInfo struct {
	PlanCode    string `json:"plan_code"`
	Region      string `json:"region"`
	DisplayName string `json:"display_name"`
	PurchaseURL string `json:"purchase_url"`
	Price       string `json:"price,omitempty"` // formatted, empty when unknown
}

// Location is a datacenter's display metadata. Area is the broad zone
// (US, EU, APAC, ...).
type Location struct {
	Code        string `json:"code" yaml:"code"`
	Region      string `json:"region" yaml:"-"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	City        string `json:"city" yaml:"city"`
	Country     string `json:"country" yaml:"country"`
	CountryCode string `json:"country_code" yaml:"country_code"`
	Flag        string `json:"flag" yaml:"flag"`
	Area        string `json:"area" yaml:"area"`
}

// --------------------------------------------------------------------------
// Catalog records
// --------------------------------------------------------------------------

// UpsertResult reports what UpsertPlan did.
type UpsertResult string

const (
	PlanAdded       UpsertResult = "added"
	PlanUpdated     UpsertResult = "updated"
	PlanReactivated UpsertResult = "reactivated"
)

// Catalog lifecycle states.
const (
	CatalogNew          = "new"
	CatalogActive       = "active"
	CatalogDiscontinued = "discontinued"
)

// PlanRecord is a plan as discovered in a provider catalog.
type PlanRecord struct {
	PlanCode       string   `json:"plan_code"`
	Region         string   `json:"region"`
	DisplayName    string   `json:"display_name"`
	QueryURL       string   `json:"url"`
	PurchaseURL    string   `json:"purchase_url"`
	VCPU           int      `json:"vcpu"`
	RAMGB          int      `json:"ram_gb"`
	StorageGB      int      `json:"storage_gb"`
	StorageType    string   `json:"storage_type"`
	BandwidthMbps  int      `json:"bandwidth_mbps"`
	Description    string   `json:"description"`
	Orderable      bool     `json:"is_orderable"`
	VisibilityTags []string `json:"visibility_tags,omitempty"`
	ProductLine    string   `json:"product_line"`
	Datacenters    []string `json:"datacenters,omitempty"`
}

// Pricing is one renewal price tier. Prices are in provider microcents.
type Pricing struct {
	PlanCode         string `json:"plan_code"`
	Region           string `json:"region"`
	CommitmentMonths int    `json:"commitment_months"`
	PriceMicrocents  int64  `json:"price_microcents"`
	Currency         string `json:"currency"`
	Description      string `json:"description"`
}

// Plan is a stored plan with its lifecycle state.
type Plan struct {
	PlanRecord
	Enabled        bool       `json:"enabled"`
	CatalogStatus  string     `json:"catalog_status"`
	FirstSeenAt    time.Time  `json:"first_seen_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	DiscontinuedAt *time.Time `json:"discontinued_at,omitempty"`
	Price          string     `json:"price,omitempty"`
}

// StatusRow is the latest observation for one key, joined with plan and
// interval data.
type StatusRow struct {
	PlanCode        string     `json:"plan_code"`
	Region          string     `json:"region"`
	DisplayName     string     `json:"display_name"`
	Datacenter      string     `json:"datacenter"`
	DatacenterCode  string     `json:"datacenter_code,omitempty"`
	IsAvailable     bool       `json:"is_available"`
	RawStatus       string     `json:"linux_status"`
	CheckedAt       time.Time  `json:"checked_at"`
	OutOfStockSince *time.Time `json:"out_of_stock_since,omitempty"`
}

// ElapsedMinutes returns whole minutes between start and end, never negative.
func ElapsedMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
