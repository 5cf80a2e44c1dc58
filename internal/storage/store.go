// Package storage defines the persistence contracts shared by the checker,
// the notification fan-out and the API, plus the records that flow through
// them. Implementations live in storage/postgres and storage/sqlite.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("not found")
)

// PlanRegistry lists the targets a scheduler should poll.
type PlanRegistry interface {
	// GetMonitoredTargets returns enabled targets. An empty region returns
	// every region.
	GetMonitoredTargets(ctx context.Context, region string) ([]MonitoredTarget, error)
	// GetPlanInfo returns display context for notifications, or ErrNotFound.
	GetPlanInfo(ctx context.Context, planCode, region string) (*PlanInfo, error)
}

// StatusStore holds the observation log and out-of-stock intervals.
type StatusStore interface {
	// GetLastObservation returns nil, nil when the key has never been observed.
	GetLastObservation(ctx context.Context, key Key) (*Observation, error)
	RecordObservation(ctx context.Context, key Key, obs Observation) error
	// OpenOutOfStockInterval is a no-op returning false when an interval is
	// already open for key.
	OpenOutOfStockInterval(ctx context.Context, key Key, at time.Time) (bool, error)
	// CloseOutOfStockInterval ends the open interval and returns its
	// elapsed whole minutes. ok is false when nothing was open.
	CloseOutOfStockInterval(ctx context.Context, key Key, at time.Time) (minutes int, ok bool, err error)
}

// IntervalNotifier flags the latest closed interval for key as notified.
// Detectors use it when the status store provides it.
type IntervalNotifier interface {
	MarkNotified(ctx context.Context, key Key) error
}

// ConfigStore is the dynamic key/value configuration table.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
}

// LocationStore caches datacenter display metadata.
type LocationStore interface {
	UpsertLocation(ctx context.Context, loc Location) error
}

// SubscriptionDirectory resolves who wants to hear about a plan.
type SubscriptionDirectory interface {
	// GetSubscribers returns one recipient per active user and active
	// endpoint subscribed to planCode in region (or to every region).
	GetSubscribers(ctx context.Context, planCode, region string) ([]Recipient, error)
}

// HistoryStore is the append-only notification audit trail.
type HistoryStore interface {
	RecordAttempt(ctx context.Context, a NotificationAttempt) error
	ListAttempts(ctx context.Context, f AttemptFilter) ([]NotificationAttempt, error)
}

// CatalogStore receives the results of a catalog sync.
type CatalogStore interface {
	UpsertPlan(ctx context.Context, p PlanRecord) (UpsertResult, error)
	SavePricing(ctx context.Context, p Pricing) error
	// MarkPlansDiscontinued flags plans in region whose codes are absent
	// from active. Returns the number of plans changed.
	MarkPlansDiscontinued(ctx context.Context, region string, active []string) (int, error)
	// MarkNewPlansActive promotes plans first seen before cutoff.
	MarkNewPlansActive(ctx context.Context, cutoff time.Time) (int, error)
}

// AdminStore backs the operations API.
type AdminStore interface {
	ListPlans(ctx context.Context, region string) ([]Plan, error)
	SetPlanEnabled(ctx context.Context, planCode, region string, enabled bool) error
	ListCurrentStatus(ctx context.Context, region string) ([]StatusRow, error)
}

// Pruner deletes rows past their retention window.
type Pruner interface {
	PruneObservations(ctx context.Context, before time.Time) (int64, error)
	PruneAttempts(ctx context.Context, before time.Time) (int64, error)
}

// Store is everything a backend provides.
type Store interface {
	PlanRegistry
	StatusStore
	IntervalNotifier
	ConfigStore
	LocationStore
	SubscriptionDirectory
	HistoryStore
	CatalogStore
	AdminStore
	Pruner
	HealthCheck(ctx context.Context) error
}
