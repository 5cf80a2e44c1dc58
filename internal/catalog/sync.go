package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

// NewPlanGrace is how long a discovered plan stays "new" before a sync
// promotes it to active.
const NewPlanGrace = time.Hour

// SyncStore is what a catalog sync writes to.
type SyncStore interface {
	storage.CatalogStore
	storage.ConfigStore
}

// SyncResult tracks counts and errors from one region's sync.
type SyncResult struct {
	Region        string
	CatalogPlans  int
	Discovered    int
	Added         int
	Updated       int
	Reactivated   int
	Discontinued  int
	Activated     int
	PricingSynced int
	Errors        []string
	Duration      time.Duration
}

// AddErrorf records a formatted error message.
func (r *SyncResult) AddErrorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary returns a human-readable summary of the sync.
func (r *SyncResult) Summary() string {
	return fmt.Sprintf(
		"region=%s catalog=%d discovered=%d added=%d updated=%d reactivated=%d discontinued=%d activated=%d pricing=%d errors=%d",
		r.Region, r.CatalogPlans, r.Discovered, r.Added, r.Updated, r.Reactivated,
		r.Discontinued, r.Activated, r.PricingSynced, len(r.Errors),
	)
}

// Syncer discovers plans per region and keeps the plan registry current.
type Syncer struct {
	fetcher *Fetcher
	store   SyncStore
	every   time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewSyncer creates a syncer that considers a region due after every.
func NewSyncer(fetcher *Fetcher, store SyncStore, every time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if every <= 0 {
		every = 24 * time.Hour
	}
	return &Syncer{fetcher: fetcher, store: store, every: every, logger: logger, now: time.Now}
}

func syncedKey(region string) string {
	return config.KeyCatalogSyncedPrefix + strings.ToUpper(region)
}

// ShouldSync reports whether region's last sync is older than the sync
// period. Missing or unparsable timestamps count as due.
func (s *Syncer) ShouldSync(ctx context.Context, region string) bool {
	v, ok, err := s.store.GetConfig(ctx, syncedKey(region))
	if err != nil || !ok || v == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return true
	}
	return s.now().Sub(last) > s.every
}

// SyncIfDue syncs region when ShouldSync says so. It reports whether a sync
// ran.
func (s *Syncer) SyncIfDue(ctx context.Context, region string) (bool, error) {
	if !s.ShouldSync(ctx, region) {
		return false, nil
	}
	result, err := s.Sync(ctx, region)
	if err != nil {
		return true, err
	}
	s.logger.Info("Catalog sync finished", "region", region,
		"duration", result.Duration.Round(time.Millisecond), "summary", result.Summary())
	for _, e := range result.Errors {
		s.logger.Warn("Catalog sync error", "region", region, "error", e)
	}
	return true, nil
}

// Sync fetches region's catalog and writes plans and pricing. Individual
// row failures are collected in the result; fetch and discontinue failures
// abort the sync.
func (s *Syncer) Sync(ctx context.Context, region string) (SyncResult, error) {
	region = strings.ToUpper(region)
	start := s.now()
	result := SyncResult{Region: region}

	c, err := s.fetcher.Fetch(ctx, region)
	if err != nil {
		return result, fmt.Errorf("fetch catalog: %w", err)
	}
	result.CatalogPlans = len(c.Plans)

	plans := ExtractPlans(c, region, s.fetcher.Base(region))
	result.Discovered = len(plans)

	active := make([]string, 0, len(plans))
	for _, p := range plans {
		active = append(active, p.PlanCode)
		res, err := s.store.UpsertPlan(ctx, p)
		if err != nil {
			result.AddErrorf("upsert %s: %v", p.PlanCode, err)
			continue
		}
		switch res {
		case storage.PlanAdded:
			result.Added++
		case storage.PlanReactivated:
			result.Reactivated++
		default:
			result.Updated++
		}
	}

	for _, p := range ExtractPricing(c, region) {
		if err := s.store.SavePricing(ctx, p); err != nil {
			result.AddErrorf("pricing %s/%d: %v", p.PlanCode, p.CommitmentMonths, err)
			continue
		}
		result.PricingSynced++
	}

	// An empty catalog is more likely an upstream hiccup than a mass
	// discontinuation.
	if len(active) > 0 {
		n, err := s.store.MarkPlansDiscontinued(ctx, region, active)
		if err != nil {
			return result, fmt.Errorf("mark discontinued: %w", err)
		}
		result.Discontinued = n
	}

	n, err := s.store.MarkNewPlansActive(ctx, s.now().Add(-NewPlanGrace))
	if err != nil {
		result.AddErrorf("mark active: %v", err)
	}
	result.Activated = n

	if err := s.store.SetConfig(ctx, syncedKey(region), s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		result.AddErrorf("stamp sync time: %v", err)
	}
	result.Duration = s.now().Sub(start)
	return result, nil
}
