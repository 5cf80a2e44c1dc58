package checker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ovhwatch/stockwatch/internal/catalog"
	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/notifications"
	"github.com/ovhwatch/stockwatch/internal/stock"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

// Source fetches the current per-datacenter availability of a target.
type Source interface {
	Fetch(ctx context.Context, target storage.MonitoredTarget) ([]storage.Observation, error)
}

// Dispatcher fans an event out to its recipients.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev stock.Event) notifications.Result
}

// Publisher announces events to other processes (NATS, pg_notify).
type Publisher interface {
	Publish(ctx context.Context, ev stock.Event) error
}

// CatalogRefresher refreshes a region's plan catalog when it is stale.
type CatalogRefresher interface {
	SyncIfDue(ctx context.Context, region string) (bool, error)
}

// --------------------------------------------------------------------------
// Topologies
// --------------------------------------------------------------------------

// Topology decides which regions a cycle covers.
type Topology interface {
	Name() string
	Regions(ctx context.Context) []string
}

type singleRegion struct{ region string }

// SingleRegion pins every cycle to one region.
func SingleRegion(region string) Topology {
	if region == "" {
		region = config.DefaultRegion
	}
	return singleRegion{region: region}
}

func (t singleRegion) Name() string { return "single:" + t.region }
func (t singleRegion) Regions(context.Context) []string { return []string{t.region} }

type allRegions struct {
	store  storage.ConfigStore
	logger *slog.Logger
}

// AllRegions re-reads the monitored region list from the config table at
// the start of each cycle. A missing or failing read means the default
// region.
func AllRegions(store storage.ConfigStore, logger *slog.Logger) Topology {
	if logger == nil {
		logger = slog.Default()
	}
	return allRegions{store: store, logger: logger}
}

func (t allRegions) Name() string { return "all" }

func (t allRegions) Regions(ctx context.Context) []string {
	raw, _, err := t.store.GetConfig(ctx, config.KeyMonitoredRegions)
	if err != nil {
		t.logger.Warn("Failed to read monitored regions, using default", "error", err)
		raw = ""
	}
	return catalog.ParseRegions(raw)
}

// --------------------------------------------------------------------------
// Scheduler
// --------------------------------------------------------------------------

// Options wires a Scheduler. Dispatcher, Catalog and Publishers are optional.
type Options struct {
	Registry    storage.PlanRegistry
	Source      Source
	Detector    *Detector
	Settings    *SettingsResolver
	Dispatcher  Dispatcher
	Publishers  []Publisher
	Catalog     CatalogRefresher
	TargetPause time.Duration
	SyncOnStart bool
	Logger      *slog.Logger
}

// Scheduler runs check cycles: list targets, fetch, detect, notify, sleep.
type Scheduler struct {
	registry    storage.PlanRegistry
	source      Source
	detector    *Detector
	settings    *SettingsResolver
	dispatcher  Dispatcher
	publishers  []Publisher
	catalog     CatalogRefresher
	pause       time.Duration
	syncOnStart bool
	logger      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a scheduler from opts.
func NewScheduler(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings := opts.Settings
	if settings == nil {
		settings = NewSettingsResolver(nil, Settings{
			Interval:         config.DefaultCheckInterval,
			ThresholdMinutes: config.DefaultThresholdMinutes,
		}, logger)
	}
	return &Scheduler{
		registry:    opts.Registry,
		source:      opts.Source,
		detector:    opts.Detector,
		settings:    settings,
		dispatcher:  opts.Dispatcher,
		publishers:  opts.Publishers,
		catalog:     opts.Catalog,
		pause:       opts.TargetPause,
		syncOnStart: opts.SyncOnStart,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// CycleResult tracks the outcome of one cycle.
type CycleResult struct {
	ID           string
	Regions      []string
	Targets      int
	Checked      int
	FetchFailed  int
	StoreFailed  int
	Events       int
	Delivered    int
	CatalogSyncs int
	Cancelled    bool
	Duration     time.Duration
}

// Summary returns a human-readable summary.
func (r *CycleResult) Summary() string {
	return fmt.Sprintf(
		"cycle=%s regions=%v targets=%d checked=%d fetch_failed=%d store_failed=%d events=%d delivered=%d catalog_syncs=%d cancelled=%v dur=%s",
		r.ID, r.Regions, r.Targets, r.Checked, r.FetchFailed, r.StoreFailed,
		r.Events, r.Delivered, r.CatalogSyncs, r.Cancelled, r.Duration.Round(time.Millisecond))
}

// Run loops until ctx is cancelled. It returns nil on cancellation and an
// error only when the target list cannot be read.
func (s *Scheduler) Run(ctx context.Context, topo Topology) error {
	s.logger.Info("Checker started", "topology", topo.Name(), "target_pause", s.pause)

	if s.syncOnStart {
		s.refreshCatalog(ctx, topo.Regions(ctx), nil)
	}

	for {
		settings := s.settings.Resolve(ctx)
		regions := topo.Regions(ctx)

		result, err := s.RunCycle(ctx, regions, settings)
		if err != nil {
			return err
		}
		s.logger.Info("Check cycle complete", "summary", result.Summary())

		if ctx.Err() != nil {
			break
		}
		s.logger.Debug("Sleeping", "interval", settings.Interval)
		if err := s.sleep(ctx, settings.Interval); err != nil {
			break
		}
	}

	s.logger.Info("Checker stopped")
	return nil
}

// RunCycle checks every enabled target in regions once. Cancellation stops
// the cycle between targets; a target already in progress completes.
func (s *Scheduler) RunCycle(ctx context.Context, regions []string, settings Settings) (CycleResult, error) {
	start := time.Now()
	result := CycleResult{ID: uuid.NewString(), Regions: regions}

	first := true
	for _, region := range regions {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		targets, err := s.registry.GetMonitoredTargets(ctx, region)
		if err != nil {
			if ctx.Err() != nil {
				result.Cancelled = true
				break
			}
			result.Duration = time.Since(start)
			return result, fmt.Errorf("list targets for %s: %w", region, err)
		}
		sort.SliceStable(targets, func(i, j int) bool { return targets[i].PlanCode < targets[j].PlanCode })
		result.Targets += len(targets)

		for _, target := range targets {
			if !first && s.pause > 0 {
				if err := s.sleep(ctx, s.pause); err != nil {
					result.Cancelled = true
					break
				}
			}
			if ctx.Err() != nil {
				result.Cancelled = true
				break
			}
			first = false
			s.checkTarget(context.WithoutCancel(ctx), target, settings.ThresholdMinutes, &result)
		}
		if result.Cancelled {
			break
		}
	}

	if !result.Cancelled {
		s.refreshCatalog(ctx, regions, &result)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (s *Scheduler) checkTarget(ctx context.Context, target storage.MonitoredTarget, threshold int, result *CycleResult) {
	log := s.logger.With("region", target.Region, "plan_code", target.PlanCode)

	obs, err := s.source.Fetch(ctx, target)
	if err != nil {
		log.Warn("Availability fetch failed", "error", err)
		result.FetchFailed++
		return
	}

	events, err := s.detector.Process(ctx, target, obs, threshold)
	result.Checked++
	for _, ev := range events {
		result.Events++
		s.publish(ctx, ev)
		if s.dispatcher == nil {
			continue
		}
		res := s.dispatcher.Dispatch(ctx, ev)
		result.Delivered += res.Delivered()
		log.Info("Notification fan-out complete", "summary", res.Summary())
	}
	if err != nil {
		log.Error("Failed to record observations", "error", err)
		result.StoreFailed++
	}
}

func (s *Scheduler) publish(ctx context.Context, ev stock.Event) {
	for _, p := range s.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			s.logger.Warn("Event publish failed", "event", ev.String(), "error", err)
		}
	}
}

func (s *Scheduler) refreshCatalog(ctx context.Context, regions []string, result *CycleResult) {
	if s.catalog == nil {
		return
	}
	for _, region := range regions {
		if ctx.Err() != nil {
			return
		}
		ran, err := s.catalog.SyncIfDue(ctx, region)
		if err != nil {
			s.logger.Warn("Catalog sync failed", "region", region, "error", err)
			continue
		}
		if ran && result != nil {
			result.CatalogSyncs++
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
