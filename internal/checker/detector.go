// Package checker turns availability samples into stock transition events
// and drives the polling cycle that produces them.
package checker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ovhwatch/stockwatch/internal/stock"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

// LocationResolver maps a datacenter code to display metadata.
type LocationResolver interface {
	Resolve(code string) storage.Location
}

// DetectorStore is the persistence a Detector needs.
type DetectorStore interface {
	storage.StatusStore
	storage.LocationStore
}

// Detector diffs each observation against the previous one for the same
// key and maintains out-of-stock intervals.
type Detector struct {
	store     DetectorStore
	locations LocationResolver
	logger    *slog.Logger
	now       func() time.Time
}

// NewDetector creates a detector. locations may be nil to skip location
// upserts.
func NewDetector(store DetectorStore, locations LocationResolver, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: store, locations: locations, logger: logger, now: time.Now}
}

// WithClock sets the clock used for observations without a timestamp.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Process records every observation in batch for target and returns the
// BecameAvailable events it produced. threshold is in minutes.
//
// A persistence error stops the batch; events produced before the failure
// are returned with the error.
func (d *Detector) Process(ctx context.Context, target storage.MonitoredTarget, batch []storage.Observation, threshold int) ([]stock.Event, error) {
	var events []stock.Event
	for _, obs := range batch {
		if obs.ObservedAt.IsZero() {
			obs.ObservedAt = d.now().UTC()
		}
		d.upsertLocation(ctx, target.Region, obs.DatacenterCode)

		ev, err := d.observe(ctx, target, obs, threshold)
		if err != nil {
			return events, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}

func (d *Detector) observe(ctx context.Context, target storage.MonitoredTarget, obs storage.Observation, threshold int) (*stock.Event, error) {
	key := target.Key(obs.Datacenter)
	at := obs.ObservedAt

	prev, err := d.store.GetLastObservation(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get last observation %s: %w", key, err)
	}
	if err := d.store.RecordObservation(ctx, key, obs); err != nil {
		return nil, fmt.Errorf("record observation %s: %w", key, err)
	}

	switch {
	case !obs.IsAvailable:
		// Opening is a no-op while an interval is open, so every unavailable
		// reading asks. A reading whose open was lost gets its interval back
		// on the next one.
		opened, err := d.store.OpenOutOfStockInterval(ctx, key, at)
		if err != nil {
			return nil, fmt.Errorf("open interval %s: %w", key, err)
		}
		switch {
		case opened && prev != nil && !prev.IsAvailable:
			d.logger.Warn("Reopened missing out-of-stock interval", "region", key.Region, "plan_code", key.PlanCode,
				"datacenter", key.Datacenter, "since", at)
		case opened:
			d.logger.Info("Out of stock", "region", key.Region, "plan_code", key.PlanCode,
				"datacenter", key.Datacenter, "status", obs.RawStatus)
		}
		return nil, nil

	case prev != nil && !prev.IsAvailable && obs.IsAvailable:
		minutes, ok, err := d.store.CloseOutOfStockInterval(ctx, key, at)
		if err != nil {
			return nil, fmt.Errorf("close interval %s: %w", key, err)
		}
		if !ok {
			return nil, nil
		}
		if minutes <= 0 || minutes < threshold {
			d.logger.Info("Back in stock below threshold", "region", key.Region, "plan_code", key.PlanCode,
				"datacenter", key.Datacenter, "minutes", minutes, "threshold", threshold)
			return nil, nil
		}
		d.markNotified(ctx, key)
		d.logger.Info("Back in stock", "region", key.Region, "plan_code", key.PlanCode,
			"datacenter", key.Datacenter, "minutes", minutes)
		return &stock.Event{
			Kind:           stock.BecameAvailable,
			PlanCode:       key.PlanCode,
			Region:         key.Region,
			Datacenter:     key.Datacenter,
			DatacenterCode: obs.DatacenterCode,
			DisplayName:    target.DisplayName,
			DwellMinutes:   minutes,
			At:             at,
		}, nil
	}
	return nil, nil
}

// upsertLocation is best effort.
func (d *Detector) upsertLocation(ctx context.Context, region, code string) {
	if d.locations == nil || code == "" {
		return
	}
	loc := d.locations.Resolve(code)
	loc.Region = region
	if err := d.store.UpsertLocation(ctx, loc); err != nil {
		d.logger.Warn("Failed to upsert datacenter location", "region", region, "code", code, "error", err)
	}
}

func (d *Detector) markNotified(ctx context.Context, key storage.Key) {
	n, ok := d.store.(storage.IntervalNotifier)
	if !ok {
		return
	}
	if err := n.MarkNotified(ctx, key); err != nil {
		d.logger.Warn("Failed to flag interval notified", "key", key.String(), "error", err)
	}
}
