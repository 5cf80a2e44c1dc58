package checker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ovhwatch/stockwatch/internal/catalog"
	"github.com/ovhwatch/stockwatch/internal/stock"
	"github.com/ovhwatch/stockwatch/internal/storage"
	"github.com/ovhwatch/stockwatch/internal/testutil"
)

var (
	t0     = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	target = storage.MonitoredTarget{PlanCode: "vps-1", Region: "US", DisplayName: "VPS One", Enabled: true}
	dcKey  = target.Key("US-EAST-VA")
)

func sample(available bool, minute int) []storage.Observation {
	status := "out-of-stock"
	if available {
		status = "available"
	}
	return []storage.Observation{{
		Datacenter:     "US-EAST-VA",
		DatacenterCode: "us-east-vin",
		IsAvailable:    available,
		RawStatus:      status,
		ObservedAt:     t0.Add(time.Duration(minute) * time.Minute),
	}}
}

func newDetector(store DetectorStore) *Detector {
	return NewDetector(store, catalog.DefaultLocations(), nil)
}

func TestDetectorFirstObservation(t *testing.T) {
	t.Run("unavailable opens interval", func(t *testing.T) {
		store := testutil.NewMemStore()
		events, err := newDetector(store).Process(context.Background(), target, sample(false, 0), 60)
		if err != nil || len(events) != 0 {
			t.Fatalf("events=%v err=%v", events, err)
		}
		if store.OpenIntervals(dcKey) != 1 {
			t.Errorf("open intervals = %d, want 1", store.OpenIntervals(dcKey))
		}
	})
	t.Run("available does nothing", func(t *testing.T) {
		store := testutil.NewMemStore()
		events, err := newDetector(store).Process(context.Background(), target, sample(true, 0), 60)
		if err != nil || len(events) != 0 {
			t.Fatalf("events=%v err=%v", events, err)
		}
		if len(store.IntervalsFor(dcKey)) != 0 {
			t.Error("no interval should exist")
		}
		if store.ObservationCount(dcKey) != 1 {
			t.Error("observation should still be recorded")
		}
	})
}

func TestDetectorBackInStockAfterThreshold(t *testing.T) {
	store := testutil.NewMemStore()
	d := newDetector(store)
	ctx := context.Background()

	d.Process(ctx, target, sample(false, 0), 60)
	d.Process(ctx, target, sample(false, 30), 60)
	events, err := d.Process(ctx, target, sample(true, 65), 60)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != stock.BecameAvailable || ev.DwellMinutes != 65 || ev.Datacenter != "US-EAST-VA" ||
		ev.DisplayName != "VPS One" || ev.DatacenterCode != "us-east-vin" {
		t.Errorf("event = %+v", ev)
	}
	ivs := store.IntervalsFor(dcKey)
	if len(ivs) != 1 || ivs[0].EndedAt == nil || !ivs[0].Notified {
		t.Errorf("intervals = %+v", ivs)
	}
	if store.ObservationCount(dcKey) != 3 {
		t.Errorf("observations = %d, want 3", store.ObservationCount(dcKey))
	}
}

func TestDetectorBelowThreshold(t *testing.T) {
	store := testutil.NewMemStore()
	d := newDetector(store)
	ctx := context.Background()

	d.Process(ctx, target, sample(false, 0), 60)
	events, err := d.Process(ctx, target, sample(true, 10), 60)
	if err != nil || len(events) != 0 {
		t.Fatalf("events=%v err=%v", events, err)
	}
	ivs := store.IntervalsFor(dcKey)
	if len(ivs) != 1 || ivs[0].EndedAt == nil {
		t.Fatalf("interval should be closed: %+v", ivs)
	}
	if ivs[0].Notified {
		t.Error("interval below threshold should not be flagged notified")
	}
}

func TestDetectorThresholdBoundary(t *testing.T) {
	tests := []struct {
		dwell     int
		threshold int
		want      int
	}{
		{59, 60, 0},
		{60, 60, 1},
		{61, 60, 1},
		{1, 1, 1},
		{0, 1, 0},
	}
	for _, tt := range tests {
		store := testutil.NewMemStore()
		d := newDetector(store)
		d.Process(context.Background(), target, sample(false, 0), tt.threshold)
		events, _ := d.Process(context.Background(), target, sample(true, tt.dwell), tt.threshold)
		if len(events) != tt.want {
			t.Errorf("dwell=%d threshold=%d: got %d events, want %d", tt.dwell, tt.threshold, len(events), tt.want)
		}
	}
}

func TestDetectorRepeatedUnavailableKeepsOneInterval(t *testing.T) {
	store := testutil.NewMemStore()
	d := newDetector(store)
	for i := 0; i < 5; i++ {
		if _, err := d.Process(context.Background(), target, sample(false, i*2), 60); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if n := store.OpenIntervals(dcKey); n != 1 {
			t.Fatalf("after %d samples: %d open intervals", i+1, n)
		}
	}
	if got := store.IntervalsFor(dcKey)[0].StartedAt; !got.Equal(t0) {
		t.Errorf("interval start = %v, want first observation %v", got, t0)
	}
}

func TestDetectorAlternatingSequence(t *testing.T) {
	store := testutil.NewMemStore()
	d := newDetector(store)
	ctx := context.Background()

	// down 0..20, up 20..30, down 30..100, up 100
	seq := []struct {
		avail  bool
		minute int
	}{
		{false, 0}, {false, 10}, {true, 20}, {true, 25}, {false, 30}, {false, 60}, {true, 100},
	}
	var events []stock.Event
	for _, s := range seq {
		evs, err := d.Process(ctx, target, sample(s.avail, s.minute), 30)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		events = append(events, evs...)
		if store.OpenIntervals(dcKey) > 1 {
			t.Fatal("more than one open interval")
		}
	}

	ivs := store.IntervalsFor(dcKey)
	if len(ivs) != 2 {
		t.Fatalf("got %d intervals, want 2", len(ivs))
	}
	for i, want := range []int{20, 70} {
		if ivs[i].EndedAt == nil {
			t.Fatalf("interval %d still open", i)
		}
		if got := storage.ElapsedMinutes(ivs[i].StartedAt, *ivs[i].EndedAt); got != want {
			t.Errorf("interval %d lasted %d minutes, want %d", i, got, want)
		}
	}
	if len(events) != 1 || events[0].DwellMinutes != 70 {
		t.Errorf("events = %+v", events)
	}
	if store.ObservationCount(dcKey) != len(seq) {
		t.Errorf("observations = %d, want %d", store.ObservationCount(dcKey), len(seq))
	}
}

func TestDetectorKeysAreIndependent(t *testing.T) {
	store := testutil.NewMemStore()
	d := newDetector(store)
	ctx := context.Background()

	batch := []storage.Observation{
		{Datacenter: "A", IsAvailable: false, ObservedAt: t0},
		{Datacenter: "B", IsAvailable: true, ObservedAt: t0},
	}
	d.Process(ctx, target, batch, 1)

	batch = []storage.Observation{
		{Datacenter: "A", IsAvailable: true, ObservedAt: t0.Add(5 * time.Minute)},
		{Datacenter: "B", IsAvailable: false, ObservedAt: t0.Add(5 * time.Minute)},
	}
	events, err := d.Process(ctx, target, batch, 1)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(events) != 1 || events[0].Datacenter != "A" || events[0].DwellMinutes != 5 {
		t.Errorf("events = %+v", events)
	}
	if store.OpenIntervals(target.Key("B")) != 1 || store.OpenIntervals(target.Key("A")) != 0 {
		t.Error("intervals crossed datacenter keys")
	}
}

func TestDetectorUsesClockForUnstampedObservations(t *testing.T) {
	store := testutil.NewMemStore()
	now := t0
	d := newDetector(store).WithClock(func() time.Time { return now })

	d.Process(context.Background(), target, []storage.Observation{{Datacenter: "US-EAST-VA"}}, 1)
	now = now.Add(3 * time.Minute)
	events, _ := d.Process(context.Background(), target, []storage.Observation{{Datacenter: "US-EAST-VA", IsAvailable: true}}, 1)

	if len(events) != 1 || events[0].DwellMinutes != 3 || !events[0].At.Equal(now) {
		t.Errorf("events = %+v", events)
	}
}

func TestDetectorUpsertsLocations(t *testing.T) {
	store := testutil.NewMemStore()
	newDetector(store).Process(context.Background(), target, sample(true, 0), 60)

	loc, ok := store.Locations["US/us-east-vin"]
	if !ok {
		t.Fatalf("location not upserted: %v", store.Locations)
	}
	if loc.Region != "US" || loc.Code != "us-east-vin" {
		t.Errorf("location = %+v", loc)
	}
}

func TestDetectorLocationFailureIsNotFatal(t *testing.T) {
	store := testutil.NewMemStore()
	store.SetFail("UpsertLocation", nil)

	_, err := newDetector(store).Process(context.Background(), target, sample(false, 0), 60)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if store.ObservationCount(dcKey) != 1 || store.OpenIntervals(dcKey) != 1 {
		t.Error("detection should proceed when location upsert fails")
	}
}

func TestDetectorPersistenceFailure(t *testing.T) {
	store := testutil.NewMemStore()
	d := newDetector(store)
	ctx := context.Background()
	d.Process(ctx, target, sample(false, 0), 1)

	batch := append(sample(true, 10), storage.Observation{Datacenter: "OTHER", ObservedAt: t0.Add(10 * time.Minute)})
	store.SetFail("OpenOutOfStockInterval", nil)

	events, err := d.Process(ctx, target, batch, 1)
	if !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("err = %v, want injected failure", err)
	}
	if len(events) != 1 {
		t.Errorf("events produced before the failure should be returned, got %d", len(events))
	}
}

func TestDetectorReopensLostInterval(t *testing.T) {
	store := testutil.NewMemStore()
	d := newDetector(store)
	ctx := context.Background()

	store.SetFail("OpenOutOfStockInterval", nil)
	if _, err := d.Process(ctx, target, sample(false, 0), 60); !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("err = %v, want injected failure", err)
	}
	store.ClearFail("OpenOutOfStockInterval")
	if store.ObservationCount(dcKey) != 1 || store.OpenIntervals(dcKey) != 0 {
		t.Fatalf("observation should be recorded without an interval")
	}

	if _, err := d.Process(ctx, target, sample(false, 30), 60); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if n := store.OpenIntervals(dcKey); n != 1 {
		t.Fatalf("open intervals after second unavailable reading = %d, want 1", n)
	}

	events, err := d.Process(ctx, target, sample(true, 120), 60)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(events) != 1 || events[0].DwellMinutes != 90 {
		t.Fatalf("events = %+v, want one event with 90 minutes", events)
	}
}
