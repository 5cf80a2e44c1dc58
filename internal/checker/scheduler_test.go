package checker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/notifications"
	"github.com/ovhwatch/stockwatch/internal/stock"
	"github.com/ovhwatch/stockwatch/internal/storage"
	"github.com/ovhwatch/stockwatch/internal/testutil"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

// scriptedSource returns queued responses per plan code.
type scriptedSource struct {
	mu      sync.Mutex
	queue   map[string][][]storage.Observation
	fail    map[string]error
	fetched []string
	onFetch func(storage.MonitoredTarget)
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{queue: map[string][][]storage.Observation{}, fail: map[string]error{}}
}

func (s *scriptedSource) push(plan string, obs []storage.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[plan] = append(s.queue[plan], obs)
}

func (s *scriptedSource) Fetch(ctx context.Context, t storage.MonitoredTarget) ([]storage.Observation, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, t.Region+"/"+t.PlanCode)
	hook := s.onFetch
	var (
		obs []storage.Observation
		err = s.fail[t.PlanCode]
	)
	if err == nil {
		if q := s.queue[t.PlanCode]; len(q) > 0 {
			obs, s.queue[t.PlanCode] = q[0], q[1:]
		} else {
			err = errors.New("no scripted response")
		}
	}
	s.mu.Unlock()
	if hook != nil {
		hook(t)
	}
	return obs, err
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []stock.Event
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, ev stock.Event) notifications.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return notifications.Result{Event: ev, Default: notifications.DefaultOutcome{Attempted: true, Success: true}}
}

type fakePublisher struct {
	events []stock.Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, ev stock.Event) error {
	p.events = append(p.events, ev)
	return p.err
}

type fakeCatalog struct {
	regions []string
	due     bool
	err     error
}

func (c *fakeCatalog) SyncIfDue(ctx context.Context, region string) (bool, error) {
	c.regions = append(c.regions, region)
	return c.due, c.err
}

type fixture struct {
	store      *testutil.MemStore
	source     *scriptedSource
	dispatcher *fakeDispatcher
	publisher  *fakePublisher
	catalog    *fakeCatalog
	sched      *Scheduler
	sleeps     []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      testutil.NewMemStore(),
		source:     newScriptedSource(),
		dispatcher: &fakeDispatcher{},
		publisher:  &fakePublisher{},
		catalog:    &fakeCatalog{},
	}
	f.sched = NewScheduler(Options{
		Registry:    f.store,
		Source:      f.source,
		Detector:    NewDetector(f.store, nil, nil),
		Settings:    NewSettingsResolver(f.store, Settings{Interval: time.Minute, ThresholdMinutes: 60}, nil),
		Dispatcher:  f.dispatcher,
		Publishers:  []Publisher{f.publisher},
		Catalog:     f.catalog,
		TargetPause: time.Second,
	})
	f.sched.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	return f
}

func (f *fixture) addTarget(region, plan string) {
	f.store.AddTarget(storage.MonitoredTarget{PlanCode: plan, Region: region, Enabled: true})
}

func obsAt(dc string, available bool, at time.Time) []storage.Observation {
	return []storage.Observation{{Datacenter: dc, IsAvailable: available, ObservedAt: at}}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestRunCycleContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.addTarget("US", "a")
	f.addTarget("US", "b")
	f.addTarget("US", "c")
	f.source.fail["a"] = errors.New("timeout")
	f.source.push("b", obsAt("DC", false, t0))
	f.source.push("c", obsAt("DC", false, t0))

	res, err := f.sched.RunCycle(context.Background(), []string{"US"}, Settings{ThresholdMinutes: 60})
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Targets != 3 || res.FetchFailed != 1 || res.Checked != 2 {
		t.Errorf("result = %+v", res)
	}
	if strings.Join(f.source.fetched, ",") != "US/a,US/b,US/c" {
		t.Errorf("fetch order = %v", f.source.fetched)
	}
	if f.store.ObservationCount(storage.Key{PlanCode: "a", Region: "US", Datacenter: "DC"}) != 0 {
		t.Error("failed fetch must not write observations")
	}
	if len(f.sleeps) != 2 {
		t.Errorf("expected a pause between each target, got %v", f.sleeps)
	}
}

func TestRunCycleStoreFailureIsPerTarget(t *testing.T) {
	f := newFixture(t)
	f.addTarget("US", "a")
	f.addTarget("US", "b")
	f.source.push("a", obsAt("DC", false, t0))
	f.source.push("b", obsAt("DC", false, t0))
	f.source.onFetch = func(tg storage.MonitoredTarget) {
		if tg.PlanCode == "a" {
			f.store.SetFail("RecordObservation", nil)
		} else {
			f.store.ClearFail("RecordObservation")
		}
	}

	res, err := f.sched.RunCycle(context.Background(), []string{"US"}, Settings{ThresholdMinutes: 60})
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.StoreFailed != 1 {
		t.Errorf("StoreFailed = %d", res.StoreFailed)
	}
	if f.store.ObservationCount(storage.Key{PlanCode: "b", Region: "US", Datacenter: "DC"}) != 1 {
		t.Error("second target should still be processed")
	}
}

func TestRunCycleTargetListFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.store.SetFail("GetMonitoredTargets", nil)

	if _, err := f.sched.RunCycle(context.Background(), []string{"US"}, Settings{}); !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("err = %v", err)
	}
	if err := f.sched.Run(context.Background(), SingleRegion("US")); !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("Run err = %v", err)
	}
}

func TestRunCycleDispatchesEvents(t *testing.T) {
	f := newFixture(t)
	f.addTarget("US", "vps-1")
	f.source.push("vps-1", obsAt("DC", false, t0))
	f.source.push("vps-1", obsAt("DC", true, t0.Add(90*time.Minute)))

	ctx := context.Background()
	f.sched.RunCycle(ctx, []string{"US"}, Settings{ThresholdMinutes: 60})
	res, err := f.sched.RunCycle(ctx, []string{"US"}, Settings{ThresholdMinutes: 60})
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Events != 1 || res.Delivered != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(f.dispatcher.events) != 1 || f.dispatcher.events[0].DwellMinutes != 90 {
		t.Errorf("dispatched = %+v", f.dispatcher.events)
	}
	if len(f.publisher.events) != 1 {
		t.Errorf("published = %+v", f.publisher.events)
	}
}

func TestRunCyclePublishFailureDoesNotBlockDispatch(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("nats down")
	f.addTarget("US", "vps-1")
	f.source.push("vps-1", obsAt("DC", false, t0))
	f.source.push("vps-1", obsAt("DC", true, t0.Add(2*time.Hour)))

	f.sched.RunCycle(context.Background(), []string{"US"}, Settings{ThresholdMinutes: 60})
	f.sched.RunCycle(context.Background(), []string{"US"}, Settings{ThresholdMinutes: 60})
	if len(f.dispatcher.events) != 1 {
		t.Errorf("dispatched = %d, want 1", len(f.dispatcher.events))
	}
}

func TestRunCycleCatalogRefresh(t *testing.T) {
	f := newFixture(t)
	f.catalog.due = true

	res, err := f.sched.RunCycle(context.Background(), []string{"US", "FR"}, Settings{})
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.CatalogSyncs != 2 || strings.Join(f.catalog.regions, ",") != "US,FR" {
		t.Errorf("syncs=%d regions=%v", res.CatalogSyncs, f.catalog.regions)
	}

	f.catalog.regions = nil
	f.catalog.err = errors.New("upstream 503")
	res, err = f.sched.RunCycle(context.Background(), []string{"US"}, Settings{})
	if err != nil || res.CatalogSyncs != 0 {
		t.Errorf("catalog failure should be logged only: res=%+v err=%v", res, err)
	}
}

func TestRunCycleStopsBetweenTargetsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.addTarget("US", "a")
	f.addTarget("US", "b")
	f.source.push("a", obsAt("DC", false, t0))
	f.source.push("b", obsAt("DC", false, t0))

	ctx, cancel := context.WithCancel(context.Background())
	f.source.onFetch = func(storage.MonitoredTarget) { cancel() }

	res, err := f.sched.RunCycle(ctx, []string{"US"}, Settings{})
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !res.Cancelled || res.Checked != 1 {
		t.Errorf("result = %+v", res)
	}
	if f.store.ObservationCount(storage.Key{PlanCode: "a", Region: "US", Datacenter: "DC"}) != 1 {
		t.Error("in-flight target should complete after cancellation")
	}
	if len(f.catalog.regions) != 0 {
		t.Error("catalog refresh should be skipped on a cancelled cycle")
	}
}

func TestRunSleepsResolvedIntervalAndStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.store.Config[config.KeyCheckInterval] = "45"

	ctx, cancel := context.WithCancel(context.Background())
	cycles := 0
	f.sched.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		cycles++
		if cycles == 2 {
			cancel()
		}
		return ctx.Err()
	}

	if err := f.sched.Run(ctx, SingleRegion("US")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.sleeps) != 2 || f.sleeps[0] != 45*time.Second {
		t.Errorf("sleeps = %v", f.sleeps)
	}
}

func TestRunSyncsCatalogOnStart(t *testing.T) {
	f := newFixture(t)
	f.sched.syncOnStart = true
	ctx, cancel := context.WithCancel(context.Background())
	f.sched.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	f.sched.Run(ctx, SingleRegion("DE"))
	if len(f.catalog.regions) != 2 || f.catalog.regions[0] != "DE" {
		t.Errorf("catalog regions = %v, want a startup sync plus one per cycle", f.catalog.regions)
	}
}

func TestAllRegionsTopology(t *testing.T) {
	store := testutil.NewMemStore()
	topo := AllRegions(store, nil)
	ctx := context.Background()

	if got := topo.Regions(ctx); len(got) != 1 || got[0] != "US" {
		t.Errorf("unset = %v, want [US]", got)
	}
	store.Config[config.KeyMonitoredRegions] = "fr, de,FR"
	if got := strings.Join(topo.Regions(ctx), ","); got != "FR,DE" {
		t.Errorf("list = %q", got)
	}
	store.SetFail("GetConfig", nil)
	if got := topo.Regions(ctx); len(got) != 1 || got[0] != "US" {
		t.Errorf("read failure = %v, want [US]", got)
	}
}

func TestSingleRegionTopology(t *testing.T) {
	if got := SingleRegion("").Regions(context.Background()); got[0] != config.DefaultRegion {
		t.Errorf("default region = %v", got)
	}
	if got := SingleRegion("CA").Name(); got != "single:CA" {
		t.Errorf("Name = %q", got)
	}
}

func TestCycleResultSummary(t *testing.T) {
	r := CycleResult{ID: "x", Regions: []string{"US"}, Targets: 3, Checked: 2, FetchFailed: 1}
	s := r.Summary()
	for _, want := range []string{"cycle=x", "targets=3", "checked=2", "fetch_failed=1"} {
		if !strings.Contains(s, want) {
			t.Errorf("Summary %q missing %q", s, want)
		}
	}
}
