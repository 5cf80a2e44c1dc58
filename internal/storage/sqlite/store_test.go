package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ovhwatch/stockwatch/internal/storage"
)

var (
	t0  = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	key = storage.Key{PlanCode: "vps-2025-model1", Region: "US", Datacenter: "US-EAST-VA"}
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "stock.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func exec(t *testing.T, s *Store, query string, args ...any) int64 {
	t.Helper()
	res, err := s.db.ExecContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
	id, _ := res.LastInsertId()
	return id
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newStore(t)
	if err := s.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestObservationsLatestWins(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	got, err := s.GetLastObservation(ctx, key)
	if err != nil || got != nil {
		t.Fatalf("empty key: %v %v", got, err)
	}

	for i, avail := range []bool{false, true, false} {
		obs := storage.Observation{
			Datacenter:  key.Datacenter,
			IsAvailable: avail,
			RawStatus:   "out-of-stock",
			ObservedAt:  t0.Add(time.Duration(i) * time.Minute),
			Raw:         []byte(`{"datacenter":"us-east-vin"}`),
		}
		if err := s.RecordObservation(ctx, key, obs); err != nil {
			t.Fatal(err)
		}
	}
	got, err = s.GetLastObservation(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsAvailable || !got.ObservedAt.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("latest = %+v", got)
	}
}

func TestIntervalInvariant(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	opened, err := s.OpenOutOfStockInterval(ctx, key, t0)
	if err != nil || !opened {
		t.Fatalf("first open: %v %v", opened, err)
	}
	opened, err = s.OpenOutOfStockInterval(ctx, key, t0.Add(time.Minute))
	if err != nil || opened {
		t.Fatalf("second open should be a no-op: %v %v", opened, err)
	}

	minutes, ok, err := s.CloseOutOfStockInterval(ctx, key, t0.Add(65*time.Minute+30*time.Second))
	if err != nil || !ok || minutes != 65 {
		t.Fatalf("close = %d %v %v, want 65 true", minutes, ok, err)
	}
	_, ok, err = s.CloseOutOfStockInterval(ctx, key, t0.Add(70*time.Minute))
	if err != nil || ok {
		t.Fatalf("closing with nothing open: ok=%v err=%v", ok, err)
	}

	if err := s.MarkNotified(ctx, key); err != nil {
		t.Fatal(err)
	}
	if opened, _ := s.OpenOutOfStockInterval(ctx, key, t0.Add(80*time.Minute)); !opened {
		t.Fatal("reopen after close should succeed")
	}

	ivs, err := s.Intervals(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(ivs) != 2 {
		t.Fatalf("intervals = %d, want 2", len(ivs))
	}
	if ivs[0].EndedAt == nil || !ivs[0].Notified {
		t.Errorf("first interval = %+v, want closed and notified", ivs[0])
	}
	if ivs[1].EndedAt != nil || ivs[1].Notified {
		t.Errorf("second interval = %+v, want open", ivs[1])
	}

	other := storage.Key{PlanCode: key.PlanCode, Region: "FR", Datacenter: key.Datacenter}
	if opened, _ := s.OpenOutOfStockInterval(ctx, other, t0); !opened {
		t.Error("a different region is a different key")
	}
}

func TestConfig(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetConfig(ctx, "check_interval_seconds"); ok || err != nil {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := s.SetConfig(ctx, "check_interval_seconds", "300"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetConfig(ctx, "check_interval_seconds", "600"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.GetConfig(ctx, "check_interval_seconds")
	if err != nil || !ok || v != "600" {
		t.Errorf("got %q %v %v", v, ok, err)
	}
}

func TestGetSubscribers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	alice := exec(t, s, `INSERT INTO users (username) VALUES ('alice')`)
	bob := exec(t, s, `INSERT INTO users (username, is_active) VALUES ('bob', 0)`)
	carol := exec(t, s, `INSERT INTO users (username) VALUES ('carol')`)

	a1 := exec(t, s, `INSERT INTO user_webhooks (user_id, webhook_url, webhook_type) VALUES (?, 'https://discord.com/api/webhooks/1/a', 'discord')`, alice)
	a2 := exec(t, s, `INSERT INTO user_webhooks (user_id, webhook_url, webhook_type, slack_channel, include_price) VALUES (?, 'https://hooks.slack.com/services/T/B/x', 'slack', '#ops', 0)`, alice)
	exec(t, s, `INSERT INTO user_webhooks (user_id, webhook_url, is_active) VALUES (?, 'https://discord.com/api/webhooks/1/off', 0)`, alice)
	exec(t, s, `INSERT INTO user_webhooks (user_id, webhook_url) VALUES (?, 'https://discord.com/api/webhooks/2/b')`, bob)
	exec(t, s, `INSERT INTO user_webhooks (user_id, webhook_url) VALUES (?, 'https://discord.com/api/webhooks/3/c')`, carol)

	// alice twice (region-specific and all regions) must not duplicate rows.
	exec(t, s, `INSERT INTO user_subscriptions (user_id, plan_code, subsidiary) VALUES (?, ?, 'US')`, alice, key.PlanCode)
	exec(t, s, `INSERT INTO user_subscriptions (user_id, plan_code, subsidiary) VALUES (?, ?, NULL)`, alice, key.PlanCode)
	exec(t, s, `INSERT INTO user_subscriptions (user_id, plan_code, subsidiary) VALUES (?, ?, 'US')`, bob, key.PlanCode)
	exec(t, s, `INSERT INTO user_subscriptions (user_id, plan_code, subsidiary) VALUES (?, ?, 'FR')`, carol, key.PlanCode)

	got, err := s.GetSubscribers(ctx, key.PlanCode, "US")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("recipients = %+v, want alice's two active webhooks", got)
	}
	if got[0].UserID != alice || got[0].WebhookID != a1 || got[1].WebhookID != a2 {
		t.Errorf("recipients = %+v", got)
	}
	if got[1].Endpoint.Type != "slack" || got[1].Endpoint.SlackChannel != "#ops" || got[1].Endpoint.IncludePrice {
		t.Errorf("slack endpoint = %+v", got[1].Endpoint)
	}
	if !got[0].Endpoint.IncludePrice || got[0].Endpoint.Name != "Personal Alert" {
		t.Errorf("discord endpoint = %+v", got[0].Endpoint)
	}

	fr, err := s.GetSubscribers(ctx, key.PlanCode, "FR")
	if err != nil {
		t.Fatal(err)
	}
	if len(fr) != 3 {
		t.Errorf("FR recipients = %d, want alice (all regions) x2 + carol", len(fr))
	}
}

func TestAttempts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	uid, wid := int64(7), int64(9)

	attempts := []storage.NotificationAttempt{
		{IsDefault: true, PlanCode: key.PlanCode, Region: "US", Datacenter: key.Datacenter, Message: "m", Success: true, SentAt: t0},
		{UserID: &uid, WebhookID: &wid, PlanCode: key.PlanCode, Region: "US", Datacenter: key.Datacenter, Message: "m", Error: "discord API returned 500: boom", SentAt: t0.Add(time.Minute)},
		{UserID: &uid, WebhookID: &wid, PlanCode: "vps-2025-model2", Region: "FR", Datacenter: "GRA", Message: "m", Success: true, SentAt: t0.Add(2 * time.Minute)},
	}
	for _, a := range attempts {
		if err := s.RecordAttempt(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListAttempts(ctx, storage.AttemptFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("all = %d %v", len(all), err)
	}
	if all[0].PlanCode != "vps-2025-model2" {
		t.Errorf("newest first, got %s", all[0].PlanCode)
	}
	if all[2].UserID != nil || !all[2].IsDefault {
		t.Errorf("default attempt = %+v", all[2])
	}

	mine, err := s.ListAttempts(ctx, storage.AttemptFilter{UserID: &uid, Region: "US"})
	if err != nil || len(mine) != 1 {
		t.Fatalf("filtered = %+v %v", mine, err)
	}
	if mine[0].Success || mine[0].Error == "" || *mine[0].WebhookID != wid {
		t.Errorf("failed attempt = %+v", mine[0])
	}

	limited, _ := s.ListAttempts(ctx, storage.AttemptFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}

	n, err := s.PruneAttempts(ctx, t0.Add(90*time.Second))
	if err != nil || n != 2 {
		t.Errorf("pruned %d %v, want 2", n, err)
	}
}

func TestCatalogLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return t0 }

	rec := storage.PlanRecord{
		PlanCode: "vps-2025-model1", Region: "US", DisplayName: "VPS-1",
		VCPU: 4, RAMGB: 8, StorageGB: 75, Orderable: true,
		Datacenters: []string{"US-EAST-VA", "US-WEST-OR"}, VisibilityTags: []string{"public"},
	}
	res, err := s.UpsertPlan(ctx, rec)
	if err != nil || res != storage.PlanAdded {
		t.Fatalf("first upsert = %v %v", res, err)
	}
	if res, _ := s.UpsertPlan(ctx, rec); res != storage.PlanUpdated {
		t.Errorf("second upsert = %v", res)
	}
	second := rec
	second.PlanCode = "vps-2025-model2"
	if _, err := s.UpsertPlan(ctx, second); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePricing(ctx, storage.Pricing{PlanCode: rec.PlanCode, Region: "US", PriceMicrocents: 1_200_000_000, Currency: "USD"}); err != nil {
		t.Fatal(err)
	}

	n, err := s.MarkPlansDiscontinued(ctx, "US", []string{rec.PlanCode})
	if err != nil || n != 1 {
		t.Fatalf("discontinued %d %v, want 1", n, err)
	}
	if res, _ := s.UpsertPlan(ctx, second); res != storage.PlanReactivated {
		t.Errorf("re-seen discontinued plan = %v", res)
	}

	n, err = s.MarkNewPlansActive(ctx, t0.Add(time.Hour))
	if err != nil || n != 0 {
		t.Errorf("upserted plans are already active, promoted %d %v", n, err)
	}

	plans, err := s.ListPlans(ctx, "US")
	if err != nil || len(plans) != 2 {
		t.Fatalf("plans = %d %v", len(plans), err)
	}
	p := plans[0]
	if p.PlanCode != rec.PlanCode || len(p.Datacenters) != 2 || p.Price == "" || !p.Enabled {
		t.Errorf("plan = %+v", p)
	}

	info, err := s.GetPlanInfo(ctx, rec.PlanCode, "US")
	if err != nil || info.DisplayName != "VPS-1" || info.Price == "" {
		t.Errorf("info = %+v %v", info, err)
	}
	if _, err := s.GetPlanInfo(ctx, "vps-missing", "US"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing plan err = %v", err)
	}

	if err := s.SetPlanEnabled(ctx, second.PlanCode, "US", false); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPlanEnabled(ctx, "vps-missing", "US", false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing plan err = %v", err)
	}
	targets, err := s.GetMonitoredTargets(ctx, "")
	if err != nil || len(targets) != 1 || targets[0].PlanCode != rec.PlanCode {
		t.Errorf("targets = %+v %v", targets, err)
	}
}

func TestListCurrentStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, avail := range []bool{true, false} {
		obs := storage.Observation{Datacenter: key.Datacenter, IsAvailable: avail, ObservedAt: t0.Add(time.Duration(i) * time.Minute)}
		if err := s.RecordObservation(ctx, key, obs); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.OpenOutOfStockInterval(ctx, key, t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordObservation(ctx, storage.Key{PlanCode: key.PlanCode, Region: "FR", Datacenter: "GRA"},
		storage.Observation{Datacenter: "GRA", IsAvailable: true, ObservedAt: t0}); err != nil {
		t.Fatal(err)
	}

	rows, err := s.ListCurrentStatus(ctx, "US")
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows = %+v %v", rows, err)
	}
	if rows[0].IsAvailable || rows[0].OutOfStockSince == nil || !rows[0].OutOfStockSince.Equal(t0.Add(time.Minute)) {
		t.Errorf("row = %+v", rows[0])
	}

	n, err := s.PruneObservations(ctx, t0.Add(30*time.Second))
	if err != nil || n != 2 {
		t.Errorf("pruned %d %v, want 2", n, err)
	}
}

func TestUpsertLocation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	loc := storage.Location{Code: "GRA", Region: "FR", DisplayName: "Gravelines", Country: "France", Area: "EU"}
	if err := s.UpsertLocation(ctx, loc); err != nil {
		t.Fatal(err)
	}
	loc.City = "Gravelines"
	if err := s.UpsertLocation(ctx, loc); err != nil {
		t.Fatal(err)
	}
	var city string
	if err := s.db.QueryRowContext(ctx, `SELECT city FROM datacenter_locations WHERE subsidiary = 'FR' AND code = 'GRA'`).Scan(&city); err != nil || city != "Gravelines" {
		t.Errorf("city = %q %v", city, err)
	}
}
