package maintenance

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ovhwatch/stockwatch/internal/storage"
	"github.com/ovhwatch/stockwatch/internal/testutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func seed(now time.Time) *testutil.MemStore {
	s := testutil.NewMemStore()
	key := storage.Key{PlanCode: "vps-2025-model1", Region: "US", Datacenter: "US-EAST-VA"}
	s.Observations[key] = []storage.Observation{
		{Datacenter: key.Datacenter, ObservedAt: now.Add(-40 * 24 * time.Hour)},
		{Datacenter: key.Datacenter, ObservedAt: now.Add(-31 * 24 * time.Hour)},
		{Datacenter: key.Datacenter, ObservedAt: now.Add(-time.Hour)},
	}
	s.Attempts = []storage.NotificationAttempt{
		{PlanCode: key.PlanCode, SentAt: now.Add(-100 * 24 * time.Hour)},
		{PlanCode: key.PlanCode, SentAt: now.Add(-24 * time.Hour)},
	}
	return s
}

func TestCleanup(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s := seed(now)

	res := Cleanup(context.Background(), s, DefaultConfig(), now, quiet)
	if res.Observations != 2 || res.Attempts != 1 {
		t.Errorf("result = %+v, want 2 observations and 1 attempt", res)
	}
	key := storage.Key{PlanCode: "vps-2025-model1", Region: "US", Datacenter: "US-EAST-VA"}
	if n := s.ObservationCount(key); n != 1 {
		t.Errorf("observations left = %d", n)
	}
}

func TestCleanupZeroRetentionKeepsHistory(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s := seed(now)
	cfg := DefaultConfig()
	cfg.HistoryRetention = 0

	res := Cleanup(context.Background(), s, cfg, now, quiet)
	if res.Attempts != 0 || len(s.AttemptsSnapshot()) != 2 {
		t.Errorf("history pruned with zero retention: %+v", res)
	}
}

func TestCleanupContinuesAfterFailure(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s := seed(now)
	s.SetFail("PruneObservations", nil)

	res := Cleanup(context.Background(), s, DefaultConfig(), now, quiet)
	if res.Observations != 0 || res.Attempts != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestPromoteNewPlans(t *testing.T) {
	s := testutil.NewMemStore()
	ctx := context.Background()
	if _, err := s.UpsertPlan(ctx, storage.PlanRecord{PlanCode: "vps-2025-model1", Region: "US"}); err != nil {
		t.Fatal(err)
	}

	if n := PromoteNewPlans(ctx, s, DefaultConfig(), time.Now(), quiet); n != 0 {
		t.Errorf("fresh plan promoted: %d", n)
	}
	if n := PromoteNewPlans(ctx, s, DefaultConfig(), time.Now().Add(2*time.Hour), quiet); n != 1 {
		t.Errorf("promoted %d, want 1", n)
	}
}
