package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovhwatch/stockwatch/internal/api/handler"
	"github.com/ovhwatch/stockwatch/internal/cache"
	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/storage"
	"github.com/ovhwatch/stockwatch/internal/testutil"
)

const secret = "test-secret"

type fakeValidator struct{ err error }

func (f fakeValidator) Validate(_ context.Context, rawURL, explicitType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if explicitType != "" {
		return explicitType, nil
	}
	return "discord", nil
}

type fakeTester struct {
	err  error
	sent []storage.Endpoint
}

func (f *fakeTester) SendTest(_ context.Context, ep storage.Endpoint) error {
	f.sent = append(f.sent, ep)
	return f.err
}

type fixture struct {
	store   *testutil.MemStore
	handler *handler.Handler
	tester  *fakeTester
	srv     http.Handler
}

func testConfig() *config.Config {
	return &config.Config{
		DatabaseDriver:   "sqlite",
		CORSAllowOrigins: []string{"http://localhost:3000"},
		JWTSecret:        secret,
		CheckInterval:    2 * time.Minute,
		ThresholdMinutes: 60,
		CacheTTL:         30 * time.Second,
	}
}

func newFixture(t *testing.T, cfg *config.Config, validator handler.Validator) *fixture {
	t.Helper()
	store := testutil.NewMemStore()
	tester := &fakeTester{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.New(store, cache.New(true), cfg, validator, tester, logger)
	return &fixture{store: store, handler: h, tester: tester, srv: NewRouter(h, cfg)}
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func adminToken(t *testing.T) string {
	return token(t, jwt.MapClaims{"sub": "ops", "admin": true, "exp": time.Now().Add(time.Hour).Unix()})
}

func (f *fixture) do(method, path, body, bearer string, header ...string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, testConfig(), fakeValidator{})

	if rec := f.do("GET", "/health/", "", ""); rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}
	if rec := f.do("GET", "/health/db", "", ""); rec.Code != http.StatusOK {
		t.Errorf("/health/db = %d", rec.Code)
	}
	f.store.SetFail("HealthCheck", nil)
	if rec := f.do("GET", "/health/db", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health/db with failing store = %d", rec.Code)
	}
	rec := f.do("GET", "/health/cache", "", "")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Process-Time") == "" {
		t.Errorf("/health/cache = %d headers=%v", rec.Code, rec.Header())
	}
}

func TestStatusCachingAndInvalidation(t *testing.T) {
	f := newFixture(t, testConfig(), fakeValidator{})
	key := storage.Key{PlanCode: "vps-2025-model1", Region: "US", Datacenter: "US-EAST-VA"}
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	f.store.Observations[key] = []storage.Observation{{Datacenter: key.Datacenter, IsAvailable: false, ObservedAt: t0}}

	first := f.do("GET", "/api/v1/status?region=us", "", "")
	if first.Code != http.StatusOK || first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first = %d %s", first.Code, first.Header().Get("X-Cache"))
	}
	var rows []storage.StatusRow
	if err := json.Unmarshal(first.Body.Bytes(), &rows); err != nil || len(rows) != 1 || rows[0].IsAvailable {
		t.Fatalf("rows = %+v %v", rows, err)
	}
	etag := first.Header().Get("ETag")

	second := f.do("GET", "/api/v1/status?region=US", "", "", "If-None-Match", etag)
	if second.Code != http.StatusNotModified {
		t.Errorf("conditional GET = %d, want 304", second.Code)
	}

	f.store.Observations[key] = append(f.store.Observations[key],
		storage.Observation{Datacenter: key.Datacenter, IsAvailable: true, ObservedAt: t0.Add(time.Hour)})
	if cached := f.do("GET", "/api/v1/status?region=US", "", ""); cached.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected cached response before invalidation")
	}

	if n := f.handler.InvalidateStock(); n != 1 {
		t.Errorf("invalidated %d keys, want 1", n)
	}
	third := f.do("GET", "/api/v1/status?region=US", "", "", "If-None-Match", etag)
	if third.Code != http.StatusOK || third.Header().Get("ETag") == etag {
		t.Fatalf("after invalidation = %d etag=%s", third.Code, third.Header().Get("ETag"))
	}
	rows = nil
	if err := json.Unmarshal(third.Body.Bytes(), &rows); err != nil || !rows[0].IsAvailable {
		t.Errorf("fresh rows = %+v %v", rows, err)
	}
}

func TestUnknownRegion(t *testing.T) {
	f := newFixture(t, testConfig(), fakeValidator{})
	for _, path := range []string{"/api/v1/status?region=XX", "/api/v1/plans?region=mars"} {
		if rec := f.do("GET", path, "", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s = %d", path, rec.Code)
		}
	}
}

func TestRegionsAndPlans(t *testing.T) {
	f := newFixture(t, testConfig(), fakeValidator{})
	if _, err := f.store.UpsertPlan(context.Background(), storage.PlanRecord{PlanCode: "vps-2025-model1", Region: "US"}); err != nil {
		t.Fatal(err)
	}

	rec := f.do("GET", "/api/v1/regions", "", "")
	var regions []handler.RegionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &regions); err != nil || len(regions) == 0 || regions[0].Code != "US" {
		t.Errorf("regions = %+v %v", regions, err)
	}

	rec = f.do("GET", "/api/v1/plans", "", "")
	var plans []storage.Plan
	if err := json.Unmarshal(rec.Body.Bytes(), &plans); err != nil || len(plans) != 1 {
		t.Errorf("plans = %+v %v", plans, err)
	}
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t, testConfig(), fakeValidator{})
	path := "/api/v1/admin/settings/checker"

	tests := []struct {
		name   string
		bearer string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"admin": true}).SignedString([]byte("other"))
			return s
		}(), http.StatusUnauthorized},
		{"expired", token(t, jwt.MapClaims{"admin": true, "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"not admin", token(t, jwt.MapClaims{"sub": "user"}), http.StatusForbidden},
		{"admin", adminToken(t), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do("GET", path, "", tt.bearer); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	cfg := testConfig()
	cfg.JWTSecret = ""
	disabled := newFixture(t, cfg, fakeValidator{})
	if rec := disabled.do("GET", path, "", adminToken(t)); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("admin without secret = %d, want 503", rec.Code)
	}
}

func TestCheckerSettings(t *testing.T) {
	f := newFixture(t, testConfig(), fakeValidator{})
	tok := adminToken(t)
	path := "/api/v1/admin/settings/checker"

	var got handler.CheckerSettings
	rec := f.do("GET", path, "", tok)
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.CheckIntervalSeconds != 120 || got.NotificationThresholdMinutes != 60 || len(got.MonitoredRegions) != 1 {
		t.Errorf("defaults = %+v", got)
	}

	rec = f.do("PUT", path, `{"check_interval_seconds":300,"monitored_regions":["us"," fr"]}`, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT = %d %s", rec.Code, rec.Body)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.CheckIntervalSeconds != 300 || got.NotificationThresholdMinutes != 60 || strings.Join(got.MonitoredRegions, ",") != "US,FR" {
		t.Errorf("updated = %+v", got)
	}
	if f.store.Config[config.KeyCheckInterval] != "300" || f.store.Config[config.KeyMonitoredRegions] != "US,FR" {
		t.Errorf("config = %v", f.store.Config)
	}

	bad := []string{
		`{"check_interval_seconds":10}`,
		`{"notification_threshold_minutes":0}`,
		`{"monitored_regions":["XX"]}`,
		`{"unknown":1}`,
		`not json`,
	}
	for _, body := range bad {
		if rec := f.do("PUT", path, body, tok); rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %s = %d, want 400", body, rec.Code)
		}
	}
}

func TestPlanEnabled(t *testing.T) {
	f := newFixture(t, testConfig(), fakeValidator{})
	tok := adminToken(t)
	if _, err := f.store.UpsertPlan(context.Background(), storage.PlanRecord{PlanCode: "vps-2025-model1", Region: "US"}); err != nil {
		t.Fatal(err)
	}

	rec := f.do("PUT", "/api/v1/admin/plans/us/vps-2025-model1/enabled", `{"enabled":false}`, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle = %d %s", rec.Code, rec.Body)
	}
	targets, _ := f.store.GetMonitoredTargets(context.Background(), "US")
	if len(targets) != 0 {
		t.Errorf("disabled plan still monitored: %+v", targets)
	}

	if rec := f.do("PUT", "/api/v1/admin/plans/US/vps-missing/enabled", `{"enabled":true}`, tok); rec.Code != http.StatusNotFound {
		t.Errorf("missing plan = %d", rec.Code)
	}
	if rec := f.do("PUT", "/api/v1/admin/plans/XX/vps-2025-model1/enabled", `{"enabled":true}`, tok); rec.Code != http.StatusBadRequest {
		t.Errorf("bad region = %d", rec.Code)
	}
}

func TestNotificationHistory(t *testing.T) {
	f := newFixture(t, testConfig(), fakeValidator{})
	tok := adminToken(t)
	uid := int64(4)
	now := time.Now().UTC()
	f.store.Attempts = []storage.NotificationAttempt{
		{ID: 1, IsDefault: true, PlanCode: "vps-2025-model1", Region: "US", Success: true, SentAt: now},
		{ID: 2, UserID: &uid, PlanCode: "vps-2025-model1", Region: "US", Error: "boom", SentAt: now.Add(time.Second)},
	}

	rec := f.do("GET", "/api/v1/admin/notifications?user_id=4", "", tok)
	var got []storage.NotificationAttempt
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || len(got) != 1 || got[0].ID != 2 {
		t.Errorf("filtered = %+v %v", got, err)
	}
	if rec := f.do("GET", "/api/v1/admin/notifications?user_id=abc", "", tok); rec.Code != http.StatusBadRequest {
		t.Errorf("bad user_id = %d", rec.Code)
	}
}

func TestWebhookValidateAndTest(t *testing.T) {
	f := newFixture(t, testConfig(), fakeValidator{})
	tok := adminToken(t)

	rec := f.do("POST", "/api/v1/admin/webhooks/validate", `{"url":"https://discord.com/api/webhooks/1/x"}`, tok)
	var v handler.WebhookValidation
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil || !v.Valid || v.Type != "discord" {
		t.Errorf("validate = %+v %v", v, err)
	}

	rec = f.do("POST", "/api/v1/admin/webhooks/test", `{"url":"https://hooks.slack.com/services/a","type":"slack","slack_channel":"#ops"}`, tok)
	if rec.Code != http.StatusOK || len(f.tester.sent) != 1 {
		t.Fatalf("test = %d sent=%d", rec.Code, len(f.tester.sent))
	}
	if ep := f.tester.sent[0]; ep.Type != "slack" || ep.SlackChannel != "#ops" {
		t.Errorf("endpoint = %+v", ep)
	}

	f.tester.err = errors.New("slack API returned 404: no_service")
	if rec := f.do("POST", "/api/v1/admin/webhooks/test", `{"url":"https://hooks.slack.com/services/a"}`, tok); rec.Code != http.StatusBadGateway {
		t.Errorf("failed delivery = %d", rec.Code)
	}
	if rec := f.do("POST", "/api/v1/admin/webhooks/test", `{}`, tok); rec.Code != http.StatusBadRequest {
		t.Errorf("missing url = %d", rec.Code)
	}

	rejecting := newFixture(t, testConfig(), fakeValidator{err: errors.New("unsafe webhook destination: 10.0.0.1")})
	rec = rejecting.do("POST", "/api/v1/admin/webhooks/validate", `{"url":"https://internal.example"}`, tok)
	v = handler.WebhookValidation{}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil || v.Valid || v.Error == "" {
		t.Errorf("rejected validate = %+v %v", v, err)
	}
	if rec := rejecting.do("POST", "/api/v1/admin/webhooks/test", `{"url":"https://internal.example"}`, tok); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("rejected test = %d", rec.Code)
	}
	if len(rejecting.tester.sent) != 0 {
		t.Error("rejected webhook was contacted")
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitEnabled = true
	cfg.RateLimitRequests = 4
	cfg.RateLimitWindow = time.Minute
	f := newFixture(t, cfg, fakeValidator{})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do("GET", "/health/", "", "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want burst of 2 then 429", codes)
	}
}
