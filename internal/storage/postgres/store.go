// Package postgres implements storage.Store on PostgreSQL through the
// prepared statements registered by package db.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ovhwatch/stockwatch/internal/catalog"
	"github.com/ovhwatch/stockwatch/internal/db"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

const defaultAttemptLimit = 100

// Store is the PostgreSQL storage.Store.
type Store struct {
	pool *db.Pool
}

// New wraps an open pool.
func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

var _ storage.Store = (*Store)(nil)

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// HealthCheck verifies the database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.HealthCheck(ctx)
}

// --------------------------------------------------------------------------
// PlanRegistry
// --------------------------------------------------------------------------

func (s *Store) GetMonitoredTargets(ctx context.Context, region string) ([]storage.MonitoredTarget, error) {
	rows, err := s.pool.Query(ctx, "monitored_targets", region)
	if err != nil {
		return nil, fmt.Errorf("query monitored targets: %w", err)
	}
	defer rows.Close()

	var out []storage.MonitoredTarget
	for rows.Next() {
		t := storage.MonitoredTarget{Enabled: true}
		if err := rows.Scan(&t.PlanCode, &t.Region, &t.DisplayName, &t.QueryURL, &t.PurchaseURL); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetPlanInfo(ctx context.Context, planCode, region string) (*storage.PlanInfo, error) {
	var (
		info     storage.PlanInfo
		price    *int64
		currency *string
	)
	err := s.pool.QueryRow(ctx, "plan_info", planCode, region).Scan(
		&info.PlanCode, &info.Region, &info.DisplayName, &info.PurchaseURL, &price, &currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan info: %w", err)
	}
	info.Price = formatPrice(price, currency)
	return &info, nil
}

// --------------------------------------------------------------------------
// StatusStore
// --------------------------------------------------------------------------

func (s *Store) GetLastObservation(ctx context.Context, key storage.Key) (*storage.Observation, error) {
	var o storage.Observation
	err := s.pool.QueryRow(ctx, "last_observation", key.PlanCode, key.Region, key.Datacenter).Scan(
		&o.Datacenter, &o.DatacenterCode, &o.IsAvailable, &o.RawStatus, &o.ObservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last observation: %w", err)
	}
	return &o, nil
}

func (s *Store) RecordObservation(ctx context.Context, key storage.Key, obs storage.Observation) error {
	_, err := s.pool.Exec(ctx, "record_observation",
		key.PlanCode, key.Region, key.Datacenter, obs.DatacenterCode,
		obs.IsAvailable, obs.RawStatus, rawJSON(obs.Raw), obs.ObservedAt)
	if err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return nil
}

func (s *Store) OpenOutOfStockInterval(ctx context.Context, key storage.Key, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, "open_interval", key.PlanCode, key.Region, key.Datacenter, at)
	if err != nil {
		return false, fmt.Errorf("open interval: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CloseOutOfStockInterval(ctx context.Context, key storage.Key, at time.Time) (int, bool, error) {
	var started time.Time
	err := s.pool.QueryRow(ctx, "close_interval", key.PlanCode, key.Region, key.Datacenter, at).Scan(&started)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("close interval: %w", err)
	}
	return storage.ElapsedMinutes(started, at), true, nil
}

func (s *Store) MarkNotified(ctx context.Context, key storage.Key) error {
	if _, err := s.pool.Exec(ctx, "mark_notified", key.PlanCode, key.Region, key.Datacenter); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// ConfigStore / LocationStore
// --------------------------------------------------------------------------

func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, "get_config", key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	if _, err := s.pool.Exec(ctx, "set_config", key, value); err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

func (s *Store) UpsertLocation(ctx context.Context, l storage.Location) error {
	_, err := s.pool.Exec(ctx, "upsert_location",
		l.Region, l.Code, l.DisplayName, l.City, l.Country, l.CountryCode, l.Flag, l.Area)
	if err != nil {
		return fmt.Errorf("upsert location %s: %w", l.Code, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// SubscriptionDirectory / HistoryStore
// --------------------------------------------------------------------------

func (s *Store) GetSubscribers(ctx context.Context, planCode, region string) ([]storage.Recipient, error) {
	rows, err := s.pool.Query(ctx, "subscribers", planCode, region)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var out []storage.Recipient
	for rows.Next() {
		var r storage.Recipient
		ep := &r.Endpoint
		if err := rows.Scan(&r.UserID, &r.WebhookID, &ep.URL, &ep.Type, &ep.Name, &ep.BotUsername,
			&ep.AvatarURL, &ep.MentionRoleID, &ep.EmbedColor, &ep.SlackChannel, &ep.IncludePrice); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) RecordAttempt(ctx context.Context, a storage.NotificationAttempt) error {
	_, err := s.pool.Exec(ctx, "record_attempt",
		a.UserID, a.WebhookID, a.IsDefault, a.PlanCode, a.Region, a.Datacenter,
		a.Message, a.Success, a.Error, a.SentAt)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, f storage.AttemptFilter) ([]storage.NotificationAttempt, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultAttemptLimit
	}
	rows, err := s.pool.Query(ctx, "list_attempts", f.UserID, f.PlanCode, f.Region, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []storage.NotificationAttempt
	for rows.Next() {
		var a storage.NotificationAttempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.WebhookID, &a.IsDefault, &a.PlanCode, &a.Region,
			&a.Datacenter, &a.Message, &a.Success, &a.Error, &a.SentAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --------------------------------------------------------------------------
// CatalogStore
// --------------------------------------------------------------------------

func (s *Store) UpsertPlan(ctx context.Context, p storage.PlanRecord) (storage.UpsertResult, error) {
	var prev string
	err := s.pool.QueryRow(ctx, "upsert_plan",
		p.PlanCode, p.Region, p.DisplayName, p.QueryURL, p.PurchaseURL, p.VCPU, p.RAMGB, p.StorageGB,
		p.StorageType, p.BandwidthMbps, p.Description, p.Orderable,
		strings.Join(p.VisibilityTags, ","), p.ProductLine, strings.Join(p.Datacenters, ","),
	).Scan(&prev)
	if err != nil {
		return "", fmt.Errorf("upsert plan %s/%s: %w", p.Region, p.PlanCode, err)
	}
	switch prev {
	case "":
		return storage.PlanAdded, nil
	case storage.CatalogDiscontinued:
		return storage.PlanReactivated, nil
	default:
		return storage.PlanUpdated, nil
	}
}

func (s *Store) SavePricing(ctx context.Context, p storage.Pricing) error {
	_, err := s.pool.Exec(ctx, "save_pricing",
		p.PlanCode, p.Region, p.CommitmentMonths, p.PriceMicrocents, p.Currency, p.Description)
	if err != nil {
		return fmt.Errorf("save pricing %s/%s: %w", p.Region, p.PlanCode, err)
	}
	return nil
}

func (s *Store) MarkPlansDiscontinued(ctx context.Context, region string, active []string) (int, error) {
	if active == nil {
		active = []string{}
	}
	tag, err := s.pool.Exec(ctx, "mark_discontinued", region, active)
	if err != nil {
		return 0, fmt.Errorf("mark discontinued: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) MarkNewPlansActive(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, "mark_new_active", cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark new plans active: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --------------------------------------------------------------------------
// AdminStore / Pruner
// --------------------------------------------------------------------------

func (s *Store) ListPlans(ctx context.Context, region string) ([]storage.Plan, error) {
	rows, err := s.pool.Query(ctx, "list_plans", region)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var out []storage.Plan
	for rows.Next() {
		var (
			p         storage.Plan
			tags, dcs string
			price     *int64
			currency  *string
		)
		if err := rows.Scan(&p.PlanCode, &p.Region, &p.DisplayName, &p.QueryURL, &p.PurchaseURL,
			&p.VCPU, &p.RAMGB, &p.StorageGB, &p.StorageType, &p.BandwidthMbps, &p.Description,
			&p.Orderable, &tags, &p.ProductLine, &dcs, &p.Enabled, &p.CatalogStatus,
			&p.FirstSeenAt, &p.LastSeenAt, &p.DiscontinuedAt, &price, &currency); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		p.VisibilityTags = splitList(tags)
		p.Datacenters = splitList(dcs)
		p.Price = formatPrice(price, currency)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SetPlanEnabled(ctx context.Context, planCode, region string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, "set_plan_enabled", planCode, region, enabled)
	if err != nil {
		return fmt.Errorf("set plan enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListCurrentStatus(ctx context.Context, region string) ([]storage.StatusRow, error) {
	rows, err := s.pool.Query(ctx, "current_status", region)
	if err != nil {
		return nil, fmt.Errorf("query current status: %w", err)
	}
	defer rows.Close()

	var out []storage.StatusRow
	for rows.Next() {
		var r storage.StatusRow
		if err := rows.Scan(&r.PlanCode, &r.Region, &r.DisplayName, &r.Datacenter, &r.DatacenterCode,
			&r.IsAvailable, &r.RawStatus, &r.CheckedAt, &r.OutOfStockSince); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) PruneObservations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "prune_observations", before)
	if err != nil {
		return 0, fmt.Errorf("prune observations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PruneAttempts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "prune_attempts", before)
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func rawJSON(raw json.RawMessage) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}

func formatPrice(price *int64, currency *string) string {
	if price == nil || *price == 0 {
		return ""
	}
	cur := "USD"
	if currency != nil && *currency != "" {
		cur = *currency
	}
	return catalog.FormatPrice(*price, cur)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
