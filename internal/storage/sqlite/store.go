// Package sqlite implements storage.Store on an embedded SQLite file for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ovhwatch/stockwatch/internal/catalog"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

// Fixed-width UTC layout so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const defaultAttemptLimit = 100

// Store implements storage.Store for SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database file and runs migrations.
func New(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plans (
	plan_code       TEXT NOT NULL,
	subsidiary      TEXT NOT NULL,
	display_name    TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL DEFAULT '',
	purchase_url    TEXT NOT NULL DEFAULT '',
	vcpu            INTEGER NOT NULL DEFAULT 0,
	ram_gb          INTEGER NOT NULL DEFAULT 0,
	storage_gb      INTEGER NOT NULL DEFAULT 0,
	storage_type    TEXT NOT NULL DEFAULT '',
	bandwidth_mbps  INTEGER NOT NULL DEFAULT 0,
	description     TEXT NOT NULL DEFAULT '',
	orderable       INTEGER NOT NULL DEFAULT 1,
	visibility_tags TEXT NOT NULL DEFAULT '',
	product_line    TEXT NOT NULL DEFAULT '',
	datacenters     TEXT NOT NULL DEFAULT '',
	enabled         INTEGER NOT NULL DEFAULT 1,
	catalog_status  TEXT NOT NULL DEFAULT 'new',
	first_seen_at   TEXT NOT NULL,
	last_seen_at    TEXT NOT NULL,
	discontinued_at TEXT,
	PRIMARY KEY (plan_code, subsidiary)
);

CREATE TABLE IF NOT EXISTS plan_pricing (
	plan_code         TEXT NOT NULL,
	subsidiary        TEXT NOT NULL,
	commitment_months INTEGER NOT NULL DEFAULT 0,
	price_microcents  INTEGER NOT NULL,
	currency          TEXT NOT NULL DEFAULT 'USD',
	description       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (plan_code, subsidiary, commitment_months)
);

CREATE TABLE IF NOT EXISTS inventory_status (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_code       TEXT NOT NULL,
	subsidiary      TEXT NOT NULL,
	datacenter      TEXT NOT NULL,
	datacenter_code TEXT NOT NULL DEFAULT '',
	is_available    INTEGER NOT NULL,
	linux_status    TEXT NOT NULL DEFAULT '',
	raw_data        TEXT,
	checked_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_inventory_status_key
	ON inventory_status (plan_code, subsidiary, datacenter, checked_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_inventory_status_checked_at ON inventory_status (checked_at);

CREATE TABLE IF NOT EXISTS out_of_stock_tracking (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_code          TEXT NOT NULL,
	subsidiary         TEXT NOT NULL,
	datacenter         TEXT NOT NULL,
	out_of_stock_since TEXT NOT NULL,
	back_in_stock_at   TEXT,
	notified           INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_out_of_stock_open
	ON out_of_stock_tracking (plan_code, subsidiary, datacenter)
	WHERE back_in_stock_at IS NULL;

CREATE TABLE IF NOT EXISTS datacenter_locations (
	subsidiary   TEXT NOT NULL,
	code         TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL DEFAULT '',
	country_code TEXT NOT NULL DEFAULT '',
	flag         TEXT NOT NULL DEFAULT '',
	region       TEXT NOT NULL DEFAULT '',
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (subsidiary, code)
);

CREATE TABLE IF NOT EXISTS users (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	username  TEXT NOT NULL UNIQUE,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS user_webhooks (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id         INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	webhook_url     TEXT NOT NULL,
	webhook_type    TEXT NOT NULL DEFAULT 'discord',
	webhook_name    TEXT NOT NULL DEFAULT 'Personal Alert',
	bot_username    TEXT NOT NULL DEFAULT '',
	avatar_url      TEXT NOT NULL DEFAULT '',
	mention_role_id TEXT NOT NULL DEFAULT '',
	embed_color     TEXT NOT NULL DEFAULT '',
	slack_channel   TEXT NOT NULL DEFAULT '',
	include_price   INTEGER NOT NULL DEFAULT 1,
	is_active       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS user_subscriptions (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id             INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	plan_code           TEXT NOT NULL,
	subsidiary          TEXT,
	notify_on_available INTEGER NOT NULL DEFAULT 1,
	is_active           INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_user_subscriptions_plan ON user_subscriptions (plan_code);

CREATE TABLE IF NOT EXISTS notification_history (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id            INTEGER,
	webhook_id         INTEGER,
	is_default_webhook INTEGER NOT NULL DEFAULT 0,
	plan_code          TEXT NOT NULL,
	subsidiary         TEXT NOT NULL DEFAULT '',
	datacenter         TEXT NOT NULL,
	message            TEXT NOT NULL,
	success            INTEGER NOT NULL,
	error_message      TEXT,
	sent_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notification_history_sent_at ON notification_history (sent_at DESC);
`

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// --------------------------------------------------------------------------
// PlanRegistry
// --------------------------------------------------------------------------

func (s *Store) GetMonitoredTargets(ctx context.Context, region string) ([]storage.MonitoredTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT plan_code, subsidiary, display_name, url, purchase_url
FROM plans WHERE enabled = 1 AND (? = '' OR subsidiary = ?)
ORDER BY subsidiary, plan_code`, region, region)
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
		price    sql.NullInt64
		currency sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT p.plan_code, p.subsidiary, p.display_name, p.purchase_url, pr.price_microcents, pr.currency
FROM plans p
LEFT JOIN plan_pricing pr ON pr.plan_code = p.plan_code AND pr.subsidiary = p.subsidiary AND pr.commitment_months = 0
WHERE p.plan_code = ? AND p.subsidiary = ?`, planCode, region).Scan(
		&info.PlanCode, &info.Region, &info.DisplayName, &info.PurchaseURL, &price, &currency)
	if errors.Is(err, sql.ErrNoRows) {
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
	var (
		o         storage.Observation
		checkedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT datacenter, datacenter_code, is_available, linux_status, checked_at
FROM inventory_status WHERE plan_code = ? AND subsidiary = ? AND datacenter = ?
ORDER BY checked_at DESC, id DESC LIMIT 1`, key.PlanCode, key.Region, key.Datacenter).Scan(
		&o.Datacenter, &o.DatacenterCode, &o.IsAvailable, &o.RawStatus, &checkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last observation: %w", err)
	}
	o.ObservedAt = parseTime(checkedAt)
	return &o, nil
}

func (s *Store) RecordObservation(ctx context.Context, key storage.Key, obs storage.Observation) error {
	var raw any
	if len(obs.Raw) > 0 {
		raw = string(obs.Raw)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO inventory_status
	(plan_code, subsidiary, datacenter, datacenter_code, is_available, linux_status, raw_data, checked_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.PlanCode, key.Region, key.Datacenter, obs.DatacenterCode,
		obs.IsAvailable, obs.RawStatus, raw, formatTime(obs.ObservedAt))
	if err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return nil
}

func (s *Store) OpenOutOfStockInterval(ctx context.Context, key storage.Key, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO out_of_stock_tracking (plan_code, subsidiary, datacenter, out_of_stock_since)
VALUES (?, ?, ?, ?)
ON CONFLICT DO NOTHING`, key.PlanCode, key.Region, key.Datacenter, formatTime(at))
	if err != nil {
		return false, fmt.Errorf("open interval: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) CloseOutOfStockInterval(ctx context.Context, key storage.Key, at time.Time) (int, bool, error) {
	var started string
	err := s.db.QueryRowContext(ctx, `
UPDATE out_of_stock_tracking SET back_in_stock_at = ?
WHERE plan_code = ? AND subsidiary = ? AND datacenter = ? AND back_in_stock_at IS NULL
RETURNING out_of_stock_since`, formatTime(at), key.PlanCode, key.Region, key.Datacenter).Scan(&started)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("close interval: %w", err)
	}
	return storage.ElapsedMinutes(parseTime(started), at), true, nil
}

func (s *Store) MarkNotified(ctx context.Context, key storage.Key) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE out_of_stock_tracking SET notified = 1 WHERE id = (
	SELECT id FROM out_of_stock_tracking
	WHERE plan_code = ? AND subsidiary = ? AND datacenter = ? AND back_in_stock_at IS NOT NULL
	ORDER BY back_in_stock_at DESC LIMIT 1)`, key.PlanCode, key.Region, key.Datacenter)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// Intervals returns every interval recorded for key, oldest first.
func (s *Store) Intervals(ctx context.Context, key storage.Key) ([]storage.OutOfStockInterval, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, out_of_stock_since, back_in_stock_at, notified FROM out_of_stock_tracking
WHERE plan_code = ? AND subsidiary = ? AND datacenter = ? ORDER BY id`,
		key.PlanCode, key.Region, key.Datacenter)
	if err != nil {
		return nil, fmt.Errorf("query intervals: %w", err)
	}
	defer rows.Close()

	var out []storage.OutOfStockInterval
	for rows.Next() {
		iv := storage.OutOfStockInterval{Key: key}
		var (
			start string
			end   sql.NullString
		)
		if err := rows.Scan(&iv.ID, &start, &end, &iv.Notified); err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		iv.StartedAt = parseTime(start)
		iv.EndedAt = parseNullTime(end)
		out = append(out, iv)
	}
	return out, rows.Err()
}

// --------------------------------------------------------------------------
// ConfigStore / LocationStore
// --------------------------------------------------------------------------

func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

func (s *Store) UpsertLocation(ctx context.Context, l storage.Location) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO datacenter_locations
	(subsidiary, code, display_name, city, country, country_code, flag, region, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(subsidiary, code) DO UPDATE SET
	display_name = excluded.display_name, city = excluded.city, country = excluded.country,
	country_code = excluded.country_code, flag = excluded.flag, region = excluded.region,
	updated_at = excluded.updated_at`,
		l.Region, l.Code, l.DisplayName, l.City, l.Country, l.CountryCode, l.Flag, l.Area, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("upsert location %s: %w", l.Code, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// SubscriptionDirectory / HistoryStore
// --------------------------------------------------------------------------

func (s *Store) GetSubscribers(ctx context.Context, planCode, region string) ([]storage.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT u.id, w.id, w.webhook_url, w.webhook_type, w.webhook_name, w.bot_username,
	w.avatar_url, w.mention_role_id, w.embed_color, w.slack_channel, w.include_price
FROM user_subscriptions s
JOIN users u ON u.id = s.user_id AND u.is_active = 1
JOIN user_webhooks w ON w.user_id = u.id AND w.is_active = 1
WHERE s.plan_code = ? AND s.is_active = 1 AND s.notify_on_available = 1
	AND (s.subsidiary IS NULL OR s.subsidiary IN ('', 'ALL') OR s.subsidiary = ?)
ORDER BY u.id, w.id`, planCode, region)
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
	var errMsg any
	if a.Error != "" {
		errMsg = a.Error
	}
	sentAt := a.SentAt
	if sentAt.IsZero() {
		sentAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO notification_history
	(user_id, webhook_id, is_default_webhook, plan_code, subsidiary, datacenter, message, success, error_message, sent_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.WebhookID, a.IsDefault, a.PlanCode, a.Region, a.Datacenter,
		a.Message, a.Success, errMsg, formatTime(sentAt))
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
	var userID any
	if f.UserID != nil {
		userID = *f.UserID
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, webhook_id, is_default_webhook, plan_code, subsidiary, datacenter,
	message, success, COALESCE(error_message, ''), sent_at
FROM notification_history
WHERE (? IS NULL OR user_id = ?)
	AND (? = '' OR plan_code = ?)
	AND (? = '' OR subsidiary = ?)
ORDER BY sent_at DESC, id DESC LIMIT ?`,
		userID, userID, f.PlanCode, f.PlanCode, f.Region, f.Region, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []storage.NotificationAttempt
	for rows.Next() {
		var (
			a         storage.NotificationAttempt
			userID    sql.NullInt64
			webhookID sql.NullInt64
			sentAt    string
		)
		if err := rows.Scan(&a.ID, &userID, &webhookID, &a.IsDefault, &a.PlanCode, &a.Region,
			&a.Datacenter, &a.Message, &a.Success, &a.Error, &sentAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if userID.Valid {
			a.UserID = &userID.Int64
		}
		if webhookID.Valid {
			a.WebhookID = &webhookID.Int64
		}
		a.SentAt = parseTime(sentAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --------------------------------------------------------------------------
// CatalogStore
// --------------------------------------------------------------------------

func (s *Store) UpsertPlan(ctx context.Context, p storage.PlanRecord) (storage.UpsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT catalog_status FROM plans WHERE plan_code = ? AND subsidiary = ?`,
		p.PlanCode, p.Region).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup plan %s/%s: %w", p.Region, p.PlanCode, err)
	}

	now := formatTime(s.now())
	_, err = tx.ExecContext(ctx, `
INSERT INTO plans (plan_code, subsidiary, display_name, url, purchase_url, vcpu, ram_gb, storage_gb,
	storage_type, bandwidth_mbps, description, orderable, visibility_tags, product_line, datacenters,
	first_seen_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(plan_code, subsidiary) DO UPDATE SET
	display_name = COALESCE(NULLIF(excluded.display_name, ''), plans.display_name),
	url = excluded.url, purchase_url = excluded.purchase_url,
	vcpu = excluded.vcpu, ram_gb = excluded.ram_gb, storage_gb = excluded.storage_gb,
	storage_type = excluded.storage_type, bandwidth_mbps = excluded.bandwidth_mbps,
	description = excluded.description, orderable = excluded.orderable,
	visibility_tags = excluded.visibility_tags, product_line = excluded.product_line,
	datacenters = excluded.datacenters,
	catalog_status = 'active', last_seen_at = excluded.last_seen_at, discontinued_at = NULL`,
		p.PlanCode, p.Region, p.DisplayName, p.QueryURL, p.PurchaseURL, p.VCPU, p.RAMGB, p.StorageGB,
		p.StorageType, p.BandwidthMbps, p.Description, p.Orderable,
		strings.Join(p.VisibilityTags, ","), p.ProductLine, strings.Join(p.Datacenters, ","), now, now)
	if err != nil {
		return "", fmt.Errorf("upsert plan %s/%s: %w", p.Region, p.PlanCode, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
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
	_, err := s.db.ExecContext(ctx, `
INSERT INTO plan_pricing (plan_code, subsidiary, commitment_months, price_microcents, currency, description)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(plan_code, subsidiary, commitment_months) DO UPDATE SET
	price_microcents = excluded.price_microcents, currency = excluded.currency,
	description = excluded.description`,
		p.PlanCode, p.Region, p.CommitmentMonths, p.PriceMicrocents, p.Currency, p.Description)
	if err != nil {
		return fmt.Errorf("save pricing %s/%s: %w", p.Region, p.PlanCode, err)
	}
	return nil
}

func (s *Store) MarkPlansDiscontinued(ctx context.Context, region string, active []string) (int, error) {
	query := `UPDATE plans SET catalog_status = 'discontinued', discontinued_at = ?
WHERE subsidiary = ? AND catalog_status <> 'discontinued'`
	args := []any{formatTime(s.now()), region}
	if len(active) > 0 {
		query += ` AND plan_code NOT IN (?` + strings.Repeat(", ?", len(active)-1) + `)`
		for _, code := range active {
			args = append(args, code)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark discontinued: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) MarkNewPlansActive(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE plans SET catalog_status = 'active'
WHERE catalog_status = 'new' AND first_seen_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("mark new plans active: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --------------------------------------------------------------------------
// AdminStore / Pruner
// --------------------------------------------------------------------------

func (s *Store) ListPlans(ctx context.Context, region string) ([]storage.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT p.plan_code, p.subsidiary, p.display_name, p.url, p.purchase_url, p.vcpu, p.ram_gb,
	p.storage_gb, p.storage_type, p.bandwidth_mbps, p.description, p.orderable, p.visibility_tags,
	p.product_line, p.datacenters, p.enabled, p.catalog_status, p.first_seen_at, p.last_seen_at,
	p.discontinued_at, pr.price_microcents, pr.currency
FROM plans p
LEFT JOIN plan_pricing pr ON pr.plan_code = p.plan_code AND pr.subsidiary = p.subsidiary AND pr.commitment_months = 0
WHERE (? = '' OR p.subsidiary = ?)
ORDER BY p.subsidiary, p.plan_code`, region, region)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var out []storage.Plan
	for rows.Next() {
		var (
			p            storage.Plan
			tags, dcs    string
			first, last  string
			discontinued sql.NullString
			price        sql.NullInt64
			currency     sql.NullString
		)
		if err := rows.Scan(&p.PlanCode, &p.Region, &p.DisplayName, &p.QueryURL, &p.PurchaseURL,
			&p.VCPU, &p.RAMGB, &p.StorageGB, &p.StorageType, &p.BandwidthMbps, &p.Description,
			&p.Orderable, &tags, &p.ProductLine, &dcs, &p.Enabled, &p.CatalogStatus,
			&first, &last, &discontinued, &price, &currency); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		p.VisibilityTags = splitList(tags)
		p.Datacenters = splitList(dcs)
		p.FirstSeenAt = parseTime(first)
		p.LastSeenAt = parseTime(last)
		p.DiscontinuedAt = parseNullTime(discontinued)
		p.Price = formatPrice(price, currency)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SetPlanEnabled(ctx context.Context, planCode, region string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE plans SET enabled = ? WHERE plan_code = ? AND subsidiary = ?`,
		enabled, planCode, region)
	if err != nil {
		return fmt.Errorf("set plan enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListCurrentStatus(ctx context.Context, region string) ([]storage.StatusRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.plan_code, s.subsidiary, COALESCE(p.display_name, ''), s.datacenter, s.datacenter_code,
	s.is_available, s.linux_status, s.checked_at, o.out_of_stock_since
FROM (
	SELECT *, ROW_NUMBER() OVER (
		PARTITION BY plan_code, subsidiary, datacenter ORDER BY checked_at DESC, id DESC) AS rn
	FROM inventory_status WHERE (? = '' OR subsidiary = ?)
) s
LEFT JOIN plans p ON p.plan_code = s.plan_code AND p.subsidiary = s.subsidiary
LEFT JOIN out_of_stock_tracking o ON o.plan_code = s.plan_code AND o.subsidiary = s.subsidiary
	AND o.datacenter = s.datacenter AND o.back_in_stock_at IS NULL
WHERE s.rn = 1
ORDER BY s.subsidiary, s.plan_code, s.datacenter`, region, region)
	if err != nil {
		return nil, fmt.Errorf("query current status: %w", err)
	}
	defer rows.Close()

	var out []storage.StatusRow
	for rows.Next() {
		var (
			r         storage.StatusRow
			checkedAt string
			since     sql.NullString
		)
		if err := rows.Scan(&r.PlanCode, &r.Region, &r.DisplayName, &r.Datacenter, &r.DatacenterCode,
			&r.IsAvailable, &r.RawStatus, &checkedAt, &since); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		r.CheckedAt = parseTime(checkedAt)
		r.OutOfStockSince = parseNullTime(since)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) PruneObservations(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory_status WHERE checked_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune observations: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) PruneAttempts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_history WHERE sent_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}
	return res.RowsAffected()
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func formatPrice(price sql.NullInt64, currency sql.NullString) string {
	if !price.Valid || price.Int64 == 0 {
		return ""
	}
	cur := "USD"
	if currency.Valid && currency.String != "" {
		cur = currency.String
	}
	return catalog.FormatPrice(price.Int64, cur)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
