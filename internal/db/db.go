// Package db provides a pgxpool-based connection pool with schema migration,
// prepared statement registration and health checking.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ovhwatch/stockwatch/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New migrates the schema and creates a validated connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Statements reference the tables, so the schema must exist first.
	if err := migrate(ctx, poolCfg.ConnConfig.Copy()); err != nil {
		return nil, err
	}

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

func migrate(ctx context.Context, connCfg *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// registerPreparedStatements registers all statements the checker and API
// use. Prepared statements eliminate parse overhead on every call.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Plan registry
		"monitored_targets": `SELECT plan_code, subsidiary, display_name, url, purchase_url
			FROM plans WHERE enabled AND ($1::text = '' OR subsidiary = $1)
			ORDER BY subsidiary, plan_code`,
		"plan_info": `SELECT p.plan_code, p.subsidiary, p.display_name, p.purchase_url, pr.price_microcents, pr.currency
			FROM plans p
			LEFT JOIN plan_pricing pr ON pr.plan_code = p.plan_code AND pr.subsidiary = p.subsidiary AND pr.commitment_months = 0
			WHERE p.plan_code = $1 AND p.subsidiary = $2`,

		// Status store
		"last_observation": `SELECT datacenter, datacenter_code, is_available, linux_status, checked_at
			FROM inventory_status WHERE plan_code = $1 AND subsidiary = $2 AND datacenter = $3
			ORDER BY checked_at DESC, id DESC LIMIT 1`,
		"record_observation": `INSERT INTO inventory_status
			(plan_code, subsidiary, datacenter, datacenter_code, is_available, linux_status, raw_data, checked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		"open_interval": `INSERT INTO out_of_stock_tracking (plan_code, subsidiary, datacenter, out_of_stock_since)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (plan_code, subsidiary, datacenter) WHERE back_in_stock_at IS NULL DO NOTHING`,
		"close_interval": `UPDATE out_of_stock_tracking SET back_in_stock_at = $4
			WHERE plan_code = $1 AND subsidiary = $2 AND datacenter = $3 AND back_in_stock_at IS NULL
			RETURNING out_of_stock_since`,
		"mark_notified": `UPDATE out_of_stock_tracking SET notified = TRUE WHERE id = (
			SELECT id FROM out_of_stock_tracking
			WHERE plan_code = $1 AND subsidiary = $2 AND datacenter = $3 AND back_in_stock_at IS NOT NULL
			ORDER BY back_in_stock_at DESC LIMIT 1)`,

		// Config
		"get_config": "SELECT value FROM config WHERE key = $1",
		"set_config": `INSERT INTO config (key, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,

		// Locations
		"upsert_location": `INSERT INTO datacenter_locations
			(subsidiary, code, display_name, city, country, country_code, flag, region, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (subsidiary, code) DO UPDATE SET
				display_name = EXCLUDED.display_name, city = EXCLUDED.city, country = EXCLUDED.country,
				country_code = EXCLUDED.country_code, flag = EXCLUDED.flag, region = EXCLUDED.region,
				updated_at = NOW()`,

		// Subscriptions and history
		"subscribers": `SELECT DISTINCT u.id, w.id, w.webhook_url, w.webhook_type, w.webhook_name, w.bot_username,
				w.avatar_url, w.mention_role_id, w.embed_color, w.slack_channel, w.include_price
			FROM user_subscriptions s
			JOIN users u ON u.id = s.user_id AND u.is_active
			JOIN user_webhooks w ON w.user_id = u.id AND w.is_active
			WHERE s.plan_code = $1 AND s.is_active AND s.notify_on_available
				AND (s.subsidiary IS NULL OR s.subsidiary IN ('', 'ALL') OR s.subsidiary = $2)
			ORDER BY u.id, w.id`,
		"record_attempt": `INSERT INTO notification_history
			(user_id, webhook_id, is_default_webhook, plan_code, subsidiary, datacenter, message, success, error_message, sent_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`,
		"list_attempts": `SELECT id, user_id, webhook_id, is_default_webhook, plan_code, subsidiary, datacenter,
				message, success, COALESCE(error_message, ''), sent_at
			FROM notification_history
			WHERE ($1::bigint IS NULL OR user_id = $1)
				AND ($2::text = '' OR plan_code = $2)
				AND ($3::text = '' OR subsidiary = $3)
			ORDER BY sent_at DESC, id DESC LIMIT $4`,

		// Catalog sync
		"upsert_plan": `WITH prev AS (
				SELECT catalog_status FROM plans WHERE plan_code = $1 AND subsidiary = $2
			)
			INSERT INTO plans (plan_code, subsidiary, display_name, url, purchase_url, vcpu, ram_gb, storage_gb,
				storage_type, bandwidth_mbps, description, orderable, visibility_tags, product_line, datacenters)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (plan_code, subsidiary) DO UPDATE SET
				display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), plans.display_name),
				url = EXCLUDED.url, purchase_url = EXCLUDED.purchase_url,
				vcpu = EXCLUDED.vcpu, ram_gb = EXCLUDED.ram_gb, storage_gb = EXCLUDED.storage_gb,
				storage_type = EXCLUDED.storage_type, bandwidth_mbps = EXCLUDED.bandwidth_mbps,
				description = EXCLUDED.description, orderable = EXCLUDED.orderable,
				visibility_tags = EXCLUDED.visibility_tags, product_line = EXCLUDED.product_line,
				datacenters = EXCLUDED.datacenters,
				catalog_status = 'active', last_seen_at = NOW(), discontinued_at = NULL
			RETURNING COALESCE((SELECT catalog_status FROM prev), '')`,
		"save_pricing": `INSERT INTO plan_pricing
			(plan_code, subsidiary, commitment_months, price_microcents, currency, description, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (plan_code, subsidiary, commitment_months) DO UPDATE SET
				price_microcents = EXCLUDED.price_microcents, currency = EXCLUDED.currency,
				description = EXCLUDED.description, updated_at = NOW()`,
		"mark_discontinued": `UPDATE plans SET catalog_status = 'discontinued', discontinued_at = NOW()
			WHERE subsidiary = $1 AND catalog_status <> 'discontinued' AND NOT (plan_code = ANY($2::text[]))`,
		"mark_new_active": `UPDATE plans SET catalog_status = 'active'
			WHERE catalog_status = 'new' AND first_seen_at < $1`,

		// Admin API
		"list_plans": `SELECT p.plan_code, p.subsidiary, p.display_name, p.url, p.purchase_url, p.vcpu, p.ram_gb,
				p.storage_gb, p.storage_type, p.bandwidth_mbps, p.description, p.orderable, p.visibility_tags,
				p.product_line, p.datacenters, p.enabled, p.catalog_status, p.first_seen_at, p.last_seen_at,
				p.discontinued_at, pr.price_microcents, pr.currency
			FROM plans p
			LEFT JOIN plan_pricing pr ON pr.plan_code = p.plan_code AND pr.subsidiary = p.subsidiary AND pr.commitment_months = 0
			WHERE ($1::text = '' OR p.subsidiary = $1)
			ORDER BY p.subsidiary, p.plan_code`,
		"set_plan_enabled": "UPDATE plans SET enabled = $3 WHERE plan_code = $1 AND subsidiary = $2",
		"current_status": `SELECT DISTINCT ON (s.subsidiary, s.plan_code, s.datacenter)
				s.plan_code, s.subsidiary, COALESCE(p.display_name, ''), s.datacenter, s.datacenter_code,
				s.is_available, s.linux_status, s.checked_at, o.out_of_stock_since
			FROM inventory_status s
			LEFT JOIN plans p ON p.plan_code = s.plan_code AND p.subsidiary = s.subsidiary
			LEFT JOIN out_of_stock_tracking o ON o.plan_code = s.plan_code AND o.subsidiary = s.subsidiary
				AND o.datacenter = s.datacenter AND o.back_in_stock_at IS NULL
			WHERE ($1::text = '' OR s.subsidiary = $1)
			ORDER BY s.subsidiary, s.plan_code, s.datacenter, s.checked_at DESC, s.id DESC`,

		// Maintenance
		"prune_observations": "DELETE FROM inventory_status WHERE checked_at < $1",
		"prune_attempts":     "DELETE FROM notification_history WHERE sent_at < $1",

		// Events
		"notify_event": "SELECT pg_notify($1, $2)",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
