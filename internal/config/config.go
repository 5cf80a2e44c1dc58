// Package config provides centralized configuration loaded from environment
// variables. Shared by cmd/api and cmd/checker.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Checker defaults and bounds
// --------------------------------------------------------------------------

const (
	DefaultCheckInterval = 120 * time.Second
	MinCheckInterval     = 30 * time.Second
	MaxCheckInterval     = 3600 * time.Second

	DefaultThresholdMinutes = 60
	MinThresholdMinutes     = 1
	MaxThresholdMinutes     = 1440

	DefaultRegion = "US"
)

// Dynamic configuration keys stored in the config table.
const (
	KeyCheckInterval         = "check_interval_seconds"
	KeyNotificationThreshold = "notification_threshold_minutes"
	KeyMonitoredRegions      = "monitored_subsidiaries"
	KeyCatalogSyncedPrefix   = "catalog_last_synced_"

	KeyDefaultWebhookURL    = "default_webhook_url"
	KeyLegacyDiscordWebhook = "discord_webhook_url"
	KeyDefaultWebhookType   = "default_webhook_type"
	KeyDefaultBotUsername   = "default_bot_username"
	KeyDefaultAvatarURL     = "default_avatar_url"
	KeyDefaultEmbedColor    = "default_embed_color"
	KeyDefaultMentionRole   = "default_mention_role_id"
	KeyDefaultSlackChannel  = "default_slack_channel"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseDriver string // postgres | sqlite
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool
	LogLevel    slog.Level

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Admin auth (HS256 bearer tokens)
	JWTSecret string

	// Checker
	Region            string // single-region mode when set
	AgentID           string
	CheckInterval     time.Duration
	ThresholdMinutes  int
	TargetPause       time.Duration
	UpstreamRPM       int
	HTTPTimeout       time.Duration
	WebhookTimeout    time.Duration
	CatalogSyncEvery  time.Duration
	CatalogSyncOnBoot bool
	LocationsFile     string

	// Event publication
	NATSURL     string
	NATSSubject string
	PGNotify    bool

	// Maintenance
	StatusRetention  time.Duration
	HistoryRetention time.Duration

	// Cache
	CacheEnabled bool
	CacheTTL     time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	driver := strings.ToLower(envOr("DATABASE_DRIVER", "postgres"))
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", driver)
	}

	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		if driver != "sqlite" {
			return nil, fmt.Errorf("DATABASE_URL must be set")
		}
		dbURL = "stockwatch.db"
	}

	region := strings.ToUpper(strings.TrimSpace(envOr("SUBSIDIARY", "")))
	agentID := envOr("AGENT_ID", "")
	if agentID == "" {
		agentID = "checker-all"
		if region != "" {
			agentID = "checker-" + strings.ToLower(region)
		}
	}

	return &Config{
		DatabaseDriver: driver,
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),
		LogLevel:    envLevel("LOG_LEVEL", slog.LevelInfo),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		JWTSecret: envOr("JWT_SECRET", ""),

		Region:            region,
		AgentID:           agentID,
		CheckInterval:     ClampInterval(envDuration("CHECK_INTERVAL_SECONDS", DefaultCheckInterval)),
		ThresholdMinutes:  ClampThreshold(envInt("NOTIFICATION_THRESHOLD_MINUTES", DefaultThresholdMinutes)),
		TargetPause:       envMillis("TARGET_PAUSE_MS", time.Second),
		UpstreamRPM:       envInt("UPSTREAM_REQUESTS_PER_MINUTE", 120),
		HTTPTimeout:       envDuration("HTTP_TIMEOUT_SECONDS", 30*time.Second),
		WebhookTimeout:    envDuration("WEBHOOK_TIMEOUT_SECONDS", 10*time.Second),
		CatalogSyncEvery:  time.Duration(envInt("CATALOG_SYNC_HOURS", 24)) * time.Hour,
		CatalogSyncOnBoot: envBool("CATALOG_SYNC_ON_START", true),
		LocationsFile:     envOr("LOCATIONS_FILE", ""),

		NATSURL:     envOr("NATS_URL", ""),
		NATSSubject: envOr("NATS_SUBJECT", "stock.available"),
		PGNotify:    envBool("PG_NOTIFY_ENABLED", true),

		StatusRetention:  time.Duration(envInt("STATUS_RETENTION_DAYS", 30)) * 24 * time.Hour,
		HistoryRetention: time.Duration(envInt("HISTORY_RETENTION_DAYS", 90)) * 24 * time.Hour,

		CacheEnabled: envBool("CACHE_ENABLED", true),
		CacheTTL:     envDuration("CACHE_TTL_SECONDS", 30*time.Second),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ClampInterval bounds a poll interval to [30s, 3600s].
func ClampInterval(d time.Duration) time.Duration {
	return max(MinCheckInterval, min(d, MaxCheckInterval))
}

// ClampThreshold bounds a notification threshold to [1, 1440] minutes.
func ClampThreshold(m int) int {
	return max(MinThresholdMinutes, min(m, MaxThresholdMinutes))
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration reads a whole number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func envMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}

func envLevel(key string, fallback slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			return lvl
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
