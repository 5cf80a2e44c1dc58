package checker

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

// Settings are the runtime knobs re-read at the start of every cycle.
type Settings struct {
	Interval         time.Duration
	ThresholdMinutes int
}

// SettingsResolver reads Settings from the config table, falling back to
// static defaults when a key is missing, unreadable or not an integer.
// Parsed values are clamped to their bounds.
type SettingsResolver struct {
	store    storage.ConfigStore
	defaults Settings
	logger   *slog.Logger
}

// NewSettingsResolver creates a resolver. The defaults are clamped too.
func NewSettingsResolver(store storage.ConfigStore, defaults Settings, logger *slog.Logger) *SettingsResolver {
	if logger == nil {
		logger = slog.Default()
	}
	defaults.Interval = config.ClampInterval(defaults.Interval)
	defaults.ThresholdMinutes = config.ClampThreshold(defaults.ThresholdMinutes)
	return &SettingsResolver{store: store, defaults: defaults, logger: logger}
}

// Defaults returns the clamped static settings.
func (r *SettingsResolver) Defaults() Settings {
	return r.defaults
}

// Resolve never fails.
func (r *SettingsResolver) Resolve(ctx context.Context) Settings {
	s := r.defaults
	if secs, ok := r.readInt(ctx, config.KeyCheckInterval); ok {
		s.Interval = config.ClampInterval(time.Duration(secs) * time.Second)
	}
	if mins, ok := r.readInt(ctx, config.KeyNotificationThreshold); ok {
		s.ThresholdMinutes = config.ClampThreshold(mins)
	}
	return s
}

func (r *SettingsResolver) readInt(ctx context.Context, key string) (int, bool) {
	if r.store == nil {
		return 0, false
	}
	raw, ok, err := r.store.GetConfig(ctx, key)
	if err != nil {
		r.logger.Warn("Config read failed, using default", "key", key, "error", err)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		r.logger.Warn("Config value is not an integer, using default", "key", key, "value", raw)
		return 0, false
	}
	return n, true
}
