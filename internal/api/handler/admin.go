package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ovhwatch/stockwatch/internal/api/respond"
	"github.com/ovhwatch/stockwatch/internal/catalog"
	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

const maxAttemptLimit = 500

// --------------------------------------------------------------------------
// Checker settings
// --------------------------------------------------------------------------

// CheckerSettings is the effective dynamic checker configuration.
type CheckerSettings struct {
	CheckIntervalSeconds         int      `json:"check_interval_seconds"`
	NotificationThresholdMinutes int      `json:"notification_threshold_minutes"`
	MonitoredRegions             []string `json:"monitored_regions"`
}

// UpdateCheckerSettings is a partial update; nil fields are left alone.
type UpdateCheckerSettings struct {
	CheckIntervalSeconds         *int     `json:"check_interval_seconds,omitempty"`
	NotificationThresholdMinutes *int     `json:"notification_threshold_minutes,omitempty"`
	MonitoredRegions             []string `json:"monitored_regions,omitempty"`
}

// GetCheckerSettings returns the settings checkers will use next cycle.
// @Summary Get checker settings
// @Description Returns the effective poll interval, notification threshold and monitored regions after clamping and defaults.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} CheckerSettings
// @Failure 401 {object} respond.ErrorResponse
// @Router /admin/settings/checker [get]
func (h *Handler) GetCheckerSettings(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, h.currentSettings(r))
}

// PutCheckerSettings updates dynamic checker settings.
// @Summary Update checker settings
// @Description Stores new values in the config table. Checkers pick them up at the start of their next cycle.
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body UpdateCheckerSettings true "Fields to change"
// @Success 200 {object} CheckerSettings
// @Failure 400 {object} respond.ErrorResponse
// @Failure 401 {object} respond.ErrorResponse
// @Router /admin/settings/checker [put]
func (h *Handler) PutCheckerSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateCheckerSettings
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Malformed request body", err.Error())
		return
	}

	updates := map[string]string{}
	if v := req.CheckIntervalSeconds; v != nil {
		d := time.Duration(*v) * time.Second
		if d < config.MinCheckInterval || d > config.MaxCheckInterval {
			respond.WriteError(w, http.StatusBadRequest, "OUT_OF_RANGE", "check_interval_seconds must be between 30 and 3600")
			return
		}
		updates[config.KeyCheckInterval] = strconv.Itoa(*v)
	}
	if v := req.NotificationThresholdMinutes; v != nil {
		if *v < config.MinThresholdMinutes || *v > config.MaxThresholdMinutes {
			respond.WriteError(w, http.StatusBadRequest, "OUT_OF_RANGE", "notification_threshold_minutes must be between 1 and 1440")
			return
		}
		updates[config.KeyNotificationThreshold] = strconv.Itoa(*v)
	}
	if req.MonitoredRegions != nil {
		regions, err := normalizeRegions(req.MonitoredRegions)
		if err != nil {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_REGION", err.Error())
			return
		}
		updates[config.KeyMonitoredRegions] = regions
	}

	for key, value := range updates {
		if err := h.store.SetConfig(r.Context(), key, value); err != nil {
			h.logger.Error("Failed to save setting", "key", key, "error", err)
			respond.WriteError(w, http.StatusInternalServerError, "SAVE_FAILED", "Failed to save settings")
			return
		}
		h.logger.Info("Checker setting updated", "key", key, "value", value)
	}
	respond.WriteJSONObject(w, http.StatusOK, h.currentSettings(r))
}

func (h *Handler) currentSettings(r *http.Request) CheckerSettings {
	s := h.settings.Resolve(r.Context())
	raw, _, err := h.store.GetConfig(r.Context(), config.KeyMonitoredRegions)
	if err != nil {
		raw = ""
	}
	return CheckerSettings{
		CheckIntervalSeconds:         int(s.Interval / time.Second),
		NotificationThresholdMinutes: s.ThresholdMinutes,
		MonitoredRegions:             catalog.ParseRegions(raw),
	}
}

func normalizeRegions(in []string) (string, error) {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r == "ALL" {
			return "ALL", nil
		}
		if !catalog.IsKnownRegion(r) {
			return "", errors.New("unknown region " + r)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return "", errors.New("monitored_regions must not be empty")
	}
	return strings.Join(out, ","), nil
}

// --------------------------------------------------------------------------
// Plans
// --------------------------------------------------------------------------

// SetPlanEnabledRequest toggles monitoring of one plan.
type SetPlanEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// PutPlanEnabled turns monitoring of a plan on or off.
// @Summary Enable or disable a plan
// @Description Disabled plans are skipped by every checker from its next cycle on.
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param region path string true "Region code"
// @Param planCode path string true "Plan code"
// @Param body body SetPlanEnabledRequest true "New state"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /admin/plans/{region}/{planCode}/enabled [put]
func (h *Handler) PutPlanEnabled(w http.ResponseWriter, r *http.Request) {
	region := strings.ToUpper(chi.URLParam(r, "region"))
	planCode := chi.URLParam(r, "planCode")
	if !catalog.IsKnownRegion(region) {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REGION", "Unknown region "+region)
		return
	}

	var req SetPlanEnabledRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Malformed request body", err.Error())
		return
	}

	err := h.store.SetPlanEnabled(r.Context(), planCode, region, req.Enabled)
	if errors.Is(err, storage.ErrNotFound) {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No plan "+planCode+" in "+region)
		return
	}
	if err != nil {
		h.logger.Error("Failed to toggle plan", "region", region, "plan_code", planCode, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "SAVE_FAILED", "Failed to update plan")
		return
	}

	h.cache.InvalidatePrefix(plansPrefix)
	h.logger.Info("Plan monitoring toggled", "region", region, "plan_code", planCode, "enabled", req.Enabled)
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"region":    region,
		"plan_code": planCode,
		"enabled":   req.Enabled,
	})
}

// --------------------------------------------------------------------------
// Notification history
// --------------------------------------------------------------------------

// GetNotifications lists recent delivery attempts, newest first.
// @Summary Notification history
// @Description Returns recorded delivery attempts, optionally filtered by user, plan or region.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param user_id query int false "User ID"
// @Param plan_code query string false "Plan code"
// @Param region query string false "Region code"
// @Param limit query int false "Max rows (1-500, default 100)"
// @Success 200 {array} storage.NotificationAttempt
// @Failure 400 {object} respond.ErrorResponse
// @Router /admin/notifications [get]
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.AttemptFilter{
		PlanCode: q.Get("plan_code"),
		Region:   strings.ToUpper(q.Get("region")),
		Limit:    100,
	}
	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_USER_ID", "user_id must be an integer")
			return
		}
		f.UserID = &id
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= maxAttemptLimit {
			f.Limit = n
		}
	}

	attempts, err := h.store.ListAttempts(r.Context(), f)
	if err != nil {
		h.logger.Error("Failed to list notification history", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load history")
		return
	}
	if attempts == nil {
		attempts = []storage.NotificationAttempt{}
	}
	respond.WriteJSONObject(w, http.StatusOK, attempts)
}

// --------------------------------------------------------------------------
// Webhooks
// --------------------------------------------------------------------------

// WebhookRequest names an endpoint to validate or test.
type WebhookRequest struct {
	URL           string `json:"url"`
	Type          string `json:"type,omitempty"`
	BotUsername   string `json:"bot_username,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	EmbedColor    string `json:"embed_color,omitempty"`
	MentionRoleID string `json:"mention_role_id,omitempty"`
	SlackChannel  string `json:"slack_channel,omitempty"`
}

func (req WebhookRequest) endpoint(kind string) storage.Endpoint {
	return storage.Endpoint{
		URL:           strings.TrimSpace(req.URL),
		Type:          kind,
		BotUsername:   req.BotUsername,
		AvatarURL:     req.AvatarURL,
		EmbedColor:    req.EmbedColor,
		MentionRoleID: req.MentionRoleID,
		SlackChannel:  req.SlackChannel,
		IncludePrice:  true,
	}
}

// WebhookValidation is the validate endpoint's verdict.
type WebhookValidation struct {
	Valid bool   `json:"valid"`
	Type  string `json:"type,omitempty"`
	Error string `json:"error,omitempty"`
}

// PostValidateWebhook checks a webhook URL without sending anything.
// @Summary Validate a webhook
// @Description Checks scheme, destination type and that the host resolves only to public addresses.
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body WebhookRequest true "Webhook to check"
// @Success 200 {object} WebhookValidation
// @Failure 400 {object} respond.ErrorResponse
// @Router /admin/webhooks/validate [post]
func (h *Handler) PostValidateWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := respond.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.URL) == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "url is required")
		return
	}

	kind, err := h.validator.Validate(r.Context(), strings.TrimSpace(req.URL), req.Type)
	if err != nil {
		respond.WriteJSONObject(w, http.StatusOK, WebhookValidation{Valid: false, Error: err.Error()})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, WebhookValidation{Valid: true, Type: kind})
}

// PostTestWebhook validates a webhook and sends it a test notification.
// @Summary Send a test notification
// @Description Validates the webhook, then posts a styled test message to it.
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body WebhookRequest true "Webhook to test"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 422 {object} respond.ErrorResponse
// @Failure 502 {object} respond.ErrorResponse
// @Router /admin/webhooks/test [post]
func (h *Handler) PostTestWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := respond.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.URL) == "" {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "url is required")
		return
	}

	kind, err := h.validator.Validate(r.Context(), strings.TrimSpace(req.URL), req.Type)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusUnprocessableEntity, "INVALID_WEBHOOK", "Webhook rejected", err.Error())
		return
	}

	if err := h.tester.SendTest(r.Context(), req.endpoint(kind)); err != nil {
		h.logger.Warn("Test notification failed", "type", kind, "error", err)
		respond.WriteErrorDetail(w, http.StatusBadGateway, "DELIVERY_FAILED", "Webhook did not accept the test message", err.Error())
		return
	}
	h.logger.Info("Test notification sent", "type", kind)
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"sent": true, "type": kind})
}
