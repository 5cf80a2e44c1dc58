package notifications

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ovhwatch/stockwatch/internal/catalog"
	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/stock"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

// FanoutStore is the persistence a Fanout reads and writes.
type FanoutStore interface {
	storage.ConfigStore
	storage.SubscriptionDirectory
	storage.HistoryStore
	GetPlanInfo(ctx context.Context, planCode, region string) (*storage.PlanInfo, error)
}

// Fanout delivers one event to the default sink and every subscriber.
type Fanout struct {
	store  FanoutStore
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewFanout creates a fan-out over store using sink for delivery.
func NewFanout(store FanoutStore, sink Sink, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{store: store, sink: sink, logger: logger, now: time.Now}
}

// Dispatch delivers ev. The default sink goes first, then subscribers.
// Every attempt is recorded and no failure stops the remaining deliveries.
func (f *Fanout) Dispatch(ctx context.Context, ev stock.Event) Result {
	res := Result{EventID: uuid.New(), Event: ev}
	msg := f.message(ctx, ev)
	log := f.logger.With("event_id", res.EventID.String(), "region", ev.Region,
		"plan_code", ev.PlanCode, "datacenter", ev.Datacenter)

	// 1. System default sink
	if ep, ok := f.DefaultEndpoint(ctx); ok {
		err := f.sink.Send(ctx, ep, msg)
		res.Default = DefaultOutcome{Attempted: true, Success: err == nil, Error: errString(err)}
		if err != nil {
			log.Warn("Default webhook delivery failed", "error", err)
		}
		f.record(ctx, storage.NotificationAttempt{IsDefault: true}, ev, err)
	}

	// 2. Subscribers
	recipients, err := f.store.GetSubscribers(ctx, ev.PlanCode, ev.Region)
	if err != nil {
		log.Error("Failed to load subscribers", "error", err)
		return res
	}
	for _, r := range recipients {
		ep := r.Endpoint
		if ep.Name == "" {
			ep.Name = defaultPersonalName
		}
		err := f.sink.Send(ctx, ep, msg)
		res.Recipients = append(res.Recipients, Delivery{
			UserID:    r.UserID,
			WebhookID: r.WebhookID,
			Type:      endpointType(ep),
			Success:   err == nil,
			Error:     errString(err),
		})
		if err != nil {
			log.Warn("User webhook delivery failed", "user_id", r.UserID, "webhook_id", r.WebhookID, "error", err)
		}
		userID, webhookID := r.UserID, r.WebhookID
		f.record(ctx, storage.NotificationAttempt{UserID: &userID, WebhookID: &webhookID}, ev, err)
	}
	return res
}

// DefaultEndpoint reads the system sink from the config table. The legacy
// Discord key is used when the generic key is unset.
func (f *Fanout) DefaultEndpoint(ctx context.Context) (storage.Endpoint, bool) {
	url := f.config(ctx, config.KeyDefaultWebhookURL)
	if url == "" {
		url = f.config(ctx, config.KeyLegacyDiscordWebhook)
	}
	if url == "" {
		return storage.Endpoint{}, false
	}
	return storage.Endpoint{
		URL:           url,
		Type:          f.config(ctx, config.KeyDefaultWebhookType),
		BotUsername:   f.config(ctx, config.KeyDefaultBotUsername),
		AvatarURL:     f.config(ctx, config.KeyDefaultAvatarURL),
		EmbedColor:    f.config(ctx, config.KeyDefaultEmbedColor),
		MentionRoleID: f.config(ctx, config.KeyDefaultMentionRole),
		SlackChannel:  f.config(ctx, config.KeyDefaultSlackChannel),
		IncludePrice:  true,
	}, true
}

func (f *Fanout) config(ctx context.Context, key string) string {
	v, _, err := f.store.GetConfig(ctx, key)
	if err != nil {
		f.logger.Warn("Config read failed", "key", key, "error", err)
		return ""
	}
	return strings.TrimSpace(v)
}

// message builds the shared content. Missing plan info degrades to the
// plan code and the region's storefront.
func (f *Fanout) message(ctx context.Context, ev stock.Event) Message {
	msg := Message{
		PlanCode:     ev.PlanCode,
		Region:       ev.Region,
		Datacenter:   ev.Datacenter,
		DisplayName:  ev.DisplayName,
		PurchaseURL:  catalog.PurchaseURL(ev.Region),
		DwellMinutes: ev.DwellMinutes,
		At:           ev.At,
	}
	if msg.At.IsZero() {
		msg.At = f.now()
	}
	info, err := f.store.GetPlanInfo(ctx, ev.PlanCode, ev.Region)
	switch {
	case err == nil:
		if info.DisplayName != "" {
			msg.DisplayName = info.DisplayName
		}
		if info.PurchaseURL != "" {
			msg.PurchaseURL = info.PurchaseURL
		}
		msg.Price = info.Price
	case errors.Is(err, storage.ErrNotFound):
	default:
		f.logger.Warn("Failed to load plan info", "plan_code", ev.PlanCode, "region", ev.Region, "error", err)
	}
	return msg
}

func (f *Fanout) record(ctx context.Context, a storage.NotificationAttempt, ev stock.Event, sendErr error) {
	a.PlanCode = ev.PlanCode
	a.Region = ev.Region
	a.Datacenter = ev.Datacenter
	a.Message = ev.Message()
	a.Success = sendErr == nil
	a.Error = errString(sendErr)
	a.SentAt = f.now().UTC()
	if err := f.store.RecordAttempt(ctx, a); err != nil {
		f.logger.Error("Failed to record notification attempt", "plan_code", ev.PlanCode, "error", err)
	}
}

func endpointType(ep storage.Endpoint) string {
	if kind, err := ResolveDestination(ep.Type, ep.URL); err == nil {
		return kind
	}
	return ep.Type
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
