package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ovhwatch/stockwatch/internal/storage"
)

// Sink delivers one message to one endpoint. A nil error means delivered.
type Sink interface {
	Send(ctx context.Context, ep storage.Endpoint, msg Message) error
}

// WebhookSender posts JSON payloads to Discord and Slack webhooks.
type WebhookSender struct {
	httpClient *http.Client
	guard      *URLGuard
	logger     *slog.Logger
	now        func() time.Time
}

// NewWebhookSender creates a sender. When guard is non-nil every
// destination is re-validated before the request is made.
func NewWebhookSender(timeout time.Duration, guard *URLGuard, logger *slog.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSender{
		httpClient: &http.Client{Timeout: timeout},
		guard:      guard,
		logger:     logger,
		now:        time.Now,
	}
}

// Send renders msg for the endpoint's destination type and posts it.
func (s *WebhookSender) Send(ctx context.Context, ep storage.Endpoint, msg Message) error {
	kind, err := s.destination(ctx, ep)
	if err != nil {
		return err
	}
	payload, err := BuildPayload(kind, ep, msg)
	if err != nil {
		return err
	}
	return s.post(ctx, ep.URL, kind, payload)
}

// SendTest posts the connectivity test message.
func (s *WebhookSender) SendTest(ctx context.Context, ep storage.Endpoint) error {
	kind, err := s.destination(ctx, ep)
	if err != nil {
		return err
	}
	payload, err := BuildTestPayload(kind, ep, s.now())
	if err != nil {
		return err
	}
	return s.post(ctx, ep.URL, kind, payload)
}

func (s *WebhookSender) destination(ctx context.Context, ep storage.Endpoint) (string, error) {
	if s.guard != nil {
		return s.guard.Validate(ctx, ep.URL, ep.Type)
	}
	if !strings.HasPrefix(ep.URL, "https://") {
		return "", fmt.Errorf("%w: webhook URL must use HTTPS", ErrUnsafeDestination)
	}
	return ResolveDestination(ep.Type, ep.URL)
}

func (s *WebhookSender) post(ctx context.Context, url, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s API returned %d: %s", kind, resp.StatusCode, truncate(respBody, 200))
	}
	s.logger.Debug("Webhook delivered", "type", kind, "status", resp.StatusCode)
	return nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
