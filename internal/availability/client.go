// Package availability fetches per-datacenter stock for a plan from the
// provider's public datacenter availability endpoint.
//
// One request returns every datacenter for a plan. Requests are throttled
// through a token bucket shared by all targets.
package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ovhwatch/stockwatch/internal/storage"
)

// ErrNoDatacenters is returned when the upstream response lists nothing.
var ErrNoDatacenters = errors.New("no datacenters in response")

const (
	statusAvailable = "available"
	statusUnknown   = "out-of-stock"
)

// Client is the HTTP client for availability lookups.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates an availability client with rate limiting.
func NewClient(requestsPerMinute int, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
		now:        time.Now,
	}
}

// datacenterResponse is the upstream payload.
type datacenterResponse struct {
	Datacenters []json.RawMessage `json:"datacenters"`
}

type datacenterEntry struct {
	Datacenter  string `json:"datacenter"`
	Code        string `json:"code"`
	LinuxStatus string `json:"linuxStatus"`
}

// Fetch returns one observation per datacenter for target. Any transport
// error, non-200 status, undecodable body or empty datacenter list is an
// error; callers skip the target without writing anything.
func (c *Client) Fetch(ctx context.Context, target storage.MonitoredTarget) ([]storage.Observation, error) {
	if target.QueryURL == "" {
		return nil, fmt.Errorf("target %s/%s has no query URL", target.Region, target.PlanCode)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.QueryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request %s: %w", target.PlanCode, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("availability %s returned %d: %s", target.PlanCode, resp.StatusCode, truncate(body, 200))
	}

	return parse(body, c.now().UTC())
}

// parse decodes an availability payload. Entries without a datacenter name
// are dropped.
func parse(body []byte, at time.Time) ([]storage.Observation, error) {
	var resp datacenterResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	obs := make([]storage.Observation, 0, len(resp.Datacenters))
	for _, raw := range resp.Datacenters {
		var e datacenterEntry
		if err := json.Unmarshal(raw, &e); err != nil || e.Datacenter == "" {
			continue
		}
		status := e.LinuxStatus
		if status == "" {
			status = statusUnknown
		}
		obs = append(obs, storage.Observation{
			Datacenter:     e.Datacenter,
			DatacenterCode: e.Code,
			IsAvailable:    status == statusAvailable,
			RawStatus:      status,
			ObservedAt:     at,
			Raw:            append(json.RawMessage(nil), raw...),
		})
	}
	if len(obs) == 0 {
		return nil, ErrNoDatacenters
	}
	return obs, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
