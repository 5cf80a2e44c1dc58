package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Fetcher downloads order catalogs. It shares its rate limiter across
// regions.
type Fetcher struct {
	httpClient *http.Client
	baseURL    string // overrides the regional API host when set
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewFetcher creates a rate-limited catalog client. An empty baseURL uses
// each region's own API host.
func NewFetcher(baseURL string, requestsPerMinute int, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// Base returns the API host used for region.
func (f *Fetcher) Base(region string) string {
	if f.baseURL != "" {
		return f.baseURL
	}
	return APIBase(region)
}

// Fetch downloads and decodes region's VPS catalog.
func (f *Fetcher) Fetch(ctx context.Context, region string) (*Catalog, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := CatalogURL(f.Base(region), region)
	f.logger.Debug("Fetching catalog", "region", region, "url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request catalog %s: %w", region, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog %s returned %d: %s", region, resp.StatusCode, truncate(body, 200))
	}

	var c Catalog
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &c, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
