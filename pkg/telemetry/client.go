// Package telemetry provides a client for the usage-trend service, the
// source of per-feature usage aggregates.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/resilience"
)

const sourceName = "usage-trends"

// Client defines the usage-trend operations.
type Client interface {
	// GetTrends returns per-feature usage aggregates for a customer over
	// the trailing window of days. days <= 0 uses the service default.
	GetTrends(ctx context.Context, customerID string, days int) ([]model.UsageRecord, error)
}

// Option configures the telemetry client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a usage-trend client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://telemetry.internal.adviseriq.io",
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type trendsResponse struct {
	CustomerID string              `json:"customer_id"`
	Window     string              `json:"window"`
	Features   []model.UsageRecord `json:"features"`
}

func (c *httpClient) GetTrends(ctx context.Context, customerID string, days int) ([]model.UsageRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/v1/customers/%s/trends", c.baseURL, url.PathEscape(customerID))
	if days > 0 {
		reqURL += fmt.Sprintf("?days=%d", days)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "telemetry: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, resilience.NewUnavailableError(sourceName, err, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewUnavailableError(sourceName, eris.Wrap(err, "read response body"), resp.StatusCode)
	}

	if resilience.IsUnavailableHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewUnavailableError(sourceName,
			eris.Errorf("status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("telemetry: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result trendsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "telemetry: unmarshal response")
	}

	// Fill missing intensity from raw counts so downstream stages never see
	// an empty tier.
	for i, u := range result.Features {
		if u.Intensity == "" {
			result.Features[i].Intensity = intensityFor(u.UsageCount)
		}
		if u.Window == "" {
			result.Features[i].Window = result.Window
		}
	}
	return result.Features, nil
}

func intensityFor(count int) model.IntensityTier {
	switch {
	case count == 0:
		return model.IntensityUnused
	case count < 10:
		return model.IntensityLow
	case count < 50:
		return model.IntensityMedium
	default:
		return model.IntensityHigh
	}
}
