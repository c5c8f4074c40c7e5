// Package crm provides a client for the CRM service: customer profiles and
// the interaction history the sentiment stage analyzes.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/resilience"
)

const sourceName = "crm"

// ErrCustomerNotFound is returned when the CRM has no record of the
// customer. This is a caller error, not a source outage.
var ErrCustomerNotFound = eris.New("customer not found")

// Client defines the CRM operations.
type Client interface {
	// GetCustomer returns the account record for a customer. Returns
	// ErrCustomerNotFound when the ID is unknown.
	GetCustomer(ctx context.Context, customerID string) (*model.CustomerProfile, error)
	// RecentInteractions returns the customer's interaction events within
	// the trailing window of months, newest first. months <= 0 uses the
	// service default of 12.
	RecentInteractions(ctx context.Context, customerID string, months int) ([]model.InteractionEvent, error)
}

// Option configures the CRM client.
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

// NewClient creates a CRM client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://crm.internal.adviseriq.io",
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

func (c *httpClient) GetCustomer(ctx context.Context, customerID string) (*model.CustomerProfile, error) {
	body, status, err := c.get(ctx, fmt.Sprintf("/v1/customers/%s", url.PathEscape(customerID)))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrCustomerNotFound
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("crm: unexpected status %d: %s", status, string(body))
	}

	var profile model.CustomerProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, eris.Wrap(err, "crm: unmarshal profile")
	}
	return &profile, nil
}

type interactionsResponse struct {
	Events []model.InteractionEvent `json:"events"`
}

func (c *httpClient) RecentInteractions(ctx context.Context, customerID string, months int) ([]model.InteractionEvent, error) {
	if months <= 0 {
		months = 12
	}
	path := fmt.Sprintf("/v1/customers/%s/interactions?months=%s",
		url.PathEscape(customerID), strconv.Itoa(months))

	body, status, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrCustomerNotFound
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("crm: unexpected status %d: %s", status, string(body))
	}

	var result interactionsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "crm: unmarshal interactions")
	}
	return result.Events, nil
}

func (c *httpClient) get(ctx context.Context, path string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "crm: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, resilience.NewUnavailableError(sourceName, err, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, resilience.NewUnavailableError(sourceName, eris.Wrap(err, "read response body"), resp.StatusCode)
	}

	if resilience.IsUnavailableHTTPStatus(resp.StatusCode) {
		return nil, resp.StatusCode, resilience.NewUnavailableError(sourceName,
			eris.Errorf("status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}
