// Package kb provides a client for the knowledge base search API, the
// source of grounding snippets for recommendations.
package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/resilience"
)

const sourceName = "knowledge-base"

// Client defines the knowledge base operations.
type Client interface {
	// Search returns the most relevant snippets for a free-text query,
	// ordered by relevance descending.
	Search(ctx context.Context, query string, opts ...SearchOption) ([]model.KnowledgeSnippet, error)
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	limit    int
	category string
}

// WithLimit caps the number of returned snippets. Default 10.
func WithLimit(n int) SearchOption {
	return func(o *searchOpts) {
		o.limit = n
	}
}

// WithCategory restricts results to one documentation category.
func WithCategory(category string) SearchOption {
	return func(o *searchOpts) {
		o.category = category
	}
}

// Option configures the kb client.
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

// NewClient creates a knowledge base client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://kb.internal.adviseriq.io",
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	Category string `json:"category,omitempty"`
}

type searchResponse struct {
	Results []model.KnowledgeSnippet `json:"results"`
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) ([]model.KnowledgeSnippet, error) {
	so := &searchOpts{limit: 10}
	for _, opt := range opts {
		opt(so)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(searchRequest{Query: query, Limit: so.limit, Category: so.category})
	if err != nil {
		return nil, eris.Wrap(err, "kb: encode search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "kb: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
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

	// The search backend answers 422 when the query reduces to nothing
	// after tokenization. Treat that as no results.
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("kb: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "kb: unmarshal response")
	}
	return result.Results, nil
}
