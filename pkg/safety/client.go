// Package safety provides the content safety checker the validation stage
// runs recommendation copy through before delivery.
package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/adviseriq/advisor-cli/internal/resilience"
)

const sourceName = "content-safety"

// Verdict is the checker's answer for one piece of text.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Checker screens recommendation text. Implementations must be safe for
// concurrent use.
type Checker interface {
	Check(ctx context.Context, text string) (Verdict, error)
}

// Option configures the HTTP checker.
type Option func(*httpChecker)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpChecker) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpChecker) {
		c.http = hc
	}
}

type httpChecker struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewChecker creates a checker backed by the content safety service.
func NewChecker(apiKey string, opts ...Option) Checker {
	c := &httpChecker{
		apiKey:  apiKey,
		baseURL: "https://safety.internal.adviseriq.io",
		http: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type checkRequest struct {
	Text string `json:"text"`
}

func (c *httpChecker) Check(ctx context.Context, text string) (Verdict, error) {
	payload, err := json.Marshal(checkRequest{Text: text})
	if err != nil {
		return Verdict{}, eris.Wrap(err, "safety: encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/check", bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, eris.Wrap(err, "safety: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		return Verdict{}, resilience.NewUnavailableError(sourceName, err, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, resilience.NewUnavailableError(sourceName, eris.Wrap(err, "read response body"), resp.StatusCode)
	}

	if resilience.IsUnavailableHTTPStatus(resp.StatusCode) {
		return Verdict{}, resilience.NewUnavailableError(sourceName,
			eris.Errorf("status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, eris.Errorf("safety: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var verdict Verdict
	if err := json.Unmarshal(body, &verdict); err != nil {
		return Verdict{}, eris.Wrap(err, "safety: unmarshal verdict")
	}
	return verdict, nil
}

// WordlistChecker is a local checker used when no safety service is
// configured. It rejects text containing any of its blocked terms.
type WordlistChecker struct {
	blocked []string
}

// NewWordlistChecker builds a local checker from blocked terms.
func NewWordlistChecker(blocked []string) *WordlistChecker {
	terms := make([]string, 0, len(blocked))
	for _, b := range blocked {
		b = strings.ToLower(strings.TrimSpace(b))
		if b != "" {
			terms = append(terms, b)
		}
	}
	return &WordlistChecker{blocked: terms}
}

// Check scans text against the blocklist.
func (w *WordlistChecker) Check(_ context.Context, text string) (Verdict, error) {
	lower := strings.ToLower(text)
	for _, term := range w.blocked {
		if strings.Contains(lower, term) {
			return Verdict{Allowed: false, Reason: "blocked term: " + term}, nil
		}
	}
	return Verdict{Allowed: true}, nil
}
