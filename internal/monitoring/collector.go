package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/adviseriq/advisor-cli/internal/gateway"
	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/resilience"
	"github.com/adviseriq/advisor-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Recommendation outcomes (within lookback window).
	RecommendationsTotal int `json:"recommendations_total"`
	Pending              int `json:"pending"`
	Delivered            int `json:"delivered"`
	Accepted             int `json:"accepted"`
	Declined             int `json:"declined"`
	Excluded             int `json:"excluded"`

	// Resolved-outcome rates. A recommendation counts as resolved once
	// it reaches accepted or declined.
	AcceptanceRate float64 `json:"acceptance_rate"`
	DeclineRate    float64 `json:"decline_rate"`

	// Degradation within the window.
	DegradedTotal int     `json:"degraded_total"`
	DegradedRate  float64 `json:"degraded_rate"`

	AvgConfidence float64 `json:"avg_confidence"`

	// Circuit breaker state per external source.
	BreakerStates map[string]string `json:"breaker_states"`
	OpenBreakers  []string          `json:"open_breakers,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store and the source gateway.
type Collector struct {
	store   store.Store
	gateway *gateway.Gateway
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, gw *gateway.Gateway) *Collector {
	return &Collector{store: st, gateway: gw}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
		BreakerStates: map[string]string{},
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	recs, err := c.store.ListRecommendations(ctx, store.Filter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list recommendations")
	}

	snap.RecommendationsTotal = len(recs)
	var confidenceSum float64
	for _, r := range recs {
		confidenceSum += r.Confidence
		switch r.Outcome {
		case model.OutcomePending:
			snap.Pending++
		case model.OutcomeDelivered:
			snap.Delivered++
		case model.OutcomeAccepted:
			snap.Accepted++
		case model.OutcomeDeclined:
			snap.Declined++
		case model.OutcomeExcluded:
			snap.Excluded++
		}
		if r.Degraded {
			snap.DegradedTotal++
		}
	}

	resolved := snap.Accepted + snap.Declined
	if resolved > 0 {
		snap.AcceptanceRate = float64(snap.Accepted) / float64(resolved)
		snap.DeclineRate = float64(snap.Declined) / float64(resolved)
	}
	if snap.RecommendationsTotal > 0 {
		snap.DegradedRate = float64(snap.DegradedTotal) / float64(snap.RecommendationsTotal)
		snap.AvgConfidence = confidenceSum / float64(snap.RecommendationsTotal)
	}

	if c.gateway != nil {
		for source, state := range c.gateway.States() {
			snap.BreakerStates[source] = state.String()
			if state == resilience.CircuitOpen {
				snap.OpenBreakers = append(snap.OpenBreakers, source)
			}
		}
	}

	return snap, nil
}
