// Package gateway fronts every external data source with a circuit breaker
// and a typed fallback, so a dead source degrades a pipeline run instead of
// failing it.
package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/adviseriq/advisor-cli/internal/resilience"
)

// Source names used across the gateway, breakers, and stage summaries.
const (
	SourceUsageTrends   = "usage-trends"
	SourceKnowledgeBase = "knowledge-base"
	SourceCRM           = "crm"
	SourceSafety        = "content-safety"
)

// Gateway holds the shared breaker registry. One Gateway serves every
// concurrent pipeline run in the process.
type Gateway struct {
	breakers *resilience.SourceBreakers
	timeout  time.Duration
}

// New creates a gateway with per-source breakers built from cfg. timeout
// bounds each individual source call; zero means no per-call bound beyond
// the caller's context.
func New(cfg resilience.CircuitBreakerConfig, timeout time.Duration) *Gateway {
	return &Gateway{
		breakers: resilience.NewSourceBreakers(cfg),
		timeout:  timeout,
	}
}

// Breaker exposes the named source's breaker, mostly for tests and the
// monitoring endpoint.
func (g *Gateway) Breaker(source string) *resilience.CircuitBreaker {
	return g.breakers.Get(source)
}

// States reports every known source's circuit state.
func (g *Gateway) States() map[string]resilience.CircuitState {
	return g.breakers.States()
}

// Call runs fn against the named source through its circuit breaker. If the
// breaker rejects the call, or fn fails with a source-unavailable error, the
// typed fallback is returned with degraded=true and a nil error. Other
// errors (malformed responses, caller cancellation) propagate unchanged.
func Call[T any](ctx context.Context, g *Gateway, source string, fallback T, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	cb := g.breakers.Get(source)

	callCtx := ctx
	var cancel context.CancelFunc
	if g.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	v, err := resilience.ExecuteVal(callCtx, cb, func(c context.Context) (T, error) {
		v, err := fn(c)
		// A per-call timeout with the run deadline still live means the
		// source was too slow, which counts as unavailable and trips the
		// breaker like any other outage.
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return v, resilience.NewUnavailableError(source, err, 0)
		}
		return v, err
	})
	if err == nil {
		return v, false, nil
	}

	// The run's own deadline expiring is not a source failure.
	if ctx.Err() != nil {
		return fallback, false, ctx.Err()
	}

	if errors.Is(err, resilience.ErrCircuitOpen) || resilience.IsUnavailable(err) {
		zap.L().Warn("source degraded, using fallback",
			zap.String("source", source),
			zap.Error(err))
		return fallback, true, nil
	}

	return fallback, false, err
}
