package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adviseriq/advisor-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDeclineRate  AlertType = "decline_rate"
	AlertDegradedRate AlertType = "degraded_rate"
	AlertBreakerOpen  AlertType = "breaker_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// A decline rate over very few resolutions is noise, not a trend.
	resolved := snap.Accepted + snap.Declined
	if resolved >= 5 && snap.DeclineRate > a.cfg.DeclineRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDeclineRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Recommendation decline rate %.1f%% exceeds threshold %.1f%% (%d declined / %d resolved in last %dh)",
				snap.DeclineRate*100, a.cfg.DeclineRateThreshold*100,
				snap.Declined, resolved, snap.LookbackHours,
			),
			Details: map[string]any{
				"decline_rate": snap.DeclineRate,
				"threshold":    a.cfg.DeclineRateThreshold,
				"declined":     snap.Declined,
				"resolved":     resolved,
			},
			Timestamp: now,
		})
	}

	if snap.RecommendationsTotal >= 5 && snap.DegradedRate > a.cfg.DegradedRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDegradedRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of recommendations were produced with degraded inputs in last %dh (threshold %.1f%%)",
				snap.DegradedRate*100, snap.LookbackHours, a.cfg.DegradedRateThreshold*100,
			),
			Details: map[string]any{
				"degraded_rate":  snap.DegradedRate,
				"threshold":      a.cfg.DegradedRateThreshold,
				"degraded_total": snap.DegradedTotal,
				"total":          snap.RecommendationsTotal,
			},
			Timestamp: now,
		})
	}

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "high",
			Message: fmt.Sprintf(
				"Circuit open for source(s): %s",
				strings.Join(snap.OpenBreakers, ", "),
			),
			Details: map[string]any{
				"open_breakers": snap.OpenBreakers,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
