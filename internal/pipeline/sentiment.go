package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/adviseriq/advisor-cli/internal/gateway"
	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/pkg/crm"
)

// recencyDecay is the per-event geometric weight: the newest interaction
// counts fully, each older one 10% less.
const recencyDecay = 0.9

// SentimentAnalyzer is the sentiment stage: recent interactions reduced to
// one recency-weighted score with trend and contributing factors. It never
// fails the run; missing or unreachable history yields a neutral, degraded
// assessment.
type SentimentAnalyzer struct {
	gw   *gateway.Gateway
	crm  crm.Client
	opts Options

	nowFunc func() time.Time
}

// NewSentimentAnalyzer wires the sentiment stage.
func NewSentimentAnalyzer(gw *gateway.Gateway, cc crm.Client, opts Options) *SentimentAnalyzer {
	return &SentimentAnalyzer{
		gw:      gw,
		crm:     cc,
		opts:    opts.withDefaults(),
		nowFunc: time.Now,
	}
}

// Assess computes the customer's sentiment assessment.
func (s *SentimentAnalyzer) Assess(ctx context.Context, customerID string) model.SentimentAssessment {
	neutral := model.SentimentAssessment{
		CustomerID: customerID,
		Label:      model.SentimentNeutral,
		Trend:      model.TrendStable,
		Degraded:   true,
		AssessedAt: s.nowFunc(),
	}

	events, degraded, err := gateway.Call(ctx, s.gw, gateway.SourceCRM, []model.InteractionEvent{},
		func(c context.Context) ([]model.InteractionEvent, error) {
			return s.crm.RecentInteractions(c, customerID, s.opts.InteractionMonths)
		})
	if err != nil {
		if ctx.Err() == nil {
			zap.L().Warn("sentiment: interaction fetch failed, using neutral",
				zap.String("customer_id", customerID), zap.Error(err))
		}
		return neutral
	}
	if len(events) == 0 {
		neutral.Degraded = degraded
		return neutral
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.After(events[j].OccurredAt)
	})

	assessment := model.SentimentAssessment{
		CustomerID: customerID,
		Score:      weightedScore(events),
		Trend:      trendOf(events),
		Confidence: math.Min(float64(len(events))/10.0, 1.0),
		EventCount: len(events),
		Degraded:   degraded,
		AssessedAt: s.nowFunc(),
	}
	assessment.Label = model.LabelForScore(assessment.Score)
	assessment.Factors = factors(events, assessment)
	return assessment
}

// weightedScore averages per-event sentiment with geometric recency decay.
// Events must be sorted newest first.
func weightedScore(events []model.InteractionEvent) float64 {
	var sum, weights float64
	w := 1.0
	for _, e := range events {
		sum += e.Sentiment * w
		weights += w
		w *= recencyDecay
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// trendOf compares the newer half of the history against the older half.
func trendOf(events []model.InteractionEvent) model.SentimentTrend {
	if len(events) < 4 {
		return model.TrendStable
	}
	mid := len(events) / 2
	newer := meanSentiment(events[:mid])
	older := meanSentiment(events[mid:])
	switch {
	case newer-older > 0.15:
		return model.TrendImproving
	case older-newer > 0.15:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

func meanSentiment(events []model.InteractionEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	var sum float64
	for _, e := range events {
		sum += e.Sentiment
	}
	return sum / float64(len(events))
}

// factors names the signals behind the score for the reasoning chain.
func factors(events []model.InteractionEvent, a model.SentimentAssessment) []string {
	var out []string

	unresolved := 0
	escalated := false
	for _, e := range events {
		if !e.Resolved {
			unresolved++
			if e.Channel == model.ChannelSupport || e.Channel == model.ChannelCall {
				escalated = true
			}
		}
	}
	if unresolved > 2 {
		out = append(out, fmt.Sprintf("%d unresolved issues", unresolved))
	}
	if escalated {
		out = append(out, "open support escalation")
	}

	switch a.Trend {
	case model.TrendImproving:
		out = append(out, "sentiment improving over recent interactions")
	case model.TrendDeclining:
		out = append(out, "sentiment declining over recent interactions")
	}

	if len(events) >= 10 {
		out = append(out, "high interaction frequency")
	}

	switch {
	case a.Score >= 0.4:
		out = append(out, "consistently positive history")
	case a.Score <= -0.4:
		out = append(out, "consistently negative history")
	}
	return out
}
