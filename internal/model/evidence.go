package model

import "time"

// EvidenceBundle is the retrieval stage's output: everything the reasoning
// stage is allowed to ground a candidate on. Degraded marks bundles built
// from fallback (empty) source responses.
type EvidenceBundle struct {
	CustomerID string             `json:"customer_id"`
	Usage      []UsageRecord      `json:"usage"`
	Snippets   []KnowledgeSnippet `json:"snippets"`
	Degraded   bool               `json:"degraded"`
	Confidence float64            `json:"confidence"`
	FetchedAt  time.Time          `json:"fetched_at"`
}

// SentimentLabel buckets the aggregate score for display and filtering.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// LabelForScore maps an aggregate score in [-1, 1] to its display bucket.
func LabelForScore(score float64) SentimentLabel {
	switch {
	case score > 0.2:
		return SentimentPositive
	case score < -0.2:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// SentimentTrend summarizes the direction of recent interactions relative
// to older ones.
type SentimentTrend string

const (
	TrendImproving SentimentTrend = "improving"
	TrendStable    SentimentTrend = "stable"
	TrendDeclining SentimentTrend = "declining"
)

// SentimentAssessment is the sentiment stage's output. Score is a
// recency-weighted aggregate in [-1, 1]; neutral fallbacks carry
// Degraded=true, a zero score, and zero confidence.
type SentimentAssessment struct {
	CustomerID string         `json:"customer_id"`
	Score      float64        `json:"score"`
	Label      SentimentLabel `json:"label"`
	Trend      SentimentTrend `json:"trend"`
	Factors    []string       `json:"factors,omitempty"`
	Confidence float64        `json:"confidence"`
	EventCount int            `json:"event_count"`
	Degraded   bool           `json:"degraded"`
	AssessedAt time.Time      `json:"assessed_at"`
}
