package model

import "time"

// IntensityTier classifies how heavily a feature is used within the
// aggregation window.
type IntensityTier string

const (
	IntensityUnused IntensityTier = "unused"
	IntensityLow    IntensityTier = "low"
	IntensityMedium IntensityTier = "medium"
	IntensityHigh   IntensityTier = "high"
)

// Rank orders tiers for comparisons (unused < low < medium < high).
func (t IntensityTier) Rank() int {
	switch t {
	case IntensityLow:
		return 1
	case IntensityMedium:
		return 2
	case IntensityHigh:
		return 3
	default:
		return 0
	}
}

// UsageRecord is one feature's aggregated usage for a customer, as reported
// by the usage-trend source.
type UsageRecord struct {
	Feature    string        `json:"feature"`
	UsageCount int           `json:"usage_count"`
	LastUsed   time.Time     `json:"last_used"`
	Intensity  IntensityTier `json:"intensity"`
	Window     string        `json:"window,omitempty"`
}

// KnowledgeSnippet is a grounding document excerpt returned by the knowledge
// source, scored for relevance to the search query.
type KnowledgeSnippet struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Relevance float64   `json:"relevance"`
	Category  string    `json:"category,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
