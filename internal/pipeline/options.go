package pipeline

import "time"

// Options holds every pipeline knob. Zero values fall back to the defaults
// below, so a partially filled struct from config is safe.
type Options struct {
	// Deadline bounds one full run.
	Deadline time.Duration
	// UsageWindowDays is the trailing usage-trend window.
	UsageWindowDays int
	// InteractionMonths is the trailing CRM interaction window.
	InteractionMonths int
	// KnowledgeTopK caps snippets fetched per run.
	KnowledgeTopK int
	// SimilarityThreshold is the Jaccard score at or above which a prior
	// suggestion counts as a near-duplicate.
	SimilarityThreshold float64
	// MinConfidence is the validation floor.
	MinConfidence float64
	// MaxAdoption and MaxUpsell cap delivered recommendations per category.
	MaxAdoption int
	MaxUpsell   int
	// SentimentGate is the score below which risky upsells are dropped.
	SentimentGate float64
	// UpsellPriceCeiling is the monthly price delta above which an upsell
	// counts as risky under a negative sentiment.
	UpsellPriceCeiling float64
	// SafetyParallelism bounds concurrent content-safety checks.
	SafetyParallelism int
	// Suppression windows, in days.
	DeclinedWindowDays  int
	AcceptedWindowDays  int
	NearMatchWindowDays int
	// Cache TTL classes.
	ProfileTTL time.Duration
	TrendsTTL  time.Duration
}

// DefaultOptions returns the standard production settings.
func DefaultOptions() Options {
	return Options{
		Deadline:            2000 * time.Millisecond,
		UsageWindowDays:     90,
		InteractionMonths:   12,
		KnowledgeTopK:       8,
		SimilarityThreshold: 0.8,
		MinConfidence:       0.6,
		MaxAdoption:         5,
		MaxUpsell:           3,
		SentimentGate:       -0.3,
		UpsellPriceCeiling:  200,
		SafetyParallelism:   4,
		DeclinedWindowDays:  90,
		AcceptedWindowDays:  30,
		NearMatchWindowDays: 30,
		ProfileTTL:          5 * time.Minute,
		TrendsTTL:           time.Hour,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Deadline <= 0 {
		o.Deadline = d.Deadline
	}
	if o.UsageWindowDays <= 0 {
		o.UsageWindowDays = d.UsageWindowDays
	}
	if o.InteractionMonths <= 0 {
		o.InteractionMonths = d.InteractionMonths
	}
	if o.KnowledgeTopK <= 0 {
		o.KnowledgeTopK = d.KnowledgeTopK
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = d.SimilarityThreshold
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = d.MinConfidence
	}
	if o.MaxAdoption <= 0 {
		o.MaxAdoption = d.MaxAdoption
	}
	if o.MaxUpsell <= 0 {
		o.MaxUpsell = d.MaxUpsell
	}
	if o.SentimentGate == 0 {
		o.SentimentGate = d.SentimentGate
	}
	if o.UpsellPriceCeiling <= 0 {
		o.UpsellPriceCeiling = d.UpsellPriceCeiling
	}
	if o.SafetyParallelism <= 0 {
		o.SafetyParallelism = d.SafetyParallelism
	}
	if o.DeclinedWindowDays <= 0 {
		o.DeclinedWindowDays = d.DeclinedWindowDays
	}
	if o.AcceptedWindowDays <= 0 {
		o.AcceptedWindowDays = d.AcceptedWindowDays
	}
	if o.NearMatchWindowDays <= 0 {
		o.NearMatchWindowDays = d.NearMatchWindowDays
	}
	if o.ProfileTTL <= 0 {
		o.ProfileTTL = d.ProfileTTL
	}
	if o.TrendsTTL <= 0 {
		o.TrendsTTL = d.TrendsTTL
	}
	return o
}
