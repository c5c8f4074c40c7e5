package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/adviseriq/advisor-cli/internal/model"
)

// Reasoner is the reasoning stage: candidate generation, duplicate
// suppression against the customer's prior recommendations, the sentiment
// gate on risky upsells, and deterministic ranking.
type Reasoner struct {
	generator CandidateGenerator
	opts      Options

	nowFunc func() time.Time
}

// NewReasoner wires the reasoning stage.
func NewReasoner(generator CandidateGenerator, opts Options) *Reasoner {
	return &Reasoner{
		generator: generator,
		opts:      opts.withDefaults(),
		nowFunc:   time.Now,
	}
}

// Reason produces the ranked candidate list plus human-readable notes about
// what was suppressed or gated, for the reasoning chain.
func (r *Reasoner) Reason(ctx context.Context, profile *model.CustomerProfile, evidence model.EvidenceBundle, sentiment model.SentimentAssessment, priors []model.Recommendation) ([]model.Candidate, []string, error) {
	generated, err := r.generator.Generate(ctx, profile, evidence, sentiment)
	if err != nil {
		return nil, nil, err
	}

	var notes []string
	kept := make([]model.Candidate, 0, len(generated))
	for _, c := range generated {
		verdict := r.suppress(c, priors)
		if verdict.drop {
			notes = append(notes, fmt.Sprintf("suppressed %q (%s): %s", c.TargetFeature, c.Category, verdict.reason))
			continue
		}
		if verdict.annotation != "" {
			c.Annotation = verdict.annotation
		}
		kept = append(kept, c)
	}

	if sentiment.Score < r.opts.SentimentGate {
		gated := kept[:0]
		for _, c := range kept {
			if c.Category == model.CategoryUpsell &&
				(c.PriceDelta > r.opts.UpsellPriceCeiling || c.TierJump > 1) {
				notes = append(notes, fmt.Sprintf("gated upsell %q: sentiment %.2f below %.2f", c.TargetFeature, sentiment.Score, r.opts.SentimentGate))
				continue
			}
			gated = append(gated, c)
		}
		kept = gated
		notes = append(notes, "negative sentiment: adoption suggestions prioritized")
	}

	rank(kept, sentiment.Score < r.opts.SentimentGate)
	return kept, notes, nil
}

type suppression struct {
	drop       bool
	reason     string
	annotation string
}

// suppress applies the duplicate windows against prior recommendations:
// anything still in flight blocks an exact re-suggest, declines block for
// 90 days, accepts for 30, and near-duplicates inside 30 days pass with a
// "previously suggested" annotation.
func (r *Reasoner) suppress(c model.Candidate, priors []model.Recommendation) suppression {
	now := r.nowFunc()
	feature := normalizeFeature(c.TargetFeature)

	for _, p := range priors {
		if p.Category != c.Category {
			continue
		}
		if normalizeFeature(p.TargetFeature) != feature {
			continue
		}

		if p.Outcome.InFlight() {
			return suppression{drop: true, reason: "already suggested and still open"}
		}

		resolved := p.CreatedAt
		if p.ResolvedAt != nil {
			resolved = *p.ResolvedAt
		}
		age := now.Sub(resolved)

		switch p.Outcome {
		case model.OutcomeDeclined, model.OutcomeExcluded:
			if age < time.Duration(r.opts.DeclinedWindowDays)*24*time.Hour {
				return suppression{drop: true, reason: fmt.Sprintf("declined %d days ago", int(age.Hours()/24))}
			}
			return suppression{annotation: fmt.Sprintf("re-suggesting: previously declined on %s", resolved.Format("2006-01-02"))}
		case model.OutcomeAccepted:
			if age < time.Duration(r.opts.AcceptedWindowDays)*24*time.Hour {
				return suppression{drop: true, reason: fmt.Sprintf("accepted %d days ago", int(age.Hours()/24))}
			}
		}
	}

	// Near-duplicate pass: different feature wording, similar meaning.
	for _, p := range priors {
		if p.Category != c.Category {
			continue
		}
		if normalizeFeature(p.TargetFeature) == feature {
			continue
		}
		if textSimilarity(p.TargetFeature, c.TargetFeature) < r.opts.SimilarityThreshold {
			continue
		}
		if now.Sub(p.CreatedAt) < time.Duration(r.opts.NearMatchWindowDays)*24*time.Hour {
			return suppression{annotation: fmt.Sprintf("previously suggested on %s", p.CreatedAt.Format("2006-01-02"))}
		}
	}

	return suppression{}
}

// rank orders candidates deterministically: confidence descending, then
// evidence strength, then generation order. With promoteAdoption set,
// adoption candidates are moved ahead of every remaining upsell.
func rank(cs []model.Candidate, promoteAdoption bool) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if promoteAdoption && a.Category != b.Category {
			return a.Category == model.CategoryAdoption
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.EvidenceStrength() != b.EvidenceStrength() {
			return a.EvidenceStrength() > b.EvidenceStrength()
		}
		return a.GenerationIndex < b.GenerationIndex
	})
}
