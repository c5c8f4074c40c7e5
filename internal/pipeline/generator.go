package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/adviseriq/advisor-cli/internal/catalog"
	"github.com/adviseriq/advisor-cli/internal/model"
)

// CandidateGenerator turns evidence and sentiment into raw candidates. The
// default implementation is the heuristic generator below; a scoring model
// can slot in behind the same contract.
type CandidateGenerator interface {
	Generate(ctx context.Context, profile *model.CustomerProfile, evidence model.EvidenceBundle, sentiment model.SentimentAssessment) ([]model.Candidate, error)
}

// HeuristicGenerator derives candidates from the product catalog: idle
// features already in the customer's plan become adoption candidates,
// higher-tier features adjacent to heavy usage become upsell candidates.
// Output order follows catalog order, so runs are deterministic.
type HeuristicGenerator struct {
	catalog *catalog.Catalog
}

// NewHeuristicGenerator builds the default generator.
func NewHeuristicGenerator(cat *catalog.Catalog) *HeuristicGenerator {
	return &HeuristicGenerator{catalog: cat}
}

func (g *HeuristicGenerator) Generate(_ context.Context, profile *model.CustomerProfile, evidence model.EvidenceBundle, sentiment model.SentimentAssessment) ([]model.Candidate, error) {
	usage := make(map[string]model.UsageRecord, len(evidence.Usage))
	totalUsage := 0
	activeTags := map[string]bool{}
	for _, u := range evidence.Usage {
		usage[normalizeFeature(u.Feature)] = u
		totalUsage += u.UsageCount
		if u.Intensity.Rank() >= model.IntensityMedium.Rank() {
			if f, ok := g.catalog.Feature(u.Feature); ok {
				for _, tag := range f.Tags {
					activeTags[tag] = true
				}
			}
		}
	}

	sentimentFactor := (sentiment.Score + 1) / 2
	var out []model.Candidate
	idx := 0

	for _, f := range g.catalog.Features {
		key := normalizeFeature(f.Name)
		rel, refs := g.snippetSupport(evidence.Snippets, f)

		if g.catalog.Included(profile.Plan, f.Name) {
			// Adoption: in-plan feature the customer barely touches.
			u, seen := usage[key]
			if seen && u.Intensity.Rank() > model.IntensityLow.Rank() {
				continue
			}
			if seen {
				refs = append(refs, "usage:"+key)
			}
			out = append(out, model.Candidate{
				Category:      model.CategoryAdoption,
				TargetFeature: f.Name,
				Description:   adoptionDescription(f),
				Confidence: clamp01(rel*0.4 +
					math.Min(float64(totalUsage)/100.0, 1.0)*0.3 +
					sentimentFactor*0.3),
				EvidenceIDs:     refs,
				GenerationIndex: idx,
			})
			idx++
			continue
		}

		// Upsell: out-of-plan feature adjacent to what the customer already
		// uses heavily, or explicitly surfaced by the knowledge search.
		if !g.adjacent(f, activeTags) && len(refs) == 0 {
			continue
		}
		jump := g.catalog.TierJump(profile.Plan, f.Name)
		if jump == 0 {
			continue
		}
		out = append(out, model.Candidate{
			Category:      model.CategoryUpsell,
			TargetFeature: f.Name,
			Description:   upsellDescription(f, g.catalog),
			Confidence: clamp01(rel*0.4 +
				math.Min(float64(totalUsage)/100.0, 1.0)*0.3 +
				sentimentFactor*0.3 -
				0.05*float64(jump-1)),
			EvidenceIDs:     refs,
			PriceDelta:      g.catalog.PriceDelta(profile.Plan, f.Name),
			TierJump:        jump,
			GenerationIndex: idx,
		})
		idx++
	}

	return out, nil
}

// snippetSupport finds snippets mentioning the feature and returns the best
// relevance among them. Features with no grounding get a cautious floor.
func (g *HeuristicGenerator) snippetSupport(snippets []model.KnowledgeSnippet, f catalog.Feature) (float64, []string) {
	best := 0.0
	var refs []string
	needle := normalizeFeature(f.Name)
	for _, s := range snippets {
		text := strings.ToLower(s.Title + " " + s.Content)
		if strings.Contains(text, needle) {
			refs = append(refs, s.ID)
			if s.Relevance > best {
				best = s.Relevance
			}
		}
	}
	if best == 0 {
		best = 0.3
	}
	return best, refs
}

func (g *HeuristicGenerator) adjacent(f catalog.Feature, activeTags map[string]bool) bool {
	for _, tag := range f.Tags {
		if activeTags[tag] {
			return true
		}
	}
	return false
}

func adoptionDescription(f catalog.Feature) string {
	if f.Description != "" {
		return fmt.Sprintf("Start using %s: %s.", f.Name, strings.TrimSuffix(f.Description, "."))
	}
	return fmt.Sprintf("Start using %s, already included in your plan.", f.Name)
}

func upsellDescription(f catalog.Feature, cat *catalog.Catalog) string {
	target, ok := cat.PlanForFeature(f)
	if !ok {
		return fmt.Sprintf("Upgrade to unlock %s.", f.Name)
	}
	if f.Description != "" {
		return fmt.Sprintf("Upgrade to %s to unlock %s: %s.", target.Name, f.Name, strings.TrimSuffix(f.Description, "."))
	}
	return fmt.Sprintf("Upgrade to %s to unlock %s.", target.Name, f.Name)
}

func normalizeFeature(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
