package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adviseriq/advisor-cli/internal/model"
)

func generate(t *testing.T, profile *model.CustomerProfile, evidence model.EvidenceBundle, sentiment model.SentimentAssessment) []model.Candidate {
	t.Helper()
	out, err := NewHeuristicGenerator(testCatalog()).Generate(context.Background(), profile, evidence, sentiment)
	require.NoError(t, err)
	return out
}

func TestGenerate_AdoptionTargetsIdleInPlanFeatures(t *testing.T) {
	evidence := model.EvidenceBundle{
		CustomerID: "cus-100",
		Usage:      usageFixture(),
		Snippets:   snippetFixture(),
	}
	out := generate(t, growthProfile(), evidence, model.SentimentAssessment{Score: 0.2})

	byFeature := map[string]model.Candidate{}
	for _, c := range out {
		byFeature[c.TargetFeature] = c
	}

	// Heavily and moderately used features are not re-suggested.
	assert.NotContains(t, byFeature, "dashboards")
	assert.NotContains(t, byFeature, "api access")

	// Idle or untouched in-plan features become adoption candidates.
	for _, feature := range []string{"scheduled reports", "custom exports", "audit log"} {
		c, ok := byFeature[feature]
		require.True(t, ok, feature)
		assert.Equal(t, model.CategoryAdoption, c.Category)
		assert.NotEmpty(t, c.Description)
	}

	// Grounded candidate: relevance 0.9, full usage volume, sentiment 0.2.
	sr := byFeature["scheduled reports"]
	assert.InDelta(t, 0.9*0.4+0.3+0.6*0.3, sr.Confidence, 1e-9)
	assert.Contains(t, sr.EvidenceIDs, "kb-1")
	assert.Contains(t, sr.EvidenceIDs, "usage:scheduled reports")
}

func TestGenerate_UpsellFollowsActiveTags(t *testing.T) {
	evidence := model.EvidenceBundle{
		CustomerID: "cus-100",
		Usage:      usageFixture(),
		Snippets:   snippetFixture(),
	}
	out := generate(t, growthProfile(), evidence, model.SentimentAssessment{Score: 0.2})

	byFeature := map[string]model.Candidate{}
	for _, c := range out {
		if c.Category == model.CategoryUpsell {
			byFeature[c.TargetFeature] = c
		}
	}

	// Heavy dashboard use makes analytics adjacent; the segmentation
	// snippet grounds it too.
	seg, ok := byFeature["advanced segmentation"]
	require.True(t, ok)
	assert.Equal(t, 1, seg.TierJump)
	assert.InDelta(t, 250, seg.PriceDelta, 1e-9)
	assert.Contains(t, seg.EvidenceIDs, "kb-2")

	// API usage makes integration adjacent.
	_, ok = byFeature["data warehouse sync"]
	assert.True(t, ok)

	// Nothing links the customer to support or compliance features.
	assert.NotContains(t, byFeature, "dedicated support")
	assert.NotContains(t, byFeature, "custom retention")
	assert.NotContains(t, byFeature, "sso")
}

func TestGenerate_SnippetAloneGroundsUpsell(t *testing.T) {
	profile := growthProfile()
	profile.Plan = "starter"
	evidence := model.EvidenceBundle{
		CustomerID: "cus-100",
		Snippets: []model.KnowledgeSnippet{
			{ID: "kb-9", Title: "Why teams adopt sso", Content: "Security reviews go faster with sso in place.", Relevance: 0.8},
		},
	}
	out := generate(t, profile, evidence, model.SentimentAssessment{})

	var sso *model.Candidate
	for i := range out {
		if out[i].TargetFeature == "sso" {
			sso = &out[i]
		}
	}
	require.NotNil(t, sso, "a grounding snippet should surface the upsell without tag adjacency")
	assert.Equal(t, model.CategoryUpsell, sso.Category)
	assert.Equal(t, 2, sso.TierJump)
	assert.InDelta(t, 350, sso.PriceDelta, 1e-9)
	// relevance 0.8, no usage volume, neutral sentiment, two-tier penalty.
	assert.InDelta(t, 0.8*0.4+0+0.5*0.3-0.05, sso.Confidence, 1e-9)
}

func TestGenerate_NoEvidenceStillSuggestsAdoption(t *testing.T) {
	out := generate(t, growthProfile(), model.EvidenceBundle{CustomerID: "cus-100", Degraded: true}, model.SentimentAssessment{Degraded: true})

	require.NotEmpty(t, out)
	for _, c := range out {
		assert.Equal(t, model.CategoryAdoption, c.Category, "no usage means no adjacency, so no upsells")
		assert.GreaterOrEqual(t, c.Confidence, 0.0)
		assert.LessOrEqual(t, c.Confidence, 1.0)
	}
}

func TestGenerate_OrderIsDeterministic(t *testing.T) {
	evidence := model.EvidenceBundle{
		CustomerID: "cus-100",
		Usage:      usageFixture(),
		Snippets:   snippetFixture(),
	}
	first := generate(t, growthProfile(), evidence, model.SentimentAssessment{Score: 0.2})
	second := generate(t, growthProfile(), evidence, model.SentimentAssessment{Score: 0.2})

	require.Equal(t, first, second)
	for i, c := range first {
		assert.Equal(t, i, c.GenerationIndex)
	}
}
