package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from OutcomeStatus
		to   OutcomeStatus
		ok   bool
	}{
		{"pending to delivered", OutcomePending, OutcomeDelivered, true},
		{"delivered to accepted", OutcomeDelivered, OutcomeAccepted, true},
		{"delivered to declined", OutcomeDelivered, OutcomeDeclined, true},
		{"declined to excluded", OutcomeDeclined, OutcomeExcluded, true},
		{"pending cannot skip to accepted", OutcomePending, OutcomeAccepted, false},
		{"pending cannot skip to declined", OutcomePending, OutcomeDeclined, false},
		{"accepted is terminal", OutcomeAccepted, OutcomeDeclined, false},
		{"excluded is terminal", OutcomeExcluded, OutcomePending, false},
		{"no backwards move", OutcomeDelivered, OutcomePending, false},
		{"no self loop", OutcomePending, OutcomePending, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to))
		})
	}
}

func TestInFlight(t *testing.T) {
	assert.True(t, OutcomePending.InFlight())
	assert.True(t, OutcomeDelivered.InFlight())
	assert.False(t, OutcomeAccepted.InFlight())
	assert.False(t, OutcomeDeclined.InFlight())
	assert.False(t, OutcomeExcluded.InFlight())
}

func TestLabelForScore(t *testing.T) {
	assert.Equal(t, SentimentPositive, LabelForScore(0.5))
	assert.Equal(t, SentimentNegative, LabelForScore(-0.31))
	assert.Equal(t, SentimentNeutral, LabelForScore(0.0))
	assert.Equal(t, SentimentNeutral, LabelForScore(0.2))
	assert.Equal(t, SentimentNeutral, LabelForScore(-0.2))
}

func TestRecommendationValidate(t *testing.T) {
	valid := Recommendation{
		ID:          "rec-1",
		CustomerID:  "cust-1",
		Category:    CategoryAdoption,
		Description: "Enable scheduled reports to cut manual exports",
		Confidence:  0.8,
	}
	require.NoError(t, valid.Validate())

	broken := valid
	broken.Category = "discount"
	assert.Error(t, broken.Validate())

	broken = valid
	broken.Confidence = 1.2
	assert.Error(t, broken.Validate())

	broken = valid
	broken.CustomerID = ""
	assert.Error(t, broken.Validate())

	broken = valid
	broken.Description = ""
	assert.Error(t, broken.Validate())
}

func TestIntensityRank(t *testing.T) {
	assert.Greater(t, IntensityHigh.Rank(), IntensityMedium.Rank())
	assert.Greater(t, IntensityMedium.Rank(), IntensityLow.Rank())
	assert.Greater(t, IntensityLow.Rank(), IntensityUnused.Rank())
	assert.Equal(t, 0, IntensityTier("bogus").Rank())
}

func TestByCategory(t *testing.T) {
	r := RunResult{Recommendations: []Recommendation{
		{ID: "a", Category: CategoryAdoption, Rank: 1},
		{ID: "b", Category: CategoryUpsell, Rank: 1},
		{ID: "c", Category: CategoryAdoption, Rank: 2},
	}}
	grouped := r.ByCategory()
	require.Len(t, grouped[CategoryAdoption], 2)
	assert.Equal(t, "a", grouped[CategoryAdoption][0].ID)
	assert.Equal(t, "c", grouped[CategoryAdoption][1].ID)
	require.Len(t, grouped[CategoryUpsell], 1)
}

func TestRunResultResponse(t *testing.T) {
	started := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	r := RunResult{
		RunID:      "run-1",
		CustomerID: "cus-100",
		Degraded:   true,
		Recommendations: []Recommendation{
			{ID: "a", Category: CategoryAdoption, Rank: 1},
			{ID: "b", Category: CategoryUpsell, Rank: 1},
		},
		StartedAt:  started,
		FinishedAt: started.Add(345 * time.Millisecond),
	}

	resp := r.Response()
	require.Len(t, resp.Adoption, 1)
	require.Len(t, resp.Upsell, 1)
	assert.Equal(t, "a", resp.Adoption[0].ID)
	assert.Equal(t, int64(345), resp.GenerationTimeMS)
	assert.True(t, resp.Degraded)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	keys := map[string]json.RawMessage{}
	require.NoError(t, json.Unmarshal(raw, &keys))
	assert.Contains(t, keys, "adoption")
	assert.Contains(t, keys, "upsell")
	assert.Contains(t, keys, "generationTimeMs")
	assert.Contains(t, keys, "degraded")
}

func TestRunResultResponseEmptyCategoriesMarshalAsArrays(t *testing.T) {
	raw, err := json.Marshal(RunResult{RunID: "run-1"}.Response())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"adoption":[]`)
	assert.Contains(t, string(raw), `"upsell":[]`)
}
