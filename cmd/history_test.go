package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/adviseriq/advisor-cli/internal/model"
)

func histRec(outcome model.OutcomeStatus, confidence float64, degraded bool) model.Recommendation {
	return model.Recommendation{
		ID:            "rec-1",
		CustomerID:    "cus-100",
		Category:      model.CategoryAdoption,
		TargetFeature: "dashboards",
		Confidence:    confidence,
		Rank:          1,
		Outcome:       outcome,
		Degraded:      degraded,
		CreatedAt:     time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestComputeOutcomeStats(t *testing.T) {
	recs := []model.Recommendation{
		histRec(model.OutcomePending, 0.8, false),
		histRec(model.OutcomeDelivered, 0.7, false),
		histRec(model.OutcomeAccepted, 0.9, false),
		histRec(model.OutcomeAccepted, 0.6, true),
		histRec(model.OutcomeDeclined, 0.7, false),
		histRec(model.OutcomeExcluded, 0.6, false),
	}

	s := computeOutcomeStats(recs)

	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.Delivered)
	assert.Equal(t, 2, s.Accepted)
	assert.Equal(t, 1, s.Declined)
	assert.Equal(t, 1, s.Excluded)
	assert.Equal(t, 1, s.Degraded)
	assert.InDelta(t, 2.0/3.0, s.AcceptanceRate, 0.001)
	assert.InDelta(t, (0.8+0.7+0.9+0.6+0.7+0.6)/6, s.AvgConfidence, 0.001)
}

func TestComputeOutcomeStats_Empty(t *testing.T) {
	s := computeOutcomeStats(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AcceptanceRate)
	assert.Zero(t, s.AvgConfidence)
}

func TestFormatHistoryList(t *testing.T) {
	var buf bytes.Buffer
	formatHistoryList(&buf, []model.Recommendation{histRec(model.OutcomePending, 0.84, false)})

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "rec-1")
	assert.Contains(t, out, "cus-100")
	assert.Contains(t, out, "dashboards")
	assert.Contains(t, out, "0.84")
	assert.Contains(t, out, "2025-06-15")
}

func TestFormatOutcomeStats(t *testing.T) {
	var buf bytes.Buffer
	formatOutcomeStats(&buf, outcomeStats{
		Total:          10,
		Accepted:       6,
		Declined:       2,
		AcceptanceRate: 0.75,
		AvgConfidence:  0.71,
	})

	out := buf.String()
	assert.Contains(t, out, "Total")
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "0.71")
}
