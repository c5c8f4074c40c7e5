package pipeline

import (
	"time"

	"github.com/adviseriq/advisor-cli/internal/catalog"
	"github.com/adviseriq/advisor-cli/internal/gateway"
	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/resilience"
)

// testNow is the fixed clock for every test that pins nowFunc.
var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testGateway() *gateway.Gateway {
	return gateway.New(resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		CoolDown:         time.Minute,
	}, 0)
}

func testCatalog() *catalog.Catalog {
	cat, err := catalog.Load("")
	if err != nil {
		panic(err)
	}
	return cat
}

func growthProfile() *model.CustomerProfile {
	return &model.CustomerProfile{
		ID:           "cus-100",
		Name:         "Meridian Labs",
		Tier:         "mid-market",
		Plan:         "growth",
		MonthlySpend: 149,
		SignedUpAt:   testNow.AddDate(-1, 0, 0),
		Industry:     "biotech",
	}
}

func usageFixture() []model.UsageRecord {
	return []model.UsageRecord{
		{Feature: "dashboards", UsageCount: 120, Intensity: model.IntensityHigh, LastUsed: testNow.AddDate(0, 0, -1)},
		{Feature: "api access", UsageCount: 45, Intensity: model.IntensityMedium, LastUsed: testNow.AddDate(0, 0, -2)},
		{Feature: "audit log", UsageCount: 1, Intensity: model.IntensityLow, LastUsed: testNow.AddDate(0, 0, -25)},
		{Feature: "scheduled reports", UsageCount: 0, Intensity: model.IntensityUnused},
	}
}

func snippetFixture() []model.KnowledgeSnippet {
	return []model.KnowledgeSnippet{
		{ID: "kb-1", Title: "Getting value from scheduled reports", Content: "Teams on any plan can automate delivery with scheduled reports.", Relevance: 0.9},
		{ID: "kb-2", Title: "Advanced segmentation playbook", Content: "Customers combining dashboards with advanced segmentation see deeper cohort insight.", Relevance: 0.7},
	}
}

// interactions builds an event series from newest to oldest, one score per
// element, spaced a week apart.
func interactions(scores ...float64) []model.InteractionEvent {
	events := make([]model.InteractionEvent, len(scores))
	for i, s := range scores {
		events[i] = model.InteractionEvent{
			ID:         string(rune('a' + i)),
			CustomerID: "cus-100",
			Channel:    model.ChannelEmail,
			Sentiment:  s,
			Resolved:   true,
			OccurredAt: testNow.AddDate(0, 0, -7*i),
		}
	}
	return events
}

func candidate(cat model.Category, feature string, conf float64, idx int) model.Candidate {
	return model.Candidate{
		Category:        cat,
		TargetFeature:   feature,
		Description:     "Try " + feature + ".",
		Confidence:      conf,
		GenerationIndex: idx,
	}
}

func prior(cat model.Category, feature string, outcome model.OutcomeStatus, createdDaysAgo int, resolvedDaysAgo int) model.Recommendation {
	p := model.Recommendation{
		ID:            "prior-" + feature,
		CustomerID:    "cus-100",
		Category:      cat,
		TargetFeature: feature,
		Description:   "Try " + feature + ".",
		Confidence:    0.8,
		Outcome:       outcome,
		CreatedAt:     testNow.AddDate(0, 0, -createdDaysAgo),
	}
	if resolvedDaysAgo >= 0 {
		t := testNow.AddDate(0, 0, -resolvedDaysAgo)
		p.ResolvedAt = &t
	}
	return p
}
