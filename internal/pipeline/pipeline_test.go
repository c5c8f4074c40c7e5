package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adviseriq/advisor-cli/internal/cache"
	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/resilience"
	"github.com/adviseriq/advisor-cli/pkg/crm"
	"github.com/adviseriq/advisor-cli/pkg/safety"
)

type pipelineFixture struct {
	tc *mockTelemetryClient
	kc *mockKBClient
	cc *mockCRMClient
	sc *mockSafetyChecker
	st *mockStore
	p  *Pipeline
}

func newTestPipeline(opts Options) *pipelineFixture {
	f := &pipelineFixture{
		tc: new(mockTelemetryClient),
		kc: new(mockKBClient),
		cc: new(mockCRMClient),
		sc: new(mockSafetyChecker),
		st: new(mockStore),
	}
	gw := testGateway()
	cat := testCatalog()

	retriever := NewRetriever(gw, f.tc, f.kc, cat, cache.New[[]model.UsageRecord](), opts)
	retriever.nowFunc = func() time.Time { return testNow }
	sentiment := NewSentimentAnalyzer(gw, f.cc, opts)
	sentiment.nowFunc = func() time.Time { return testNow }
	reasoner := NewReasoner(NewHeuristicGenerator(cat), opts)
	reasoner.nowFunc = func() time.Time { return testNow }
	validator := NewValidator(gw, f.sc, opts)
	validator.nowFunc = func() time.Time { return testNow }

	f.p = New(retriever, sentiment, reasoner, validator, f.st, f.cc, cache.New[*model.CustomerProfile](), opts)
	return f
}

func TestRun_EndToEnd(t *testing.T) {
	f := newTestPipeline(Options{})
	f.cc.On("GetCustomer", mock.Anything, "cus-100").Return(growthProfile(), nil)
	f.cc.On("RecentInteractions", mock.Anything, "cus-100", 12).
		Return(interactions(0.5, 0.4, 0.3, 0.2), nil)
	f.tc.On("GetTrends", mock.Anything, "cus-100", 90).Return(usageFixture(), nil)
	f.kc.On("Search", mock.Anything, mock.Anything).Return(snippetFixture(), nil)
	f.sc.On("Check", mock.Anything, mock.Anything).Return(safety.Verdict{Allowed: true}, nil)
	f.st.On("PriorRecommendations", mock.Anything, "cus-100", 4).Return([]model.Recommendation{}, nil)

	var persistedRecs []model.Recommendation
	var persistedContribs []model.StageContribution
	f.st.On("PersistRecommendations", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			persistedRecs = args.Get(1).([]model.Recommendation)
			persistedContribs = args.Get(2).([]model.StageContribution)
		}).Return(nil)

	result, err := f.p.Run(context.Background(), "cus-100")
	require.NoError(t, err)

	assert.Equal(t, model.RunCompleted, result.State)
	assert.False(t, result.Degraded)
	assert.NotEmpty(t, result.RunID)

	require.NotEmpty(t, result.Recommendations)
	assert.Equal(t, model.CategoryAdoption, result.Recommendations[0].Category)
	assert.Equal(t, "scheduled reports", result.Recommendations[0].TargetFeature)
	ranks := map[model.Category]int{}
	for _, rec := range result.Recommendations {
		ranks[rec.Category]++
		assert.Equal(t, ranks[rec.Category], rec.Rank)
		assert.NotEmpty(t, rec.ReasoningChain)
		assert.Equal(t, model.OutcomePending, rec.Outcome)
	}

	// One contribution per stage on the run itself.
	require.Len(t, result.Contributions, 4)
	seen := map[model.Stage]bool{}
	for _, c := range result.Contributions {
		seen[c.Stage] = true
		assert.Equal(t, model.StageSucceeded, c.Status)
		assert.Equal(t, result.RunID, c.RunID)
	}
	for _, stage := range model.Stages {
		assert.True(t, seen[stage], string(stage))
	}

	// Persisted audit trail fans out per recommendation.
	assert.Equal(t, result.Recommendations, persistedRecs)
	require.Len(t, persistedContribs, 4*len(persistedRecs))
	for _, c := range persistedContribs {
		assert.NotEmpty(t, c.RecommendationID)
	}
}

func TestRun_UnknownCustomer(t *testing.T) {
	f := newTestPipeline(Options{})
	f.cc.On("GetCustomer", mock.Anything, "cus-404").Return(nil, crm.ErrCustomerNotFound)

	result, err := f.p.Run(context.Background(), "cus-404")
	require.Error(t, err)
	assert.True(t, eris.Is(err, crm.ErrCustomerNotFound))
	assert.Equal(t, model.RunFailed, result.State)
	f.st.AssertNotCalled(t, "PersistRecommendations", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_EverySourceDownStillCompletes(t *testing.T) {
	down := func(source string) error {
		return resilience.NewUnavailableError(source, eris.New("connection refused"), 0)
	}
	f := newTestPipeline(Options{})
	f.cc.On("GetCustomer", mock.Anything, "cus-100").Return(nil, down("crm"))
	f.cc.On("RecentInteractions", mock.Anything, "cus-100", 12).Return(nil, down("crm"))
	f.tc.On("GetTrends", mock.Anything, "cus-100", 90).Return(nil, down("usage-trends"))
	f.kc.On("Search", mock.Anything, mock.Anything).Return(nil, down("knowledge-base"))
	f.st.On("PriorRecommendations", mock.Anything, "cus-100", 4).Return([]model.Recommendation{}, nil)

	result, err := f.p.Run(context.Background(), "cus-100")
	require.NoError(t, err, "a fully degraded run is a success, not an error")

	assert.Equal(t, model.RunCompleted, result.State)
	assert.True(t, result.Degraded)
	assert.Empty(t, result.Recommendations, "an unknown plan grounds no candidates")
	f.st.AssertNotCalled(t, "PersistRecommendations", mock.Anything, mock.Anything, mock.Anything)
	f.sc.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
}

func TestRun_PriorStoreFailureDegradesInsteadOfFailing(t *testing.T) {
	f := newTestPipeline(Options{})
	f.cc.On("GetCustomer", mock.Anything, "cus-100").Return(growthProfile(), nil)
	f.cc.On("RecentInteractions", mock.Anything, "cus-100", 12).
		Return(interactions(0.5, 0.4, 0.3, 0.2), nil)
	f.tc.On("GetTrends", mock.Anything, "cus-100", 90).Return(usageFixture(), nil)
	f.kc.On("Search", mock.Anything, mock.Anything).Return(snippetFixture(), nil)
	f.sc.On("Check", mock.Anything, mock.Anything).Return(safety.Verdict{Allowed: true}, nil)
	f.st.On("PriorRecommendations", mock.Anything, "cus-100", 4).
		Return(nil, eris.New("connection pool exhausted"))
	f.st.On("PersistRecommendations", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.p.Run(context.Background(), "cus-100")
	require.NoError(t, err)

	assert.Equal(t, model.RunCompleted, result.State)
	assert.True(t, result.Degraded, "skipped duplicate suppression marks the run degraded")
	assert.NotEmpty(t, result.Recommendations)
}

func TestRun_DeadlineBeforeValidation(t *testing.T) {
	f := newTestPipeline(Options{Deadline: 50 * time.Millisecond})
	f.cc.On("GetCustomer", mock.Anything, "cus-100").Return(growthProfile(), nil)
	f.cc.On("RecentInteractions", mock.Anything, "cus-100", 12).
		Return(interactions(0.5, 0.4), nil)
	f.kc.On("Search", mock.Anything, mock.Anything).Return(snippetFixture(), nil)
	f.tc.On("GetTrends", mock.Anything, "cus-100", 90).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded)

	result, err := f.p.Run(context.Background(), "cus-100")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrTimeout))
	assert.Equal(t, model.RunFailed, result.State)
	f.st.AssertNotCalled(t, "PersistRecommendations", mock.Anything, mock.Anything, mock.Anything)
	f.sc.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
}

func TestRun_PersistFailureFailsRun(t *testing.T) {
	f := newTestPipeline(Options{})
	f.cc.On("GetCustomer", mock.Anything, "cus-100").Return(growthProfile(), nil)
	f.cc.On("RecentInteractions", mock.Anything, "cus-100", 12).
		Return(interactions(0.5, 0.4, 0.3, 0.2), nil)
	f.tc.On("GetTrends", mock.Anything, "cus-100", 90).Return(usageFixture(), nil)
	f.kc.On("Search", mock.Anything, mock.Anything).Return(snippetFixture(), nil)
	f.sc.On("Check", mock.Anything, mock.Anything).Return(safety.Verdict{Allowed: true}, nil)
	f.st.On("PriorRecommendations", mock.Anything, "cus-100", 4).Return([]model.Recommendation{}, nil)
	f.st.On("PersistRecommendations", mock.Anything, mock.Anything, mock.Anything).
		Return(eris.New("disk full"))

	result, err := f.p.Run(context.Background(), "cus-100")
	require.Error(t, err)
	assert.Equal(t, model.RunFailed, result.State)
}

func TestRun_DeclinedPriorSuppressesRepeat(t *testing.T) {
	f := newTestPipeline(Options{})
	f.cc.On("GetCustomer", mock.Anything, "cus-100").Return(growthProfile(), nil)
	f.cc.On("RecentInteractions", mock.Anything, "cus-100", 12).
		Return(interactions(0.5, 0.4, 0.3, 0.2), nil)
	f.tc.On("GetTrends", mock.Anything, "cus-100", 90).Return(usageFixture(), nil)
	f.kc.On("Search", mock.Anything, mock.Anything).Return(snippetFixture(), nil)
	f.sc.On("Check", mock.Anything, mock.Anything).Return(safety.Verdict{Allowed: true}, nil)
	f.st.On("PriorRecommendations", mock.Anything, "cus-100", 4).
		Return([]model.Recommendation{
			prior(model.CategoryAdoption, "scheduled reports", model.OutcomeDeclined, 40, 30),
		}, nil)
	f.st.On("PersistRecommendations", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.p.Run(context.Background(), "cus-100")
	require.NoError(t, err)

	for _, rec := range result.Recommendations {
		assert.NotEqual(t, "scheduled reports", rec.TargetFeature)
	}
	require.NotEmpty(t, result.Recommendations)
	assert.Contains(t, result.Recommendations[0].ReasoningChain[len(result.Recommendations[0].ReasoningChain)-1],
		"suppressed")
}
