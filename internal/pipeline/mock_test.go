package pipeline

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/store"
	"github.com/adviseriq/advisor-cli/pkg/crm"
	"github.com/adviseriq/advisor-cli/pkg/kb"
	"github.com/adviseriq/advisor-cli/pkg/safety"
	"github.com/adviseriq/advisor-cli/pkg/telemetry"
)

// --- Telemetry Mock ---

type mockTelemetryClient struct {
	mock.Mock
}

func (m *mockTelemetryClient) GetTrends(ctx context.Context, customerID string, days int) ([]model.UsageRecord, error) {
	args := m.Called(ctx, customerID, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.UsageRecord), args.Error(1)
}

// --- Knowledge Base Mock ---

type mockKBClient struct {
	mock.Mock
}

func (m *mockKBClient) Search(ctx context.Context, query string, _ ...kb.SearchOption) ([]model.KnowledgeSnippet, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.KnowledgeSnippet), args.Error(1)
}

// --- CRM Mock ---

type mockCRMClient struct {
	mock.Mock
}

func (m *mockCRMClient) GetCustomer(ctx context.Context, customerID string) (*model.CustomerProfile, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CustomerProfile), args.Error(1)
}

func (m *mockCRMClient) RecentInteractions(ctx context.Context, customerID string, months int) ([]model.InteractionEvent, error) {
	args := m.Called(ctx, customerID, months)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InteractionEvent), args.Error(1)
}

// --- Safety Mock ---

type mockSafetyChecker struct {
	mock.Mock
}

func (m *mockSafetyChecker) Check(ctx context.Context, text string) (safety.Verdict, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(safety.Verdict), args.Error(1)
}

// --- Generator Mock ---

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, profile *model.CustomerProfile, evidence model.EvidenceBundle, sentiment model.SentimentAssessment) ([]model.Candidate, error) {
	args := m.Called(ctx, profile, evidence, sentiment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Candidate), args.Error(1)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) PersistRecommendations(ctx context.Context, recs []model.Recommendation, contribs []model.StageContribution) error {
	args := m.Called(ctx, recs, contribs)
	return args.Error(0)
}

func (m *mockStore) PriorRecommendations(ctx context.Context, customerID string, months int) ([]model.Recommendation, error) {
	args := m.Called(ctx, customerID, months)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Recommendation), args.Error(1)
}

func (m *mockStore) GetRecommendation(ctx context.Context, id string) (*model.Recommendation, []model.StageContribution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.Recommendation), args.Get(1).([]model.StageContribution), args.Error(2)
}

func (m *mockStore) ListRecommendations(ctx context.Context, filter store.Filter) ([]model.Recommendation, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Recommendation), args.Error(1)
}

func (m *mockStore) UpdateOutcome(ctx context.Context, id string, outcome model.OutcomeStatus, agentID string) (*model.Recommendation, error) {
	args := m.Called(ctx, id, outcome, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Recommendation), args.Error(1)
}

func (m *mockStore) GetCacheEntry(ctx context.Context, key string) ([]byte, time.Time, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, time.Time{}, args.Error(2)
	}
	return args.Get(0).([]byte), args.Get(1).(time.Time), args.Error(2)
}

func (m *mockStore) PutCacheEntry(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	args := m.Called(ctx, key, value, expiresAt)
	return args.Error(0)
}

func (m *mockStore) DeleteExpiredCache(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Ensure interface compliance ---
var (
	_ telemetry.Client   = (*mockTelemetryClient)(nil)
	_ kb.Client          = (*mockKBClient)(nil)
	_ crm.Client         = (*mockCRMClient)(nil)
	_ safety.Checker     = (*mockSafetyChecker)(nil)
	_ CandidateGenerator = (*mockGenerator)(nil)
	_ store.Store        = (*mockStore)(nil)
)
