package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/adviseriq/advisor-cli/internal/model"
)

// ErrNotFound is returned when a recommendation does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrInvalidTransition is returned when an outcome update violates the
// recommendation lifecycle.
var ErrInvalidTransition = eris.New("store: invalid outcome transition")

// Filter specifies criteria for listing recommendations.
type Filter struct {
	CustomerID string              `json:"customer_id,omitempty"`
	Outcome    model.OutcomeStatus `json:"outcome,omitempty"`
	Category   model.Category      `json:"category,omitempty"`
	Since      time.Time           `json:"since,omitempty"`
	Limit      int                 `json:"limit,omitempty"`
	Offset     int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the recommendation engine.
type Store interface {
	// Recommendations + audit trail. PersistRecommendations writes the
	// recommendations and their stage contributions in a single
	// transaction; a partial failure persists nothing.
	PersistRecommendations(ctx context.Context, recs []model.Recommendation, contribs []model.StageContribution) error
	PriorRecommendations(ctx context.Context, customerID string, months int) ([]model.Recommendation, error)
	GetRecommendation(ctx context.Context, id string) (*model.Recommendation, []model.StageContribution, error)
	ListRecommendations(ctx context.Context, filter Filter) ([]model.Recommendation, error)
	// UpdateOutcome validates the lifecycle transition, stamps the acting
	// agent and resolution time, and returns the updated record.
	UpdateOutcome(ctx context.Context, id string, outcome model.OutcomeStatus, agentID string) (*model.Recommendation, error)

	// Source cache entries (the cache package's persistent backend).
	GetCacheEntry(ctx context.Context, key string) ([]byte, time.Time, error)
	PutCacheEntry(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	DeleteExpiredCache(ctx context.Context) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
