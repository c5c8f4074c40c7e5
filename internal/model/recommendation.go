package model

import (
	"fmt"
	"time"
)

// OutcomeStatus tracks where a recommendation is in its delivery lifecycle.
type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "pending"
	OutcomeDelivered OutcomeStatus = "delivered"
	OutcomeAccepted  OutcomeStatus = "accepted"
	OutcomeDeclined  OutcomeStatus = "declined"
	OutcomeExcluded  OutcomeStatus = "excluded"
)

// outcomeTransitions lists the legal moves away from each status. Accepted
// and Excluded are terminal.
var outcomeTransitions = map[OutcomeStatus][]OutcomeStatus{
	OutcomePending:   {OutcomeDelivered},
	OutcomeDelivered: {OutcomeAccepted, OutcomeDeclined},
	OutcomeDeclined:  {OutcomeExcluded},
}

// CanTransition reports whether a recommendation may move from one status
// to another.
func CanTransition(from, to OutcomeStatus) bool {
	for _, allowed := range outcomeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidOutcome reports whether s is a known outcome status.
func ValidOutcome(s OutcomeStatus) bool {
	switch s {
	case OutcomePending, OutcomeDelivered, OutcomeAccepted, OutcomeDeclined, OutcomeExcluded:
		return true
	}
	return false
}

// InFlight reports whether the recommendation is still live in front of the
// customer. Live suggestions suppress duplicates regardless of age.
func (s OutcomeStatus) InFlight() bool {
	return s == OutcomePending || s == OutcomeDelivered
}

// Recommendation is a validated, ranked suggestion delivered to a customer.
// Rank is 1-based within the category. ReasoningChain is the human-readable
// trail of how each stage shaped the suggestion.
type Recommendation struct {
	ID             string        `json:"id"`
	RunID          string        `json:"run_id"`
	CustomerID     string        `json:"customer_id"`
	Category       Category      `json:"category"`
	TargetFeature  string        `json:"target_feature"`
	Description    string        `json:"description"`
	Confidence     float64       `json:"confidence"`
	Rank           int           `json:"rank"`
	Degraded       bool          `json:"degraded"`
	Annotation     string        `json:"annotation,omitempty"`
	ReasoningChain []string      `json:"reasoning_chain,omitempty"`
	Outcome        OutcomeStatus `json:"outcome"`
	DeliveredBy    string        `json:"delivered_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// Stage names the pipeline stage a contribution record belongs to.
type Stage string

const (
	StageRetrieval  Stage = "retrieval"
	StageSentiment  Stage = "sentiment"
	StageReasoning  Stage = "reasoning"
	StageValidation Stage = "validation"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageRetrieval, StageSentiment, StageReasoning, StageValidation}

// StageStatus records how a stage finished.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageDegraded  StageStatus = "degraded"
	StageFailed    StageStatus = "failed"
)

// StageContribution is the audit record one stage writes for a run. Each
// delivered recommendation carries one contribution per stage, so the full
// provenance of a suggestion can be replayed. Records are write-once;
// RecommendationID is filled in at persist time, once recommendation IDs
// exist.
type StageContribution struct {
	ID               string            `json:"id"`
	RunID            string            `json:"run_id"`
	RecommendationID string            `json:"recommendation_id"`
	Stage            Stage             `json:"stage"`
	Status           StageStatus       `json:"status"`
	Summary          string            `json:"summary"`
	Confidence       float64           `json:"confidence"`
	DurationMS       int64             `json:"duration_ms"`
	Detail           map[string]string `json:"detail,omitempty"`
	RecordedAt       time.Time         `json:"recorded_at"`
}

// RunState is the orchestrator's state machine position.
type RunState string

const (
	RunStarted              RunState = "started"
	RunRetrievingAndSensing RunState = "retrieving_and_sensing"
	RunReasoning            RunState = "reasoning"
	RunValidating           RunState = "validating"
	RunCompleted            RunState = "completed"
	RunFailed               RunState = "failed"
)

// RunResult is the orchestrator's final answer for one generation request.
type RunResult struct {
	RunID           string              `json:"run_id"`
	CustomerID      string              `json:"customer_id"`
	State           RunState            `json:"state"`
	Degraded        bool                `json:"degraded"`
	Recommendations []Recommendation    `json:"recommendations"`
	Contributions   []StageContribution `json:"contributions"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
}

// ByCategory groups the result's recommendations preserving rank order.
func (r RunResult) ByCategory() map[Category][]Recommendation {
	out := make(map[Category][]Recommendation)
	for _, rec := range r.Recommendations {
		out[rec.Category] = append(out[rec.Category], rec)
	}
	return out
}

// GenerationResponse is the shape generation callers receive, with
// recommendations split per category.
type GenerationResponse struct {
	RunID            string           `json:"run_id"`
	CustomerID       string           `json:"customer_id"`
	Adoption         []Recommendation `json:"adoption"`
	Upsell           []Recommendation `json:"upsell"`
	GenerationTimeMS int64            `json:"generationTimeMs"`
	Degraded         bool             `json:"degraded"`
}

// Response converts a run result into the caller-facing shape. Empty
// categories marshal as [] rather than null.
func (r RunResult) Response() GenerationResponse {
	byCat := r.ByCategory()
	adoption := byCat[CategoryAdoption]
	if adoption == nil {
		adoption = []Recommendation{}
	}
	upsell := byCat[CategoryUpsell]
	if upsell == nil {
		upsell = []Recommendation{}
	}
	return GenerationResponse{
		RunID:            r.RunID,
		CustomerID:       r.CustomerID,
		Adoption:         adoption,
		Upsell:           upsell,
		GenerationTimeMS: r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
		Degraded:         r.Degraded,
	}
}

// Validate checks the structural invariants a recommendation must satisfy
// before persistence.
func (r Recommendation) Validate() error {
	if r.CustomerID == "" {
		return fmt.Errorf("recommendation %s: missing customer id", r.ID)
	}
	if !ValidCategory(r.Category) {
		return fmt.Errorf("recommendation %s: unknown category %q", r.ID, r.Category)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("recommendation %s: confidence %.3f out of range", r.ID, r.Confidence)
	}
	if r.Description == "" {
		return fmt.Errorf("recommendation %s: empty description", r.ID)
	}
	return nil
}
