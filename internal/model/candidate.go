package model

// Category classifies what a recommendation asks the customer to do.
type Category string

const (
	CategoryAdoption Category = "adoption"
	CategoryUpsell   Category = "upsell"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryAdoption, CategoryUpsell:
		return true
	}
	return false
}

// Candidate is a raw recommendation produced by the reasoning stage, before
// validation. GenerationIndex preserves the order candidates were emitted in
// so ranking ties break deterministically. Annotation carries the
// "previously suggested" note when a near-duplicate is allowed through.
type Candidate struct {
	Category        Category `json:"category"`
	TargetFeature   string   `json:"target_feature"`
	Description     string   `json:"description"`
	Confidence      float64  `json:"confidence"`
	EvidenceIDs     []string `json:"evidence_ids"`
	PriceDelta      float64  `json:"price_delta,omitempty"`
	TierJump        int      `json:"tier_jump,omitempty"`
	Annotation      string   `json:"annotation,omitempty"`
	GenerationIndex int      `json:"generation_index"`
}

// EvidenceStrength is the tie-break score used after confidence: candidates
// grounded on more evidence rank ahead of thinner ones.
func (c Candidate) EvidenceStrength() int {
	return len(c.EvidenceIDs)
}
