package model

import "time"

// InteractionChannel identifies where a customer interaction happened.
type InteractionChannel string

const (
	ChannelSupport InteractionChannel = "support"
	ChannelChat    InteractionChannel = "chat"
	ChannelEmail   InteractionChannel = "email"
	ChannelSurvey  InteractionChannel = "survey"
	ChannelCall    InteractionChannel = "call"
)

// InteractionEvent is a single customer touchpoint pulled from the CRM
// source. Sentiment is the CRM's per-event score in [-1, 1]; Resolved marks
// whether the underlying issue was closed out.
type InteractionEvent struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customer_id"`
	Channel    InteractionChannel `json:"channel"`
	Text       string             `json:"text"`
	Sentiment  float64            `json:"sentiment"`
	Topics     []string           `json:"topics,omitempty"`
	Resolved   bool               `json:"resolved"`
	OccurredAt time.Time          `json:"occurred_at"`
	Agent      string             `json:"agent,omitempty"`
}

// CustomerProfile is the CRM account record for a customer. Tier and plan
// feed the upsell gating rules.
type CustomerProfile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Tier         string    `json:"tier"`
	Plan         string    `json:"plan"`
	MonthlySpend float64   `json:"monthly_spend"`
	SignedUpAt   time.Time `json:"signed_up_at"`
	Industry     string    `json:"industry,omitempty"`
}
