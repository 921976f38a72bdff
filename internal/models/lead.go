package models

import "time"

// LeadStatus tracks a single recipient through verification and delivery
type LeadStatus string

const (
	LeadQueued     LeadStatus = "queued"
	LeadVerifying  LeadStatus = "verifying"
	LeadSending    LeadStatus = "sending"
	LeadSent       LeadStatus = "sent"
	LeadDelivered  LeadStatus = "delivered"
	LeadSkipped    LeadStatus = "skipped"
	LeadBounced    LeadStatus = "bounced"
	LeadComplained LeadStatus = "complained"
	LeadError      LeadStatus = "error"
)

// Lead represents a single recipient within a campaign
type Lead struct {
	ID         string     `json:"id"`
	CampaignID string     `json:"campaign_id"`
	Position   int        `json:"position"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Status     LeadStatus `json:"status"`

	// CorrelationID ties delivery-feedback events back to this lead
	CorrelationID string `json:"correlation_id,omitempty"`

	// StatusDetail carries verification result, send error or bounce subtype
	StatusDetail string `json:"status_detail,omitempty"`

	Unsubscribed bool       `json:"unsubscribed"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
