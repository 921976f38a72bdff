package models

import "time"

// FeedbackType classifies a delivery-feedback event
type FeedbackType string

const (
	FeedbackBounce    FeedbackType = "bounce"
	FeedbackComplaint FeedbackType = "complaint"
	FeedbackDelivery  FeedbackType = "delivery"
)

// FeedbackEvent is a delivery-outcome notification from the mail provider.
// Delivery is at-least-once and possibly out of order.
type FeedbackEvent struct {
	Type          FeedbackType `json:"type"`
	CorrelationID string       `json:"correlation_id"`
	Recipient     string       `json:"recipient"`
	// BounceType distinguishes hard/soft bounces; provider specific
	BounceType    string    `json:"bounce_type,omitempty"`
	BounceSubType string    `json:"bounce_sub_type,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ReputationWindow holds rolling delivery-quality counters for one scope
// (global or a single campaign) over one calendar-day bucket.
type ReputationWindow struct {
	Scope      string    `json:"scope"`
	Bucket     string    `json:"bucket"` // YYYY-MM-DD (UTC)
	Sent       int       `json:"sent"`
	Delivered  int       `json:"delivered"`
	Bounces    int       `json:"bounces"`
	Complaints int       `json:"complaints"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ScopeGlobal is the reputation scope covering all campaigns
const ScopeGlobal = "global"

// BounceRate returns bounces/sent, 0 when nothing was sent
func (w *ReputationWindow) BounceRate() float64 {
	if w.Sent == 0 {
		return 0
	}
	return float64(w.Bounces) / float64(w.Sent)
}

// ComplaintRate returns complaints/sent, 0 when nothing was sent
func (w *ReputationWindow) ComplaintRate() float64 {
	if w.Sent == 0 {
		return 0
	}
	return float64(w.Complaints) / float64(w.Sent)
}

// AuditEvent is an append-only record consumed by external tooling
type AuditEvent struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	Metadata  string    `json:"metadata,omitempty"` // JSON
	CreatedAt time.Time `json:"created_at"`
}
