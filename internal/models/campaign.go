package models

import "time"

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignQueued    CampaignStatus = "queued"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignAborting  CampaignStatus = "aborting"
	CampaignAborted   CampaignStatus = "aborted"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Terminal reports whether no further transitions are allowed
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignAborted || s == CampaignFailed
}

// Campaign represents an outbound email campaign
type Campaign struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	FromEmail string         `json:"from_email"`
	FromName  string         `json:"from_name"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Status    CampaignStatus `json:"status"`

	// ResumePosition is the index of the next lead to process. It is only
	// advanced after the lead's outcome has been durably recorded, so a
	// crashed run never re-sends the last processed lead.
	ResumePosition int `json:"resume_position"`

	TotalLeads     int `json:"total_leads"`
	ProcessedCount int `json:"processed_count"`
	SkippedCount   int `json:"skipped_count"`
	ErrorCount     int `json:"error_count"`

	Pacing PacingConfig `json:"pacing"`

	StatusReason   string     `json:"status_reason,omitempty"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PacingConfig controls inter-send delays for a campaign
type PacingConfig struct {
	MinDelayMs     int     `json:"min_delay_ms" yaml:"min_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms" yaml:"max_delay_ms"`
	GaussianMean   float64 `json:"gaussian_mean,omitempty" yaml:"gaussian_mean"`
	GaussianStdDev float64 `json:"gaussian_std_dev,omitempty" yaml:"gaussian_std_dev"`
}

// CampaignCounters is an atomic counter delta applied by the repository
type CampaignCounters struct {
	Processed int
	Skipped   int
	Errored   int
}
