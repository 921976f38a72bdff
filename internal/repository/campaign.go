package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tealmail/drip/internal/errs"
	"github.com/tealmail/drip/internal/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create creates a new campaign in draft status
func (r *CampaignRepository) Create(c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO campaigns (id, name, from_email, from_name, subject, body, status,
			resume_position, total_leads, processed_count, skipped_count, error_count,
			min_delay_ms, max_delay_ms, gaussian_mean, gaussian_std_dev, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, 0, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.FromEmail, c.FromName, c.Subject, c.Body, c.Status,
		c.Pacing.MinDelayMs, c.Pacing.MaxDelayMs, c.Pacing.GaussianMean, c.Pacing.GaussianStdDev,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

const campaignColumns = `id, name, from_email, from_name, subject, body, status, status_reason,
	resume_position, total_leads, processed_count, skipped_count, error_count,
	min_delay_ms, max_delay_ms, gaussian_mean, gaussian_std_dev,
	paused_at, completed_at, last_activity_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*models.Campaign, error) {
	c := &models.Campaign{}
	var reason, fromName, subject, body sql.NullString
	err := row.Scan(
		&c.ID, &c.Name, &c.FromEmail, &fromName, &subject, &body, &c.Status, &reason,
		&c.ResumePosition, &c.TotalLeads, &c.ProcessedCount, &c.SkippedCount, &c.ErrorCount,
		&c.Pacing.MinDelayMs, &c.Pacing.MaxDelayMs, &c.Pacing.GaussianMean, &c.Pacing.GaussianStdDev,
		&c.PausedAt, &c.CompletedAt, &c.LastActivityAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.FromName = fromName.String
	c.Subject = subject.String
	c.Body = body.String
	c.StatusReason = reason.String
	return c, nil
}

// GetByID returns a campaign by ID, nil if not found
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRow(
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListByStatus returns all campaigns in the given status
func (r *CampaignRepository) ListByStatus(status models.CampaignStatus) ([]models.Campaign, error) {
	rows, err := r.db.Query(
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// Transition moves a campaign from one of the allowed statuses to the target
// status in a single conditional update. It returns a conflict error when the
// campaign is in none of the allowed statuses, which is how concurrent control
// actions lose their race.
func (r *CampaignRepository) Transition(id string, from []models.CampaignStatus, to models.CampaignStatus, reason string) error {
	now := time.Now()

	set := "status = ?, status_reason = ?, updated_at = ?"
	args := []any{to, reason, now}

	switch to {
	case models.CampaignPaused:
		set += ", paused_at = ?"
		args = append(args, now)
	case models.CampaignCompleted:
		set += ", completed_at = ?"
		args = append(args, now)
	case models.CampaignRunning:
		set += ", paused_at = NULL, last_activity_at = ?"
		args = append(args, now)
	}

	placeholders := make([]string, len(from))
	args = append(args, id)
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, s)
	}

	res, err := r.db.Exec(
		"UPDATE campaigns SET "+set+" WHERE id = ? AND status IN ("+strings.Join(placeholders, ",")+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		current, err := r.GetByID(id)
		if err != nil {
			return err
		}
		if current == nil {
			return errs.Newf(errs.KindValidation, "campaign %s not found", id)
		}
		return errs.Newf(errs.KindConflict, "campaign %s is %s, cannot move to %s", id, current.Status, to)
	}
	return nil
}

// Status returns just the current status, read fresh from the database.
// The execution loop calls this every iteration so an asynchronous pause or
// abort is observed at the next safe point.
func (r *CampaignRepository) Status(id string) (models.CampaignStatus, error) {
	var status models.CampaignStatus
	err := r.db.QueryRow("SELECT status FROM campaigns WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", errs.Newf(errs.KindValidation, "campaign %s not found", id)
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// Checkpoint durably records progress after a lead outcome: advances the
// resume position and applies counter deltas as in-database increments so
// concurrent writers cannot lose updates.
func (r *CampaignRepository) Checkpoint(id string, resumePosition int, delta models.CampaignCounters) error {
	_, err := r.db.Exec(`
		UPDATE campaigns SET
			resume_position = ?,
			processed_count = processed_count + ?,
			skipped_count = skipped_count + ?,
			error_count = error_count + ?,
			last_activity_at = ?,
			updated_at = ?
		WHERE id = ?`,
		resumePosition, delta.Processed, delta.Skipped, delta.Errored,
		time.Now(), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to checkpoint campaign: %w", err)
	}
	return nil
}

// SetTotalLeads refreshes the lead count after intake
func (r *CampaignRepository) SetTotalLeads(id string, total int) error {
	_, err := r.db.Exec(
		"UPDATE campaigns SET total_leads = ?, updated_at = ? WHERE id = ?",
		total, time.Now(), id,
	)
	return err
}

// PauseAllRunning transitions every running campaign to paused with the given
// reason. Used by the reputation monitor; returns the ids it paused.
func (r *CampaignRepository) PauseAllRunning(reason string) ([]string, error) {
	running, err := r.ListByStatus(models.CampaignRunning)
	if err != nil {
		return nil, err
	}

	paused := []string{}
	for _, c := range running {
		err := r.Transition(c.ID, []models.CampaignStatus{models.CampaignRunning}, models.CampaignPaused, reason)
		if err != nil {
			if errs.IsConflict(err) {
				continue // finished or aborted in the meantime
			}
			return paused, err
		}
		paused = append(paused, c.ID)
	}
	return paused, nil
}
