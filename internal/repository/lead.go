package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tealmail/drip/internal/models"
)

type LeadRepository struct {
	db *sql.DB
}

func NewLeadRepository(db *sql.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// BulkInsert appends leads to a campaign, assigning sequential positions
// after the current tail. Runs in one transaction.
func (r *LeadRepository) BulkInsert(campaignID string, leads []models.Lead) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRow(
		"SELECT COALESCE(MAX(position) + 1, 0) FROM leads WHERE campaign_id = ?",
		campaignID,
	).Scan(&next)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	for i := range leads {
		l := &leads[i]
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		l.CampaignID = campaignID
		l.Position = next
		l.Status = models.LeadQueued
		l.CreatedAt = now
		l.UpdatedAt = now
		next++

		_, err := tx.Exec(`
			INSERT INTO leads (id, campaign_id, position, email, name, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.CampaignID, l.Position, l.Email, l.Name, l.Status, l.CreatedAt, l.UpdatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert lead: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

const leadColumns = `id, campaign_id, position, email, name, status, status_detail,
	correlation_id, unsubscribed, sent_at, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*models.Lead, error) {
	l := &models.Lead{}
	var name, detail, corr sql.NullString
	err := row.Scan(
		&l.ID, &l.CampaignID, &l.Position, &l.Email, &name, &l.Status, &detail,
		&corr, &l.Unsubscribed, &l.SentAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Name = name.String
	l.StatusDetail = detail.String
	l.CorrelationID = corr.String
	return l, nil
}

// GetByPosition returns the lead at a position within a campaign, nil if the
// position is past the end of the queue
func (r *LeadRepository) GetByPosition(campaignID string, position int) (*models.Lead, error) {
	l, err := scanLead(r.db.QueryRow(
		`SELECT `+leadColumns+` FROM leads WHERE campaign_id = ? AND position = ?`,
		campaignID, position))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// GetByCorrelationID resolves a delivery-feedback event back to its lead
func (r *LeadRepository) GetByCorrelationID(correlationID string) (*models.Lead, error) {
	l, err := scanLead(r.db.QueryRow(
		`SELECT `+leadColumns+` FROM leads WHERE correlation_id = ?`, correlationID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Count returns the number of leads in a campaign
func (r *LeadRepository) Count(campaignID string) (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM leads WHERE campaign_id = ?", campaignID).Scan(&n)
	return n, err
}

// UpdateStatus sets a lead's status and detail
func (r *LeadRepository) UpdateStatus(id string, status models.LeadStatus, detail string) error {
	_, err := r.db.Exec(
		"UPDATE leads SET status = ?, status_detail = ?, updated_at = ? WHERE id = ?",
		status, detail, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead status: %w", err)
	}
	return nil
}

// MarkSent records a successful send with its correlation id
func (r *LeadRepository) MarkSent(id, correlationID string) error {
	now := time.Now()
	_, err := r.db.Exec(`
		UPDATE leads SET status = ?, correlation_id = ?, sent_at = ?, updated_at = ?
		WHERE id = ?`,
		models.LeadSent, correlationID, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark lead sent: %w", err)
	}
	return nil
}

// MarkDelivered upgrades a sent lead to delivered. Leads already in a
// terminal bounce/complaint state are left alone so out-of-order feedback
// cannot resurrect them.
func (r *LeadRepository) MarkDelivered(id string) (bool, error) {
	res, err := r.db.Exec(
		"UPDATE leads SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		models.LeadDelivered, time.Now(), id, models.LeadSent,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkBounced sets the terminal bounced state. Idempotent: a repeated event
// for an already bounced lead is a no-op.
func (r *LeadRepository) MarkBounced(id, detail string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE leads SET status = ?, status_detail = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		models.LeadBounced, detail, time.Now(), id, models.LeadBounced, models.LeadComplained,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkComplained sets the terminal complained state and permanently
// unsubscribes the recipient
func (r *LeadRepository) MarkComplained(id, detail string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE leads SET status = ?, status_detail = ?, unsubscribed = 1, updated_at = ?
		WHERE id = ? AND status != ?`,
		models.LeadComplained, detail, time.Now(), id, models.LeadComplained,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
