package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tealmail/drip/internal/models"
)

type ReputationRepository struct {
	db *sql.DB
}

func NewReputationRepository(db *sql.DB) *ReputationRepository {
	return &ReputationRepository{db: db}
}

// Bucket returns the calendar-day bucket key for a timestamp (UTC)
func Bucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Increment atomically bumps one counter column of a window, creating the
// window row if needed. The upsert keeps concurrent increments from losing
// updates.
func (r *ReputationRepository) Increment(scope, bucket, counter string) error {
	var column string
	switch counter {
	case "sent", "delivered", "bounces", "complaints":
		column = counter
	default:
		return fmt.Errorf("unknown reputation counter %q", counter)
	}

	_, err := r.db.Exec(`
		INSERT INTO reputation_windows (scope, bucket, `+column+`, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(scope, bucket) DO UPDATE SET
			`+column+` = `+column+` + 1,
			updated_at = excluded.updated_at`,
		scope, bucket, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to increment reputation counter: %w", err)
	}
	return nil
}

// Get returns the window for a scope and bucket; a zero window when absent
func (r *ReputationRepository) Get(scope, bucket string) (*models.ReputationWindow, error) {
	w := &models.ReputationWindow{Scope: scope, Bucket: bucket}
	err := r.db.QueryRow(`
		SELECT sent, delivered, bounces, complaints, updated_at
		FROM reputation_windows WHERE scope = ? AND bucket = ?`,
		scope, bucket,
	).Scan(&w.Sent, &w.Delivered, &w.Bounces, &w.Complaints, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return w, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}
