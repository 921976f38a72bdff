package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tealmail/drip/internal/models"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes an append-only audit record. Metadata is serialized to JSON;
// a nil map is stored as an empty object.
func (r *AuditRepository) Append(eventType, message string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	_, err = r.db.Exec(
		"INSERT INTO audit_log (event_type, message, metadata, created_at) VALUES (?, ?, ?, ?)",
		eventType, message, string(data), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// List returns the most recent audit events, newest first
func (r *AuditRepository) List(eventType string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT id, event_type, message, metadata, created_at FROM audit_log"
	args := []any{}
	if eventType != "" {
		query += " WHERE event_type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.AuditEvent{}
	for rows.Next() {
		var e models.AuditEvent
		var metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &e.Message, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = metadata.String
		events = append(events, e)
	}
	return events, rows.Err()
}
