package repository

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tealmail/drip/internal/db"
	"github.com/tealmail/drip/internal/models"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	for _, m := range db.Migrations {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}

	return conn
}

// createTestCampaign inserts a campaign with the given status and returns it
func createTestCampaign(t *testing.T, conn *sql.DB, status models.CampaignStatus) *models.Campaign {
	t.Helper()

	repo := NewCampaignRepository(conn)
	c := &models.Campaign{
		Name:      "spring launch",
		FromEmail: "news@example.com",
		Subject:   "hello",
		Status:    status,
		Pacing:    models.PacingConfig{MinDelayMs: 1000, MaxDelayMs: 5000},
	}
	if err := repo.Create(c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c
}
