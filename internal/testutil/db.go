package testutil

import (
	"database/sql"
	"testing"

	"github.com/Shenoy37/voicenotes/internal/db"
)

// SetupTestDB creates an in-memory SQLite database and applies all
// migrations. It returns the database connection, ready for use in tests.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// In-memory database keeps tests fast and isolated.
	database, err := db.InitDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	return database
}
