package sqlite

import (
	"testing"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// The name is derived from t.Name() so parallel tests stay isolated.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewMemoryDB(t.Name())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}
