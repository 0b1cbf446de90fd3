package httpapi

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func mustTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
