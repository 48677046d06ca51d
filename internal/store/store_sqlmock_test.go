package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

// TestUpsertAgentSQLShape asserts the exact statement UpsertAgent issues,
// using go-sqlmock rather than a live database — matches the teacher's
// practice of asserting SQL shape with a mocked driver alongside real
// file-backed integration tests.
func TestUpsertAgentSQLShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := fromDB(db)

	mock.ExpectExec("INSERT INTO agents").
		WithArgs("alpha", "Alpha", "mux", "/tmp/alpha", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.UpsertAgent(context.Background(), Agent{
		ID:         "alpha",
		Name:       "Alpha",
		Backend:    "mux",
		WorkingDir: "/tmp/alpha",
	})
	if err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
