package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if _, err := s1.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if _, err := s1.UpsertStore(ctx, Shop{Code: "ozon", Name: "Ozon"}); err != nil {
		t.Fatalf("UpsertStore() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	shop, err := s2.GetStore(ctx, "ozon")
	if err != nil {
		t.Fatalf("GetStore() failed: %v", err)
	}
	if shop.Name != "Ozon" {
		t.Errorf("name = %q, want %q", shop.Name, "Ozon")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(ctx, tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestWithCorrelation_SharesConnection(t *testing.T) {
	s := createTestStore(t)

	view := s.WithCorrelation("run-1")
	if view.CorrelationID() != "run-1" {
		t.Errorf("CorrelationID() = %q, want %q", view.CorrelationID(), "run-1")
	}
	if s.CorrelationID() != "" {
		t.Errorf("parent CorrelationID() = %q, want empty", s.CorrelationID())
	}
	if view.DB() != s.DB() {
		t.Error("view does not share the parent connection")
	}
}

func TestConstraint_ForeignKeyOrderToStore(t *testing.T) {
	s := createTestStore(t)

	_, err := s.UpsertOrder(context.Background(), Order{StoreID: 999, DedupeKey: "k"})
	if err == nil {
		t.Error("expected foreign key violation, got nil")
	}
}
