package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/grab/internal/testutil"
)

// createTestStore opens a migrated store in a temp dir with a stepping clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	clock := testutil.NewDeterministicClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Second)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return s
}

// createTestOrder inserts the store and an order shell, returning their ids.
func createTestOrder(t *testing.T, s *Store, dedupeKey string) (storeID, orderID int64) {
	t.Helper()
	ctx := context.Background()
	storeID, err := s.UpsertStore(ctx, Shop{Code: "ozon", Name: "Ozon"})
	if err != nil {
		t.Fatalf("UpsertStore() failed: %v", err)
	}
	orderID, err = s.UpsertOrder(ctx, Order{StoreID: storeID, DedupeKey: dedupeKey})
	if err != nil {
		t.Fatalf("UpsertOrder() failed: %v", err)
	}
	return storeID, orderID
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func ptr[T any](v T) *T {
	return &v
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
