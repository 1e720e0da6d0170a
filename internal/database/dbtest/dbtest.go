// Package dbtest opens migrated throwaway sqlite databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/AlexTLDR/rsvp/internal/database"
)

// New returns a migrated sqlite database in the test's temp dir. It is
// closed when the test ends.
func New(t testing.TB) *database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rsvp.db")
	db, err := database.New("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

// Household creates a household with the given guests and fails the test on error.
func Household(t testing.TB, db *database.DB, label, phone string, guests ...string) *database.Household {
	t.Helper()

	hh, err := db.CreateHousehold(t.Context(), label, phone)
	if err != nil {
		t.Fatalf("CreateHousehold(%q): %v", label, err)
	}
	for _, name := range guests {
		if _, err := db.CreateGuest(t.Context(), hh.ID, name); err != nil {
			t.Fatalf("CreateGuest(%q): %v", name, err)
		}
	}
	return hh
}
