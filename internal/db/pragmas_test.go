package db

import (
	"context"
	"path/filepath"
	"testing"
)

// TestPragmasApplied checks the DSN pragmas on a fresh and a reopened
// database, and on more than one pooled connection.
func TestPragmasApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pragmas.gpkg")
	created, err := NewDB(path)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	created.Close()

	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	// hold one connection so the next queries use another
	held, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	defer held.Close()

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"busy_timeout", "5000"},
		{"synchronous", "1"}, // NORMAL
		{"temp_store", "2"},  // MEMORY
		{"foreign_keys", "1"},
	}
	conns := map[string]Querier{"pool": db, "held": held}
	for _, tt := range tests {
		for name, q := range conns {
			var got string
			if err := q.QueryRowContext(ctx, "PRAGMA "+tt.pragma).Scan(&got); err != nil {
				t.Fatalf("Failed to query %s on %s: %v", tt.pragma, name, err)
			}
			if got != tt.want {
				t.Errorf("%s %s = %s, want %s", name, tt.pragma, got, tt.want)
			}
		}
	}
}
