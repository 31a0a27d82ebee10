package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/registry"
	"github.com/roach88/savepipe/internal/testutil"
)

// createTestStore creates a new file-backed store with the Store/Item
// tables in place.
func createTestStore(t *testing.T) (*Store, *registry.Registry) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := testutil.StoreRegistry()
	if err := s.EnsureSchema(context.Background(), reg); err != nil {
		t.Fatalf("EnsureSchema() failed: %v", err)
	}
	return s, reg
}

func mustDescribe(t *testing.T, reg *registry.Registry, name string) *model.EntityMetadata {
	t.Helper()
	meta, err := reg.Describe(name)
	if err != nil {
		t.Fatalf("Describe(%q) failed: %v", name, err)
	}
	return meta
}

// seedStore inserts Store 1 "Books" with item lotr directly.
func seedStore(t *testing.T, s *Store) {
	t.Helper()
	stmts := []string{
		`INSERT INTO "Stores" ("StoreId", "Name", "CreatedAt") VALUES (1, 'Books', '2023-01-01')`,
		`INSERT INTO "Items" ("ItemCode", "StoreId", "Name", "CreatedAt") VALUES ('lotr', 1, 'The Fellowship of the Ring', '2023-01-01')`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}
