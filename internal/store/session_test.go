package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/roach88/savepipe/internal/engine"
	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/registry"
	"github.com/roach88/savepipe/internal/testutil"
)

var (
	_ engine.BatchExecutor = (*Store)(nil)
	_ engine.RowSource     = (*Store)(nil)
)

func newSession(s *Store, reg *registry.Registry, opts ...engine.Option) *engine.Session {
	base := []engine.Option{
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithSessionIDGenerator(engine.NewFixedGenerator("store-test")),
	}
	return engine.NewSession(reg, s, append(base, opts...)...)
}

// replaceCollection runs both units of work of the collection replacement
// scenario against s.
func replaceCollection(t *testing.T, s *Store, reg *registry.Registry, policy engine.ReplacementPolicy) {
	t.Helper()
	ctx := context.Background()

	first := newSession(s, reg)
	item := engine.NewObject("Item").
		Set("ItemCode", model.String("lotr")).
		Set("StoreId", model.Int(1)).
		Set("Name", model.String("The Fellowship of the Ring")).
		Set("CreatedAt", model.String("2023-01-01")).
		Set("UpdatedAt", model.String("2023-01-01"))
	books := engine.NewObject("Store").
		Set("Name", model.String("Books")).
		Set("CreatedAt", model.String("2023-01-01")).
		Set("UpdatedAt", model.String("2023-01-01")).
		SetCollection("Items", item)
	if _, err := first.Add(books); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if _, err := first.SaveChanges(ctx); err != nil {
		t.Fatalf("first SaveChanges() failed: %v", err)
	}

	second := newSession(s, reg, engine.WithReplacementPolicy(policy))
	roots, err := second.Load(ctx, s, "Store", engine.LoadOptions{})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(roots) != 1 || len(roots[0].Collection("Items")) != 1 {
		t.Fatalf("loaded %d stores, expected one store with one item", len(roots))
	}
	roots[0].
		Set("Name", model.String("New Books")).
		Set("CreatedAt", model.String("2024-02-02")).
		Set("UpdatedAt", model.String("2024-02-02")).
		SetCollection("Items", engine.NewObject("Item").
			Set("ItemCode", model.String("lotr")).
			Set("StoreId", model.Int(1)).
			Set("Name", model.String("The Two Towers")).
			Set("CreatedAt", model.String("2024-02-02")).
			Set("UpdatedAt", model.String("2024-02-02")))
	if _, err := second.SaveChanges(ctx); err != nil {
		t.Fatalf("second SaveChanges() failed: %v", err)
	}
}

func TestSession_CollectionReplacementDeleteInsert(t *testing.T) {
	s, reg := createTestStore(t)
	replaceCollection(t, s, reg, engine.ReplaceDeleteInsert)
	ctx := context.Background()

	stores, err := s.Rows(ctx, mustDescribe(t, reg, "Store"), nil)
	if err != nil {
		t.Fatalf("Rows() failed: %v", err)
	}
	wantStore := testutil.Row("StoreId", 1, "Name", "New Books", "CreatedAt", "2023-01-01", "UpdatedAt", "2024-02-02")
	if len(stores) != 1 || !stores[0].Equal(wantStore) {
		t.Errorf("stores = %v, expected [%v]", stores, wantStore)
	}

	items, err := s.Rows(ctx, mustDescribe(t, reg, "Item"), nil)
	if err != nil {
		t.Fatalf("Rows() failed: %v", err)
	}
	wantItem := testutil.Row("ItemCode", "lotr", "StoreId", 1, "Name", "The Two Towers", "CreatedAt", "2024-02-02", "UpdatedAt", nil)
	if len(items) != 1 || !items[0].Equal(wantItem) {
		t.Errorf("items = %v, expected [%v]", items, wantItem)
	}
}

func TestSession_CollectionReplacementUpdateInPlace(t *testing.T) {
	s, reg := createTestStore(t)
	replaceCollection(t, s, reg, engine.ReplaceUpdateInPlace)

	items, err := s.Rows(context.Background(), mustDescribe(t, reg, "Item"), nil)
	if err != nil {
		t.Fatalf("Rows() failed: %v", err)
	}
	wantItem := testutil.Row("ItemCode", "lotr", "StoreId", 1, "Name", "The Two Towers", "CreatedAt", "2023-01-01", "UpdatedAt", "2024-02-02")
	if len(items) != 1 || !items[0].Equal(wantItem) {
		t.Errorf("items = %v, expected [%v]", items, wantItem)
	}
}

func TestSession_RowNotFoundIsStorageError(t *testing.T) {
	s, reg := createTestStore(t)
	seedStore(t, s)
	ctx := context.Background()

	sess := newSession(s, reg)
	roots, err := sess.Load(ctx, s, "Store", engine.LoadOptions{NoAutoInclude: true})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if _, err := s.db.Exec(`DELETE FROM "Items"`); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.db.Exec(`DELETE FROM "Stores"`); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	roots[0].Set("Name", model.String("Gone"))
	_, err = sess.SaveChanges(ctx)
	if !engine.IsStorageError(err) {
		t.Fatalf("SaveChanges() error = %v, expected storage error", err)
	}
	if e := sess.Entry(roots[0]); e == nil || e.State() != engine.Modified {
		t.Errorf("entry state changed after failed save")
	}
}
