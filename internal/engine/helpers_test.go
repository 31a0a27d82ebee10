package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/registry"
	"github.com/roach88/savepipe/internal/testutil"
)

func newTestSession(t *testing.T, reg *registry.Registry, exec BatchExecutor, opts ...Option) *Session {
	t.Helper()
	base := []Option{
		WithSessionIDGenerator(NewFixedGenerator("test-session")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewSession(reg, exec, append(base, opts...)...)
}

// alwaysCreatedAt lets Store.CreatedAt be written by updates.
func alwaysCreatedAt(store *model.EntityMetadata) {
	store.Properties[2].Save = model.Always
}

func newStore(id int64, name, createdAt string) *Object {
	o := NewObject("Store").
		Set("Name", model.String(name)).
		Set("CreatedAt", model.String(createdAt))
	if id != 0 {
		o.Set("StoreId", model.Int(id))
	}
	return o
}

func newItem(code string, storeID int64, name, createdAt string) *Object {
	return NewObject("Item").
		Set("ItemCode", model.String(code)).
		Set("StoreId", model.Int(storeID)).
		Set("Name", model.String(name)).
		Set("CreatedAt", model.String(createdAt))
}

func newEmployee(id int64, name string) *Object {
	o := NewObject("Employee").Set("Name", model.String(name))
	if id != 0 {
		o.Set("EmployeeId", model.Int(id))
	}
	return o
}

// attachedStore attaches Store 1 "Books" holding item lotr.
func attachedStore(t *testing.T, s *Session) (store, item *Object) {
	t.Helper()
	item = newItem("lotr", 1, "The Fellowship of the Ring", "2023-01-01")
	store = newStore(1, "Books", "2023-01-01").SetCollection("Items", item)
	_, err := s.Attach(store)
	require.NoError(t, err)
	return store, item
}

func opsOfKind(b *Batch, kind model.OperationKind) []PlannedOperation {
	var out []PlannedOperation
	for _, p := range b.Operations {
		if p.Operation.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func describe(t *testing.T, reg *registry.Registry, name string) *model.EntityMetadata {
	t.Helper()
	meta, err := reg.Describe(name)
	require.NoError(t, err)
	return meta
}

var _ BatchExecutor = (*testutil.MemoryStore)(nil)
var _ RowSource = (*testutil.MemoryStore)(nil)
