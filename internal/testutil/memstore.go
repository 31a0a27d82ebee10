package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/savepipe/internal/model"
)

// MemoryStore is an in-memory storage collaborator. It applies a batch to
// a copy of its tables and swaps the copy in only when every operation
// succeeds, so a failed batch leaves no trace.
type MemoryStore struct {
	mu      sync.Mutex
	tables  map[string][]model.Fields
	lastKey map[string]int64

	// Batches records every committed batch.
	Batches [][]model.Operation

	// FailWith, when set, makes ExecuteBatch reject every batch.
	FailWith error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:  make(map[string][]model.Fields),
		lastKey: make(map[string]int64),
	}
}

// Seed stores row for meta as if it had been inserted earlier.
func (m *MemoryStore) Seed(meta *model.EntityMetadata, row model.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	full := fullRow(meta, row)
	m.tables[meta.Name] = append(m.tables[meta.Name], full)
	if gen, ok := meta.GeneratedKey(); ok {
		if n, ok := full.Get(gen.Name).(model.Int); ok && int64(n) > m.lastKey[meta.Name] {
			m.lastKey[meta.Name] = int64(n)
		}
	}
}

// ExecuteBatch applies ops atomically.
func (m *MemoryStore) ExecuteBatch(ctx context.Context, ops []model.Operation) ([]model.OperationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	tables := make(map[string][]model.Fields, len(m.tables))
	for name, rows := range m.tables {
		tables[name] = append([]model.Fields(nil), rows...)
	}
	lastKey := make(map[string]int64, len(m.lastKey))
	for name, n := range m.lastKey {
		lastKey[name] = n
	}

	assigned := make(map[int64]model.Value)
	resolve := func(op model.Operation, fields model.Fields) (model.Fields, error) {
		out := make(model.Fields, len(fields))
		for i, f := range fields {
			out[i] = f
			if !op.IsTemporary(f.Name) {
				continue
			}
			placeholder, _ := f.Value.(model.Int)
			v, ok := assigned[int64(placeholder)]
			if !ok {
				return nil, fmt.Errorf("%s: no key assigned for placeholder %s", op, model.Format(f.Value))
			}
			out[i].Value = v
		}
		return out, nil
	}

	var results []model.OperationResult
	var err error
	for i, op := range ops {
		meta := op.Entity
		rows := tables[meta.Name]
		var key model.Fields
		if op.Kind != model.Insert {
			if key, err = resolve(op, op.Key); err != nil {
				return nil, err
			}
		}

		switch op.Kind {
		case model.Insert:
			values, err := resolve(op, op.Values)
			if err != nil {
				return nil, err
			}
			if op.Generated != "" {
				lastKey[meta.Name]++
				v := model.Int(lastKey[meta.Name])
				if placeholder, ok := op.Key.Get(op.Generated).(model.Int); ok {
					assigned[int64(placeholder)] = v
				}
				values = append(values, model.Field{Name: op.Generated, Value: v})
				results = append(results, model.OperationResult{
					Index:    i,
					Assigned: model.Fields{{Name: op.Generated, Value: v}},
				})
			}
			row := fullRow(meta, values)
			if findRow(meta, rows, keyOf(meta, row)) >= 0 {
				return nil, fmt.Errorf("%s: duplicate key %s", op, keyOf(meta, row))
			}
			tables[meta.Name] = append(rows, row)

		case model.Update:
			values, err := resolve(op, op.Values)
			if err != nil {
				return nil, err
			}
			idx := findRow(meta, rows, key)
			if idx < 0 {
				return nil, fmt.Errorf("%s: row not found", op)
			}
			row := append(model.Fields(nil), rows[idx]...)
			for _, v := range values {
				for j := range row {
					if row[j].Name == v.Name {
						row[j].Value = v.Value
					}
				}
			}
			rows[idx] = row

		case model.Delete:
			idx := findRow(meta, rows, key)
			if idx < 0 {
				return nil, fmt.Errorf("%s: row not found", op)
			}
			tables[meta.Name] = append(rows[:idx:idx], rows[idx+1:]...)
		}
	}

	m.tables = tables
	m.lastKey = lastKey
	m.Batches = append(m.Batches, ops)
	return results, nil
}

// Rows returns the rows of meta matching where, in insertion order.
func (m *MemoryStore) Rows(ctx context.Context, meta *model.EntityMetadata, where model.Fields) ([]model.Fields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []model.Fields
	for _, row := range m.tables[meta.Name] {
		match := true
		for _, w := range where {
			if !model.Equal(row.Get(w.Name), w.Value) {
				match = false
				break
			}
		}
		if match {
			out = append(out, append(model.Fields(nil), row...))
		}
	}
	return out, nil
}

// Row returns the stored row of meta with the given key.
func (m *MemoryStore) Row(meta *model.EntityMetadata, key model.Fields) (model.Fields, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[meta.Name]
	idx := findRow(meta, rows, key)
	if idx < 0 {
		return nil, false
	}
	return append(model.Fields(nil), rows[idx]...), true
}

// Count returns the number of rows stored for meta.
func (m *MemoryStore) Count(meta *model.EntityMetadata) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[meta.Name])
}

// fullRow orders values by declaration; absent properties are null.
func fullRow(meta *model.EntityMetadata, values model.Fields) model.Fields {
	row := make(model.Fields, len(meta.Properties))
	for i, p := range meta.Properties {
		row[i] = model.Field{Name: p.Name, Value: values.Get(p.Name)}
	}
	return row
}

func keyOf(meta *model.EntityMetadata, row model.Fields) model.Key {
	key := make(model.Key, len(meta.Key))
	for i, k := range meta.Key {
		key[i] = model.Field{Name: k, Value: row.Get(k)}
	}
	return key
}

func findRow(meta *model.EntityMetadata, rows []model.Fields, key model.Fields) int {
	for i, row := range rows {
		match := true
		for _, k := range meta.Key {
			if !model.Equal(row.Get(k), key.Get(k)) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
