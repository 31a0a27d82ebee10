// Package testutil provides shared fixtures for engine, store and harness
// tests: the Store/Item metadata of the collection-replacement scenario, a
// self-referencing Employee type, and an in-memory storage collaborator.
package testutil

import (
	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/registry"
)

// StoreMetadata describes Store: a generated key, timestamps restricted by
// save behavior, and an auto-included Items collection.
func StoreMetadata() model.EntityMetadata {
	return model.EntityMetadata{
		Name: "Store",
		Key:  []string{"StoreId"},
		Properties: []model.PropertyMetadata{
			{Name: "StoreId", Kind: model.KindInt, Generated: true},
			{Name: "Name", Kind: model.KindString},
			{Name: "CreatedAt", Kind: model.KindString, Save: model.OmitOnUpdate},
			{Name: "UpdatedAt", Kind: model.KindString, Nullable: true, Save: model.OmitOnInsert},
		},
		Relationships: []model.Relationship{
			{Navigation: "Items", Target: "Item", ForeignKey: []string{"StoreId"}, AutoInclude: true},
		},
	}
}

// ItemMetadata describes Item, keyed by (StoreId, ItemCode).
func ItemMetadata() model.EntityMetadata {
	return model.EntityMetadata{
		Name: "Item",
		Key:  []string{"StoreId", "ItemCode"},
		Properties: []model.PropertyMetadata{
			{Name: "ItemCode", Kind: model.KindString},
			{Name: "StoreId", Kind: model.KindInt},
			{Name: "Name", Kind: model.KindString},
			{Name: "CreatedAt", Kind: model.KindString, Save: model.OmitOnUpdate},
			{Name: "UpdatedAt", Kind: model.KindString, Nullable: true, Save: model.OmitOnInsert},
		},
	}
}

// EmployeeMetadata describes a type whose optional Reports relationship
// points back at itself.
func EmployeeMetadata() model.EntityMetadata {
	return model.EntityMetadata{
		Name: "Employee",
		Key:  []string{"EmployeeId"},
		Properties: []model.PropertyMetadata{
			{Name: "EmployeeId", Kind: model.KindInt, Generated: true},
			{Name: "Name", Kind: model.KindString},
			{Name: "ManagerId", Kind: model.KindInt, Nullable: true},
		},
		Relationships: []model.Relationship{
			{Navigation: "Reports", Target: "Employee", ForeignKey: []string{"ManagerId"}},
		},
	}
}

// StoreRegistry builds a registry of Store and Item. Pass a modifier to
// change Store before the build, e.g. to drop a save behavior.
func StoreRegistry(modify ...func(store *model.EntityMetadata)) *registry.Registry {
	store := StoreMetadata()
	for _, m := range modify {
		m(&store)
	}
	return registry.MustBuild(store, ItemMetadata())
}

// EmployeeRegistry builds a registry holding only Employee.
func EmployeeRegistry() *registry.Registry {
	return registry.MustBuild(EmployeeMetadata())
}

// Row builds a field list from alternating names and values. Values are
// converted with model.FromAny; nil becomes Null.
func Row(pairs ...any) model.Fields {
	if len(pairs)%2 != 0 {
		panic("testutil.Row: odd number of arguments")
	}
	row := make(model.Fields, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		v, err := model.FromAny(pairs[i+1])
		if err != nil {
			panic(err)
		}
		row = append(row, model.Field{Name: pairs[i].(string), Value: v})
	}
	return row
}
