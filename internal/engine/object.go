package engine

import (
	"slices"

	"github.com/roach88/savepipe/internal/model"
)

// Object is an entity instance: a property bag plus child collections.
//
// Callers mutate objects freely; the session notices on the next
// DetectChanges. Identity is pointer identity: two objects with equal
// values are still two instances.
type Object struct {
	entityType string
	values     map[string]model.Value
	navs       map[string][]*Object
}

// NewObject creates an empty instance of entityType.
func NewObject(entityType string) *Object {
	return &Object{
		entityType: entityType,
		values:     make(map[string]model.Value),
		navs:       make(map[string][]*Object),
	}
}

// Type returns the entity type name.
func (o *Object) Type() string {
	return o.entityType
}

// Set assigns a property value and returns o for chaining.
func (o *Object) Set(name string, v model.Value) *Object {
	if v == nil {
		v = model.Null{}
	}
	o.values[name] = v
	return o
}

// Get returns a property value, or Null when unset.
func (o *Object) Get(name string) model.Value {
	if v, ok := o.values[name]; ok {
		return v
	}
	return model.Null{}
}

// SetCollection replaces a navigation collection wholesale.
func (o *Object) SetCollection(navigation string, children ...*Object) *Object {
	o.navs[navigation] = slices.Clone(children)
	return o
}

// Append adds children to a navigation collection.
func (o *Object) Append(navigation string, children ...*Object) *Object {
	o.navs[navigation] = append(o.navs[navigation], children...)
	return o
}

// RemoveFrom removes child from a navigation collection.
func (o *Object) RemoveFrom(navigation string, child *Object) bool {
	members := o.navs[navigation]
	i := slices.Index(members, child)
	if i < 0 {
		return false
	}
	o.navs[navigation] = slices.Delete(slices.Clone(members), i, i+1)
	return true
}

// Collection returns a copy of a navigation collection.
func (o *Object) Collection(navigation string) []*Object {
	return slices.Clone(o.navs[navigation])
}
