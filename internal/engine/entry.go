package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/savepipe/internal/model"
)

// State is the tracking state of an entry.
type State int

const (
	Detached State = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState accepts the names produced by String.
func ParseState(s string) (State, error) {
	for _, st := range []State{Detached, Unchanged, Added, Modified, Deleted} {
		if st.String() == s {
			return st, nil
		}
	}
	return Detached, fmt.Errorf("unknown state %q", s)
}

// CollectionSnapshot records the members of one navigation collection as
// of the last load or save. Members are compared by instance identity.
type CollectionSnapshot struct {
	Navigation string
	Members    []*Object
}

// Contains reports whether o was a member.
func (c *CollectionSnapshot) Contains(o *Object) bool {
	return c != nil && slices.Contains(c.Members, o)
}

// Entry is the tracking record of one object.
//
// Original values are set when the entry is tracked as persisted and are
// changed afterwards only by the post-save refresh.
type Entry struct {
	id     int
	object *Object
	meta   *model.EntityMetadata
	state  State
	staged int64

	current   map[string]model.Value
	original  map[string]model.Value
	temporary map[string]bool
	changed   []string

	snapshots  map[string]*CollectionSnapshot
	principals map[string]*Entry // relationship -> principal entry

	// orphaned marks an entry deleted because it left its principal's
	// collection; putting it back restores it.
	orphaned bool
	indexed  string
}

// ID is the entry's arena index, stable for the life of the session.
func (e *Entry) ID() int { return e.id }

func (e *Entry) Object() *Object                 { return e.object }
func (e *Entry) Metadata() *model.EntityMetadata { return e.meta }
func (e *Entry) State() State                    { return e.state }

// Staged is the logical time of the entry's last state transition.
func (e *Entry) Staged() int64 { return e.staged }

// Current returns the value of name as of the last detection.
func (e *Entry) Current(name string) model.Value {
	return valueOf(e.current, name)
}

// Original returns the persisted value of name. Added entries have none.
func (e *Entry) Original(name string) model.Value {
	return valueOf(e.original, name)
}

// Changed returns the properties found modified by the last detection, in
// declaration order.
func (e *Entry) Changed() []string {
	return slices.Clone(e.changed)
}

// IsTemporary reports whether name holds a placeholder key value.
func (e *Entry) IsTemporary(name string) bool {
	return e.temporary[name]
}

// HasTemporaryKey reports whether any key property is a placeholder.
func (e *Entry) HasTemporaryKey() bool {
	for _, k := range e.meta.Key {
		if e.temporary[k] {
			return true
		}
	}
	return false
}

// Key returns the current key values in key order.
func (e *Entry) Key() model.Key {
	return e.keyFrom(e.current)
}

// OriginalKey returns the persisted key, falling back to the current key
// for entries that were never persisted.
func (e *Entry) OriginalKey() model.Key {
	if len(e.original) == 0 {
		return e.Key()
	}
	return e.keyFrom(e.original)
}

// Snapshot returns the collection snapshot for a navigation.
func (e *Entry) Snapshot(navigation string) *CollectionSnapshot {
	return e.snapshots[navigation]
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s %s %s", e.meta.Name, e.Key(), e.state)
}

func (e *Entry) keyFrom(values map[string]model.Value) model.Key {
	key := make(model.Key, len(e.meta.Key))
	for i, k := range e.meta.Key {
		key[i] = model.Field{Name: k, Value: valueOf(values, k)}
	}
	return key
}

func (e *Entry) identity() string {
	return identityOf(e.meta.Name, e.OriginalKey())
}

// takeSnapshots records the current members of every navigation.
func (e *Entry) takeSnapshots() {
	e.snapshots = make(map[string]*CollectionSnapshot, len(e.meta.Relationships))
	for _, rel := range e.meta.Relationships {
		e.snapshots[rel.Navigation] = &CollectionSnapshot{
			Navigation: rel.Navigation,
			Members:    e.object.Collection(rel.Navigation),
		}
	}
}

func identityOf(entityType string, key model.Key) string {
	return entityType + "\x00" + key.Identity()
}

func relationshipKey(rel *model.Relationship) string {
	return rel.Principal + "." + rel.Navigation
}

func valueOf(values map[string]model.Value, name string) model.Value {
	if v, ok := values[name]; ok && v != nil {
		return v
	}
	return model.Null{}
}

func copyValues(values map[string]model.Value) map[string]model.Value {
	out := make(map[string]model.Value, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// readValues reads every declared property from obj, checking kinds.
func readValues(meta *model.EntityMetadata, obj *Object) (map[string]model.Value, error) {
	values := make(map[string]model.Value, len(meta.Properties))
	for _, p := range meta.Properties {
		v := obj.Get(p.Name)
		if !model.IsNull(v) {
			if kind, _ := model.KindOf(v); kind != p.Kind {
				return nil, &Error{
					Code:    ErrCodeInvalidValue,
					Message: fmt.Sprintf("property %s is %s, got %s", p.Name, p.Kind, model.Format(v)),
					Entity:  meta.Name,
				}
			}
		}
		values[p.Name] = v
	}
	return values, nil
}
