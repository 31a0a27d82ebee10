package model

import "fmt"

// Kind is the scalar type of a property.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
)

// SaveBehavior restricts which operation kinds may carry a property.
type SaveBehavior int

const (
	// Always includes the property in inserts and updates.
	Always SaveBehavior = iota
	// OmitOnInsert never writes the property in an insert.
	OmitOnInsert
	// OmitOnUpdate never writes the property in an update.
	OmitOnUpdate
)

func (b SaveBehavior) String() string {
	switch b {
	case Always:
		return "always"
	case OmitOnInsert:
		return "omit_on_insert"
	case OmitOnUpdate:
		return "omit_on_update"
	}
	return fmt.Sprintf("SaveBehavior(%d)", int(b))
}

// ParseSaveBehavior accepts the names produced by String.
func ParseSaveBehavior(s string) (SaveBehavior, error) {
	switch s {
	case "", "always":
		return Always, nil
	case "omit_on_insert":
		return OmitOnInsert, nil
	case "omit_on_update":
		return OmitOnUpdate, nil
	}
	return Always, fmt.Errorf("unknown save behavior %q (want always, omit_on_insert, or omit_on_update)", s)
}

// PropertyMetadata describes one scalar property of an entity.
type PropertyMetadata struct {
	Name      string
	Column    string
	Kind      Kind
	Nullable  bool
	Generated bool // store assigns the value on insert
	Save      SaveBehavior
}

// Relationship is a one-to-many link declared on the principal type.
//
// ForeignKey names properties of the dependent (Target) type, in the same
// order as the principal's key.
type Relationship struct {
	Navigation  string
	Principal   string
	Target      string
	ForeignKey  []string
	AutoInclude bool
	// Required is set by the registry when every foreign key property is
	// non-nullable. Orphans of a required relationship are deleted; orphans
	// of an optional one have their foreign key nulled.
	Required bool
}

// EntityMetadata is the static shape of one entity type.
type EntityMetadata struct {
	Name          string
	Table         string
	Key           []string
	Properties    []PropertyMetadata
	Relationships []Relationship

	// References lists the relationships in which this type is the
	// dependent. Filled by the registry.
	References []Relationship
}

// Property returns the named property.
func (m *EntityMetadata) Property(name string) (*PropertyMetadata, bool) {
	for i := range m.Properties {
		if m.Properties[i].Name == name {
			return &m.Properties[i], true
		}
	}
	return nil, false
}

// Relationship returns the relationship behind a navigation name.
func (m *EntityMetadata) Relationship(navigation string) (*Relationship, bool) {
	for i := range m.Relationships {
		if m.Relationships[i].Navigation == navigation {
			return &m.Relationships[i], true
		}
	}
	return nil, false
}

// IsKey reports whether name is part of the primary key.
func (m *EntityMetadata) IsKey(name string) bool {
	for _, k := range m.Key {
		if k == name {
			return true
		}
	}
	return false
}

// IsForeignKey reports whether name takes part in any inbound relationship.
func (m *EntityMetadata) IsForeignKey(name string) bool {
	for _, ref := range m.References {
		for _, fk := range ref.ForeignKey {
			if fk == name {
				return true
			}
		}
	}
	return false
}

// GeneratedKey returns the store-generated key property, if any.
func (m *EntityMetadata) GeneratedKey() (*PropertyMetadata, bool) {
	for i := range m.Properties {
		if m.Properties[i].Generated {
			return &m.Properties[i], true
		}
	}
	return nil, false
}
