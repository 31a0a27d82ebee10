// Package registry holds the immutable entity metadata a tracking session
// works against.
//
// A Registry is built once from compiled metadata, validated as a whole, and
// never mutated afterwards, so sessions may share one freely. Malformed
// metadata fails fast with a *ConfigurationError listing every problem.
package registry

import (
	"fmt"
	"regexp"

	"github.com/jinzhu/inflection"

	"github.com/roach88/savepipe/internal/model"
)

// Registry maps entity type names to their metadata.
type Registry struct {
	entities []*model.EntityMetadata
	byName   map[string]*model.EntityMetadata
}

// Build validates entities and returns a frozen registry.
//
// Defaults are applied before validation: an empty table name becomes the
// plural of the entity name (Store -> Stores), an empty column becomes the
// property name.
func Build(entities ...model.EntityMetadata) (*Registry, error) {
	r := &Registry{byName: make(map[string]*model.EntityMetadata, len(entities))}

	var problems []Problem
	for i := range entities {
		meta := cloneMetadata(entities[i])
		if meta.Table == "" {
			meta.Table = inflection.Plural(meta.Name)
		}
		for j := range meta.Properties {
			if meta.Properties[j].Column == "" {
				meta.Properties[j].Column = meta.Properties[j].Name
			}
		}
		if _, dup := r.byName[meta.Name]; dup {
			problems = append(problems, Problem{
				Code:    ErrDuplicateEntity,
				Entity:  meta.Name,
				Message: "entity declared more than once",
			})
			continue
		}
		r.byName[meta.Name] = meta
		r.entities = append(r.entities, meta)
	}

	for _, meta := range r.entities {
		problems = append(problems, validateEntity(meta)...)
	}
	for _, meta := range r.entities {
		problems = append(problems, r.linkRelationships(meta)...)
	}

	if len(problems) > 0 {
		return nil, &ConfigurationError{Problems: problems}
	}
	return r, nil
}

// MustBuild is Build for statically known metadata; it panics on error.
func MustBuild(entities ...model.EntityMetadata) *Registry {
	r, err := Build(entities...)
	if err != nil {
		panic(err)
	}
	return r
}

// Describe returns the metadata for entityType.
func (r *Registry) Describe(entityType string) (*model.EntityMetadata, error) {
	meta, ok := r.byName[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	return meta, nil
}

// Entities returns all metadata in declaration order.
func (r *Registry) Entities() []*model.EntityMetadata {
	return append([]*model.EntityMetadata(nil), r.entities...)
}

// Dependents returns the types whose rows reference entityType through a
// foreign key, in relationship declaration order. A type referencing
// entityType twice is listed once.
func (r *Registry) Dependents(entityType string) []*model.EntityMetadata {
	principal, ok := r.byName[entityType]
	if !ok {
		return nil
	}
	var out []*model.EntityMetadata
	seen := make(map[string]bool)
	for _, rel := range principal.Relationships {
		dep, ok := r.byName[rel.Target]
		if !ok || seen[dep.Name] {
			continue
		}
		seen[dep.Name] = true
		out = append(out, dep)
	}
	return out
}

var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateEntity(meta *model.EntityMetadata) []Problem {
	var problems []Problem
	add := func(code, field, format string, args ...any) {
		problems = append(problems, Problem{
			Code:    code,
			Entity:  meta.Name,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if !validIdentifier.MatchString(meta.Name) {
		add(ErrInvalidIdentifier, "name", "entity name %q is not a valid identifier", meta.Name)
	}
	if !validIdentifier.MatchString(meta.Table) {
		add(ErrInvalidIdentifier, "table", "table name %q is not a valid identifier", meta.Table)
	}

	if len(meta.Key) == 0 {
		add(ErrEmptyKey, "key", "key must name at least one property")
	}

	names := make(map[string]bool, len(meta.Properties))
	columns := make(map[string]bool, len(meta.Properties))
	for _, p := range meta.Properties {
		field := "properties." + p.Name
		if !validIdentifier.MatchString(p.Name) {
			add(ErrInvalidIdentifier, field, "property name %q is not a valid identifier", p.Name)
		}
		if !validIdentifier.MatchString(p.Column) {
			add(ErrInvalidIdentifier, field, "column name %q is not a valid identifier", p.Column)
		}
		if names[p.Name] {
			add(ErrDuplicateProperty, field, "property declared more than once")
		}
		if columns[p.Column] {
			add(ErrDuplicateProperty, field, "column %q used by more than one property", p.Column)
		}
		names[p.Name] = true
		columns[p.Column] = true

		if p.Generated {
			switch {
			case p.Kind != model.KindInt:
				add(ErrInvalidGenerated, field, "generated keys must be int, got %s", p.Kind)
			case !meta.IsKey(p.Name):
				add(ErrInvalidGenerated, field, "only key properties can be generated")
			case len(meta.Key) != 1:
				add(ErrInvalidGenerated, field, "generated keys cannot be part of a composite key")
			}
		}
	}

	seen := make(map[string]bool, len(meta.Key))
	for _, k := range meta.Key {
		p, ok := meta.Property(k)
		switch {
		case !ok:
			add(ErrMissingKeyProperty, "key", "key property %q does not exist", k)
		case seen[k]:
			add(ErrMissingKeyProperty, "key", "key property %q listed twice", k)
		case p.Nullable:
			add(ErrMissingKeyProperty, "key", "key property %q cannot be nullable", k)
		}
		seen[k] = true
	}

	return problems
}

// linkRelationships validates meta's relationships against their targets
// and records the inverse links on each dependent type.
func (r *Registry) linkRelationships(meta *model.EntityMetadata) []Problem {
	var problems []Problem
	for i := range meta.Relationships {
		rel := &meta.Relationships[i]
		rel.Principal = meta.Name
		field := "relationships." + rel.Navigation
		add := func(code, format string, args ...any) {
			problems = append(problems, Problem{
				Code:    code,
				Entity:  meta.Name,
				Field:   field,
				Message: fmt.Sprintf(format, args...),
			})
		}

		if !validIdentifier.MatchString(rel.Navigation) {
			add(ErrInvalidIdentifier, "navigation name %q is not a valid identifier", rel.Navigation)
		}
		if _, clash := meta.Property(rel.Navigation); clash {
			add(ErrDuplicateProperty, "navigation %q clashes with a property", rel.Navigation)
		}

		target, ok := r.byName[rel.Target]
		if !ok {
			add(ErrUnknownTarget, "target entity %q does not exist", rel.Target)
			continue
		}
		if len(rel.ForeignKey) != len(meta.Key) {
			add(ErrForeignKeyArity, "foreign key has %d properties, principal key has %d",
				len(rel.ForeignKey), len(meta.Key))
			continue
		}

		valid := true
		required := true
		for j, fk := range rel.ForeignKey {
			fkProp, ok := target.Property(fk)
			if !ok {
				add(ErrMissingForeignKey, "foreign key property %q does not exist on %s", fk, target.Name)
				valid = false
				continue
			}
			pkProp, ok := meta.Property(meta.Key[j])
			if ok && pkProp.Kind != fkProp.Kind {
				add(ErrForeignKeyKind, "foreign key %s.%s is %s but %s.%s is %s",
					target.Name, fk, fkProp.Kind, meta.Name, pkProp.Name, pkProp.Kind)
				valid = false
			}
			if fkProp.Nullable {
				required = false
			}
		}
		if !valid {
			continue
		}
		rel.Required = required
		target.References = append(target.References, *rel)
	}
	return problems
}

func cloneMetadata(m model.EntityMetadata) *model.EntityMetadata {
	out := m
	out.Key = append([]string(nil), m.Key...)
	out.Properties = append([]model.PropertyMetadata(nil), m.Properties...)
	out.Relationships = make([]model.Relationship, len(m.Relationships))
	for i, rel := range m.Relationships {
		rel.ForeignKey = append([]string(nil), rel.ForeignKey...)
		out.Relationships[i] = rel
	}
	out.References = nil
	return &out
}
