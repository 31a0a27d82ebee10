package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/savepipe/internal/model"
)

// CompileEntity parses one CUE entity struct into EntityMetadata.
//
// The value should be the entity struct itself:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Store: { ... }`)
//	meta, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Store")))
//
// Property kinds come from the CUE type (string, int, bool); a `| null`
// disjunct marks the property nullable. Field attributes carry the rest:
// @save(omit_on_insert|omit_on_update), @generated(), @column(name).
// Structural checks (key references, foreign keys) belong to the registry.
func CompileEntity(v cue.Value) (*model.EntityMetadata, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	meta := &model.EntityMetadata{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		meta.Name = labels[len(labels)-1].String()
	}

	tableVal := v.LookupPath(cue.ParsePath("table"))
	if tableVal.Exists() {
		table, err := tableVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		meta.Table = table
	}

	keyVal := v.LookupPath(cue.ParsePath("key"))
	if !keyVal.Exists() {
		return nil, &CompileError{
			Field:   "key",
			Message: "key is required",
			Pos:     v.Pos(),
		}
	}
	key, err := stringList(keyVal, "key")
	if err != nil {
		return nil, err
	}
	meta.Key = key

	meta.Properties, err = parseProperties(v)
	if err != nil {
		return nil, err
	}

	meta.Relationships, err = parseRelationships(v, meta.Name)
	if err != nil {
		return nil, err
	}

	return meta, nil
}

// CompileAll compiles every entity under the top-level `entity` field in
// declaration order. All compile errors are collected.
func CompileAll(v cue.Value) ([]model.EntityMetadata, []error) {
	entitiesVal := v.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return nil, []error{&CompileError{Field: "entity", Message: "no entities declared", Pos: v.Pos()}}
	}

	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		entities []model.EntityMetadata
		errs     []error
	)
	for iter.Next() {
		meta, err := CompileEntity(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("entity.%s: %w", iter.Label(), err))
			continue
		}
		entities = append(entities, *meta)
	}
	return entities, errs
}

func parseProperties(v cue.Value) ([]model.PropertyMetadata, error) {
	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return nil, &CompileError{
			Field:   "properties",
			Message: "properties is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := propsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var props []model.PropertyMetadata
	for iter.Next() {
		prop, err := parseProperty(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		props = append(props, prop)
	}
	return props, nil
}

func parseProperty(name string, v cue.Value) (model.PropertyMetadata, error) {
	prop := model.PropertyMetadata{Name: name, Column: name}

	kind := v.IncompleteKind()
	prop.Nullable = kind&cue.NullKind != 0
	switch kind &^ cue.NullKind {
	case cue.StringKind:
		prop.Kind = model.KindString
	case cue.IntKind:
		prop.Kind = model.KindInt
	case cue.BoolKind:
		prop.Kind = model.KindBool
	case cue.FloatKind, cue.NumberKind:
		return prop, &CompileError{
			Field:   "properties." + name,
			Message: "float properties are not supported, use int",
			Pos:     v.Pos(),
		}
	default:
		return prop, &CompileError{
			Field:   "properties." + name,
			Message: fmt.Sprintf("unsupported property kind: %v", kind),
			Pos:     v.Pos(),
		}
	}

	if attr := v.Attribute("save"); attr.Err() == nil {
		arg, err := attr.String(0)
		if err != nil {
			return prop, &CompileError{Field: "properties." + name, Message: "@save needs an argument", Pos: v.Pos()}
		}
		save, err := model.ParseSaveBehavior(arg)
		if err != nil {
			return prop, &CompileError{Field: "properties." + name, Message: err.Error(), Pos: v.Pos()}
		}
		prop.Save = save
	}

	if attr := v.Attribute("generated"); attr.Err() == nil {
		prop.Generated = true
	}

	if attr := v.Attribute("column"); attr.Err() == nil {
		column, err := attr.String(0)
		if err != nil || column == "" {
			return prop, &CompileError{Field: "properties." + name, Message: "@column needs a name", Pos: v.Pos()}
		}
		prop.Column = column
	}

	return prop, nil
}

func parseRelationships(v cue.Value, principal string) ([]model.Relationship, error) {
	relsVal := v.LookupPath(cue.ParsePath("relationships"))
	if !relsVal.Exists() {
		return nil, nil
	}

	iter, err := relsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var rels []model.Relationship
	for iter.Next() {
		nav := iter.Label()
		relVal := iter.Value()
		field := "relationships." + nav

		rel := model.Relationship{Navigation: nav, Principal: principal}

		targetVal := relVal.LookupPath(cue.ParsePath("target"))
		if !targetVal.Exists() {
			return nil, &CompileError{Field: field, Message: "target is required", Pos: relVal.Pos()}
		}
		if rel.Target, err = targetVal.String(); err != nil {
			return nil, formatCUEError(err)
		}

		fkVal := relVal.LookupPath(cue.ParsePath("foreign_key"))
		if !fkVal.Exists() {
			return nil, &CompileError{Field: field, Message: "foreign_key is required", Pos: relVal.Pos()}
		}
		if rel.ForeignKey, err = stringList(fkVal, field+".foreign_key"); err != nil {
			return nil, err
		}

		autoVal := relVal.LookupPath(cue.ParsePath("auto_include"))
		if autoVal.Exists() {
			if rel.AutoInclude, err = autoVal.Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		rels = append(rels, rel)
	}
	return rels, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: v.Pos()}
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError reports a malformed metadata declaration with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
