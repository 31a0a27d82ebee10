package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/savepipe/internal/model"
)

// RowSource reads persisted rows. Rows returns every row of meta's table
// whose properties equal where, with fields named by property.
type RowSource interface {
	Rows(ctx context.Context, meta *model.EntityMetadata, where model.Fields) ([]model.Fields, error)
}

// LoadOptions narrows a Load.
type LoadOptions struct {
	// Where filters root rows by property equality.
	Where model.Fields

	// Include names root navigations to load in addition to the
	// auto-included ones.
	Include []string

	// NoAutoInclude disables auto-included navigations.
	NoAutoInclude bool
}

type loadLink struct {
	parent *Object
	child  *Object
	rel    *model.Relationship
}

// Load reads entityType rows from src and returns their objects.
//
// Rows whose key is already tracked resolve to the tracked object, which
// keeps its in-memory values. A row whose key only matches a Deleted entry
// is skipped. Collections of newly materialized objects are populated from
// src, following auto-included navigations transitively. All new objects
// are tracked as Unchanged once their collections are in place.
func (s *Session) Load(ctx context.Context, src RowSource, entityType string, opts LoadOptions) ([]*Object, error) {
	meta, err := s.registry.Describe(entityType)
	if err != nil {
		return nil, &Error{Code: ErrCodeUnknownEntity, Message: err.Error(), Entity: entityType}
	}
	for _, nav := range opts.Include {
		if _, ok := meta.Relationship(nav); !ok {
			return nil, &Error{
				Code:    ErrCodeInvalidGraph,
				Message: fmt.Sprintf("%s has no navigation %s", entityType, nav),
				Entity:  entityType,
			}
		}
	}

	l := &loader{
		session: s,
		src:     src,
		loaded:  make(map[string]*Object),
		fresh:   make(map[*Object]bool),
	}

	roots, err := l.rows(ctx, meta, opts.Where)
	if err != nil {
		return nil, err
	}

	queue := make([]*Object, 0, len(l.order))
	queue = append(queue, l.order...)
	depth := map[*Object]int{}
	for i := 0; i < len(queue); i++ {
		obj := queue[i]
		objMeta, _ := s.registry.Describe(obj.Type())
		for j := range objMeta.Relationships {
			rel := &objMeta.Relationships[j]
			include := rel.AutoInclude && !opts.NoAutoInclude
			if depth[obj] == 0 && objMeta == meta && slices.Contains(opts.Include, rel.Navigation) {
				include = true
			}
			if !include {
				continue
			}
			children, err := l.children(ctx, obj, objMeta, rel)
			if err != nil {
				return nil, err
			}
			obj.SetCollection(rel.Navigation, children...)
			for _, c := range children {
				if l.fresh[c] && !slices.Contains(queue, c) {
					depth[c] = depth[obj] + 1
					queue = append(queue, c)
				}
				l.links = append(l.links, loadLink{parent: obj, child: c, rel: rel})
			}
		}
	}

	for _, obj := range l.order {
		if _, err := s.track(obj, Unchanged, nil, nil); err != nil {
			return nil, err
		}
	}
	for _, link := range l.links {
		parent, child := s.byObject[link.parent], s.byObject[link.child]
		if parent != nil && child != nil {
			child.principals[relationshipKey(link.rel)] = parent
		}
	}

	s.logger.Debug("loaded entities",
		"entity", entityType,
		"roots", len(roots),
		"materialized", len(l.order))
	return roots, nil
}

type loader struct {
	session *Session
	src     RowSource
	loaded  map[string]*Object
	fresh   map[*Object]bool
	order   []*Object
	links   []loadLink
}

func (l *loader) rows(ctx context.Context, meta *model.EntityMetadata, where model.Fields) ([]*Object, error) {
	rows, err := l.src.Rows(ctx, meta, where)
	if err != nil {
		return nil, &Error{
			Code:    ErrCodeStorage,
			Message: fmt.Sprintf("reading %s", meta.Table),
			Entity:  meta.Name,
			Cause:   err,
		}
	}
	objs := make([]*Object, 0, len(rows))
	for _, row := range rows {
		if obj := l.materialize(meta, row); obj != nil {
			objs = append(objs, obj)
		}
	}
	return objs, nil
}

func (l *loader) children(ctx context.Context, parent *Object, meta *model.EntityMetadata, rel *model.Relationship) ([]*Object, error) {
	target, err := l.session.registry.Describe(rel.Target)
	if err != nil {
		return nil, err
	}
	where := make(model.Fields, len(rel.ForeignKey))
	for i, fk := range rel.ForeignKey {
		where[i] = model.Field{Name: fk, Value: parent.Get(meta.Key[i])}
	}
	return l.rows(ctx, target, where)
}

// materialize resolves a row to the tracked object, an object created
// earlier in this load, or a new object. It returns nil for rows shadowed
// by a Deleted entry.
func (l *loader) materialize(meta *model.EntityMetadata, row model.Fields) *Object {
	key := make(model.Key, len(meta.Key))
	for i, k := range meta.Key {
		key[i] = model.Field{Name: k, Value: row.Get(k)}
	}
	id := identityOf(meta.Name, key)

	if e := l.session.byKey[id]; e != nil {
		return e.object
	}
	for _, e := range l.session.entries {
		if e.state == Deleted && e.identity() == id {
			return nil
		}
	}
	if obj := l.loaded[id]; obj != nil {
		return obj
	}

	obj := NewObject(meta.Name)
	for _, p := range meta.Properties {
		obj.Set(p.Name, row.Get(p.Name))
	}
	l.loaded[id] = obj
	l.fresh[obj] = true
	l.order = append(l.order, obj)
	return obj
}
