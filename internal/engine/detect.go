package engine

import (
	"fmt"

	"github.com/roach88/savepipe/internal/model"
)

// DetectChanges brings every entry up to date with its object.
//
// Navigations are processed first: members that left a collection are
// orphaned, new members are tracked as Added and every member's foreign key
// is fixed up to its principal. Then each persisted entry's values are
// compared to its original values; any difference stages it Modified, none
// returns it to Unchanged.
//
// Replacing a collection member with a new instance carrying the same key
// yields a Deleted entry for the old instance and an Added entry for the
// new one. How that pair is written is up to the ReplacementPolicy.
//
// On error the session and its objects are left as they were before the
// call: orphans staged along the way are restored and newly tracked
// members are dropped again.
func (s *Session) DetectChanges() error {
	sp := s.savepoint()
	if err := s.detectChanges(); err != nil {
		s.rollback(sp)
		return err
	}
	s.release(sp)
	return nil
}

func (s *Session) detectChanges() error {
	queue := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.state != Deleted {
			queue = append(queue, e)
		}
	}
	for i := 0; i < len(queue); i++ {
		if queue[i].state == Deleted || queue[i].state == Detached {
			continue
		}
		added, err := s.detectNavigations(queue[i], Added)
		if err != nil {
			return err
		}
		queue = append(queue, added...)
	}

	for _, e := range s.Entries() {
		if err := s.detectProperties(e); err != nil {
			return err
		}
	}
	return nil
}

// detectNavigations diffs e's collections against their snapshots and
// returns the entries it started tracking, in newState.
func (s *Session) detectNavigations(e *Entry, newState State) ([]*Entry, error) {
	var added []*Entry
	for i := range e.meta.Relationships {
		rel := &e.meta.Relationships[i]
		rk := relationshipKey(rel)
		members := e.object.Collection(rel.Navigation)

		// Removals first, so a replacement can take over the key.
		for _, old := range e.snapshots[rel.Navigation].members() {
			if containsObject(members, old) {
				continue
			}
			child := s.byObject[old]
			if child == nil || child.state == Deleted || child.state == Detached {
				continue
			}
			if p := child.principals[rk]; p != nil && p != e {
				continue
			}
			s.logger.Debug("orphaned collection member",
				"principal", e.meta.Name,
				"navigation", rel.Navigation,
				"entity", child.meta.Name,
				"key", child.Key().String())
			s.orphan(child, rel)
		}

		principalKey := e.Key()
		for _, m := range members {
			if m == nil {
				return added, &Error{
					Code:    ErrCodeInvalidGraph,
					Message: fmt.Sprintf("nil member in %s.%s", e.meta.Name, rel.Navigation),
					Entity:  e.meta.Name,
				}
			}
			if m.Type() != rel.Target {
				return added, &Error{
					Code:    ErrCodeInvalidGraph,
					Message: fmt.Sprintf("%s.%s holds %s, want %s", e.meta.Name, rel.Navigation, m.Type(), rel.Target),
					Entity:  e.meta.Name,
				}
			}

			fixups := make(model.Fields, len(rel.ForeignKey))
			for j, fk := range rel.ForeignKey {
				fixups[j] = model.Field{Name: fk, Value: principalKey[j].Value}
			}

			child := s.byObject[m]
			if child == nil {
				c, err := s.track(m, newState, &trackOrigin{principal: e, rel: rel}, fixups)
				if err != nil {
					return added, err
				}
				added = append(added, c)
				continue
			}

			if child.state == Deleted {
				if !child.orphaned {
					continue
				}
				if err := s.restore(child); err != nil {
					return added, err
				}
			}
			for j, f := range fixups {
				s.setValue(m, f.Name, f.Value)
				child.current[f.Name] = f.Value
				if e.temporary[e.meta.Key[j]] {
					child.temporary[f.Name] = true
				} else {
					delete(child.temporary, f.Name)
				}
			}
			child.principals[rk] = e
		}
	}
	return added, nil
}

// detectProperties refreshes e's current values from its object.
func (s *Session) detectProperties(e *Entry) error {
	switch e.state {
	case Added, Unchanged, Modified:
	default:
		return nil
	}

	current, err := readValues(e.meta, e.object)
	if err != nil {
		return err
	}
	for name := range e.temporary {
		if !model.Equal(current[name], e.current[name]) {
			delete(e.temporary, name)
		}
	}

	if e.state == Added {
		e.current = current
		for _, k := range e.meta.Key {
			if model.IsNull(current[k]) {
				return &Error{
					Code:    ErrCodeInvalidKey,
					Message: fmt.Sprintf("key property %s is null", k),
					Entity:  e.meta.Name,
				}
			}
		}
		return s.reindex(e)
	}

	var changed []string
	for _, p := range e.meta.Properties {
		if model.Equal(current[p.Name], e.original[p.Name]) {
			continue
		}
		if e.meta.IsKey(p.Name) && !e.temporary[p.Name] {
			return &Error{
				Code: ErrCodeKeyModified,
				Message: fmt.Sprintf("key property %s changed from %s to %s",
					p.Name, model.Format(e.original[p.Name]), model.Format(current[p.Name])),
				Entity: e.meta.Name,
				Key:    e.OriginalKey().String(),
			}
		}
		changed = append(changed, p.Name)
	}

	e.current = current
	e.changed = changed
	switch {
	case len(changed) > 0 && e.state == Unchanged:
		s.stage(e, Modified)
	case len(changed) == 0 && e.state == Modified:
		s.stage(e, Unchanged)
	}
	return nil
}

func (c *CollectionSnapshot) members() []*Object {
	if c == nil {
		return nil
	}
	return c.Members
}

func containsObject(objs []*Object, o *Object) bool {
	for _, x := range objs {
		if x == o {
			return true
		}
	}
	return false
}
