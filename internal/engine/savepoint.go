package engine

import (
	"maps"
	"slices"

	"github.com/roach88/savepipe/internal/model"
)

// savepoint records enough session state to undo a graph walk that fails
// halfway. Entries are copied up front; object values are journaled on
// first write, since the walk may touch objects it has not tracked yet.
type savepoint struct {
	entries  []*Entry
	saved    map[*Entry]Entry
	byObject map[*Object]*Entry
	byKey    map[string]*Entry
	nextID   int
	clock    int64
	tempKeys int64

	values map[*Object]map[string]priorValue
}

type priorValue struct {
	value model.Value
	set   bool
}

func (s *Session) savepoint() *savepoint {
	sp := &savepoint{
		entries:  slices.Clone(s.entries),
		saved:    make(map[*Entry]Entry, len(s.entries)),
		byObject: maps.Clone(s.byObject),
		byKey:    maps.Clone(s.byKey),
		nextID:   s.nextID,
		clock:    s.clock.Current(),
		tempKeys: s.tempKeys.Current(),
		values:   make(map[*Object]map[string]priorValue),
	}
	for _, e := range s.entries {
		c := *e
		c.current = maps.Clone(e.current)
		c.original = maps.Clone(e.original)
		c.temporary = maps.Clone(e.temporary)
		c.changed = slices.Clone(e.changed)
		c.snapshots = maps.Clone(e.snapshots)
		c.principals = maps.Clone(e.principals)
		sp.saved[e] = c
	}
	s.sp = sp
	return sp
}

// release ends the savepoint, keeping every change made since.
func (s *Session) release(sp *savepoint) {
	if s.sp == sp {
		s.sp = nil
	}
}

// rollback puts the session and every object it wrote back to how they
// were when sp was taken.
func (s *Session) rollback(sp *savepoint) {
	s.release(sp)
	for obj, prior := range sp.values {
		for name, p := range prior {
			if p.set {
				obj.values[name] = p.value
			} else {
				delete(obj.values, name)
			}
		}
	}
	for e, c := range sp.saved {
		*e = c
	}
	s.entries = sp.entries
	s.byObject = sp.byObject
	s.byKey = sp.byKey
	s.nextID = sp.nextID
	s.clock = NewClockAt(sp.clock)
	s.tempKeys = NewClockAt(sp.tempKeys)
	s.logger.Debug("rolled back graph walk", "entries", len(s.entries))
}

// setValue writes a property on obj on behalf of the session, journaling
// the prior value while a savepoint is open.
func (s *Session) setValue(obj *Object, name string, v model.Value) {
	if sp := s.sp; sp != nil {
		prior := sp.values[obj]
		if prior == nil {
			prior = make(map[string]priorValue)
			sp.values[obj] = prior
		}
		if _, seen := prior[name]; !seen {
			old, ok := obj.values[name]
			prior[name] = priorValue{value: old, set: ok}
		}
	}
	obj.Set(name, v)
}
