package engine

import (
	"cmp"
	"slices"
	"strings"

	"github.com/roach88/savepipe/internal/model"
)

// DebugView renders every tracked entry for inspection:
//
//	Store {StoreId: 1} Modified
//	    StoreId: 1 PK
//	    Name: 'New Books' Modified Originally 'Books'
//	    Items: [{StoreId: 1, ItemCode: lotr}]
//
// Entries are grouped by entity type, types in the order their first entry
// was staged, entries in staging order. Key properties come first in key
// order, then the remaining properties and the navigations, each
// alphabetically. Entries of a type that share a key, such as a Deleted
// row and the Added instance replacing it, are marked (Shared).
//
// The output is a diagnostic aid and carries no compatibility promise.
func (s *Session) DebugView() string {
	entries := s.Entries()
	slices.SortStableFunc(entries, func(a, b *Entry) int {
		return cmp.Compare(a.staged, b.staged)
	})

	shared := make(map[string]int)
	var types []string
	byType := make(map[string][]*Entry)
	for _, e := range entries {
		if !e.HasTemporaryKey() {
			shared[e.identity()]++
		}
		if _, ok := byType[e.meta.Name]; !ok {
			types = append(types, e.meta.Name)
		}
		byType[e.meta.Name] = append(byType[e.meta.Name], e)
	}

	var b strings.Builder
	for _, t := range types {
		for _, e := range byType[t] {
			writeEntry(&b, s, e, !e.HasTemporaryKey() && shared[e.identity()] > 1)
		}
	}
	return b.String()
}

func writeEntry(b *strings.Builder, s *Session, e *Entry, shared bool) {
	b.WriteString(e.meta.Name)
	if shared {
		b.WriteString(" (Shared)")
	}
	b.WriteString(" ")
	b.WriteString(e.Key().String())
	b.WriteString(" ")
	b.WriteString(e.state.String())
	b.WriteString("\n")

	for _, k := range e.meta.Key {
		writeProperty(b, e, k)
	}

	rest := make([]string, 0, len(e.meta.Properties))
	for _, p := range e.meta.Properties {
		if !e.meta.IsKey(p.Name) {
			rest = append(rest, p.Name)
		}
	}
	slices.Sort(rest)
	for _, name := range rest {
		writeProperty(b, e, name)
	}

	navs := make([]string, 0, len(e.meta.Relationships))
	for _, rel := range e.meta.Relationships {
		navs = append(navs, rel.Navigation)
	}
	slices.Sort(navs)
	for _, nav := range navs {
		members := e.object.Collection(nav)
		keys := make([]string, len(members))
		for i, m := range members {
			keys[i] = memberKey(s, m).String()
		}
		b.WriteString("    ")
		b.WriteString(nav)
		b.WriteString(": [")
		b.WriteString(strings.Join(keys, ", "))
		b.WriteString("]\n")
	}
}

func writeProperty(b *strings.Builder, e *Entry, name string) {
	b.WriteString("    ")
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(model.Format(e.Current(name)))
	if e.meta.IsKey(name) {
		b.WriteString(" PK")
	}
	if e.meta.IsForeignKey(name) {
		b.WriteString(" FK")
	}
	if e.temporary[name] {
		b.WriteString(" Temporary")
	}
	if e.state == Modified && slices.Contains(e.changed, name) {
		b.WriteString(" Modified Originally ")
		b.WriteString(model.Format(e.Original(name)))
	}
	b.WriteString("\n")
}

// memberKey returns the key of a collection member, read from its entry
// when tracked and from the object otherwise.
func memberKey(s *Session, m *Object) model.Key {
	if e := s.byObject[m]; e != nil {
		return e.Key()
	}
	meta, err := s.registry.Describe(m.Type())
	if err != nil {
		return nil
	}
	key := make(model.Key, len(meta.Key))
	for i, k := range meta.Key {
		key[i] = model.Field{Name: k, Value: m.Get(k)}
	}
	return key
}
