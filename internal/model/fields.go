package model

import (
	"strconv"
	"strings"
)

// Field is one named value.
type Field struct {
	Name  string
	Value Value
}

// Fields is an ordered list of named values. Order is meaningful: it is
// the column order of writes and the key order of identities.
type Fields []Field

// Key is the ordered primary-key values of one entity.
type Key = Fields

// Get returns the named value, or Null when absent.
func (fs Fields) Get(name string) Value {
	for _, f := range fs {
		if f.Name == name {
			return f.Value
		}
	}
	return Null{}
}

// Has reports whether fs contains name.
func (fs Fields) Has(name string) bool {
	for _, f := range fs {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Names returns the field names in order.
func (fs Fields) Names() []string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return names
}

// Identity returns an exact-bytes string usable as a map key. Values of
// different kinds never collide.
func (fs Fields) Identity() string {
	var b strings.Builder
	for i, f := range fs {
		if i > 0 {
			b.WriteByte(0)
		}
		switch v := f.Value.(type) {
		case String:
			b.WriteString("s")
			b.WriteString(strconv.Quote(string(v)))
		case Int:
			b.WriteString("i")
			b.WriteString(strconv.FormatInt(int64(v), 10))
		case Bool:
			b.WriteString("b")
			b.WriteString(strconv.FormatBool(bool(v)))
		default:
			b.WriteString("n")
		}
	}
	return b.String()
}

// String renders the key the way the debug view shows it:
// {StoreId: 1, ItemCode: lotr}.
func (fs Fields) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(Raw(f.Value))
	}
	b.WriteByte('}')
	return b.String()
}

// Equal compares two field lists by name, order and value.
func (fs Fields) Equal(other Fields) bool {
	if len(fs) != len(other) {
		return false
	}
	for i := range fs {
		if fs[i].Name != other[i].Name || !Equal(fs[i].Value, other[i].Value) {
			return false
		}
	}
	return true
}
