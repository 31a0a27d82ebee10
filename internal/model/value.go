package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a sealed interface over the scalar types a property may hold.
// Only Null, String, Int, and Bool implement it. Floats are not supported:
// keys must compare exactly and snapshots must round-trip through storage.
type Value interface {
	value() // Sealed
}

// Null is the absent value.
type Null struct{}

func (Null) value() {}

// String is a text value.
type String string

func (String) value() {}

// Int is always int64.
type Int int64

func (Int) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal compares two values by type and content. A nil Value equals Null.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	}
	return false
}

// Format renders v for the debug view: strings quoted, null as <null>.
func Format(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "<null>"
	case String:
		return "'" + string(val) + "'"
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Bool:
		if val {
			return "True"
		}
		return "False"
	}
	return fmt.Sprintf("%v", v)
}

// Raw renders v without quoting, as used inside key braces.
func Raw(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	return Format(v)
}

// KindOf returns the kind of a non-null value.
func KindOf(v Value) (Kind, bool) {
	switch v.(type) {
	case String:
		return KindString, true
	case Int:
		return KindInt, true
	case Bool:
		return KindBool, true
	}
	return "", false
}

// FromAny converts a scalar decoded from YAML, JSON, or a database driver.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case []byte:
		return String(string(val)), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", val)
		}
		return Int(int64(val)), nil
	case bool:
		return Bool(val), nil
	case float32, float64:
		return nil, fmt.Errorf("floats are not supported: %v", val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// Coerce converts v to the given kind where the conversion is lossless.
// SQLite returns integers for bool columns; scenario files may quote ints.
func Coerce(v Value, kind Kind) (Value, error) {
	if IsNull(v) {
		return Null{}, nil
	}
	switch kind {
	case KindString:
		if s, ok := v.(String); ok {
			return s, nil
		}
	case KindInt:
		switch val := v.(type) {
		case Int:
			return val, nil
		case String:
			n, err := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
			if err == nil {
				return Int(n), nil
			}
		}
	case KindBool:
		switch val := v.(type) {
		case Bool:
			return val, nil
		case Int:
			if val == 0 || val == 1 {
				return Bool(val == 1), nil
			}
		}
	}
	return nil, fmt.Errorf("cannot use %s as %s", Format(v), kind)
}

// ToDriver converts v to a database/sql argument.
func ToDriver(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	}
	return nil
}
