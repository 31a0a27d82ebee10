package model

import "fmt"

// OperationKind is the kind of a planned storage write.
type OperationKind int

const (
	Insert OperationKind = iota + 1
	Update
	Delete
)

func (k OperationKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("OperationKind(%d)", int(k))
}

// Operation is one row write handed to a storage collaborator.
//
// Values carries the columns to write after save-behavior filtering. For
// deletes it is empty. Key identifies the row; for inserts whose key is
// store generated, Generated names the key property the store must assign
// and the key value is a temporary placeholder.
//
// Temporary lists properties (in Key or Values) holding placeholders that
// stand for keys assigned earlier in the same batch.
type Operation struct {
	Kind      OperationKind
	Entity    *EntityMetadata
	Key       Key
	Values    Fields
	Generated string
	Temporary []string
}

// IsTemporary reports whether the named property carries a placeholder.
func (op Operation) IsTemporary(name string) bool {
	for _, t := range op.Temporary {
		if t == name {
			return true
		}
	}
	return false
}

// Substitute returns op with the placeholders named in Temporary replaced
// by keys assigned earlier in the batch. Placeholders not yet assigned are
// kept. op itself is not modified.
func (op Operation) Substitute(assigned map[int64]int64) Operation {
	if len(op.Temporary) == 0 {
		return op
	}
	replace := func(fs Fields) Fields {
		out := make(Fields, len(fs))
		copy(out, fs)
		for i, f := range out {
			if !op.IsTemporary(f.Name) {
				continue
			}
			if placeholder, ok := f.Value.(Int); ok {
				if id, ok := assigned[int64(placeholder)]; ok {
					out[i].Value = Int(id)
				}
			}
		}
		return out
	}
	op.Key = replace(op.Key)
	op.Values = replace(op.Values)
	return op
}

func (op Operation) String() string {
	return fmt.Sprintf("%s %s %s", op.Kind, op.Entity.Name, op.Key)
}

// OperationResult reports store-assigned values for the operation at Index.
type OperationResult struct {
	Index    int
	Assigned Fields
}
